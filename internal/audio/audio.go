package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
)

// ErrInvalidAudio marks input that failed decoding or sanity checks.
// Callers map it to a client error.
var ErrInvalidAudio = errors.New("invalid audio")

// Clip holds decoded PCM as interleaved float64 samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// Frames returns the number of per-channel sample frames.
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Decode reads a WAV payload into a Clip. The reader must be seekable;
// handlers buffer uploads in memory so the same bytes can be re-read.
func Decode(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrInvalidAudio)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: decode pcm: %v", ErrInvalidAudio, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format header", ErrInvalidAudio)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}

	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// Validate checks the clip against the configured duration bounds.
func Validate(c *Clip, cfg config.AudioConfig) error {
	if c == nil || len(c.Samples) == 0 {
		return fmt.Errorf("%w: empty audio", ErrInvalidAudio)
	}
	dur := c.Duration()
	if dur < cfg.MinDurationSec {
		return fmt.Errorf("%w: duration %.3fs below minimum %.1fs", ErrInvalidAudio, dur, cfg.MinDurationSec)
	}
	if dur > cfg.MaxDurationSec {
		return fmt.Errorf("%w: duration %.1fs exceeds maximum %.0fs", ErrInvalidAudio, dur, cfg.MaxDurationSec)
	}
	return nil
}

// Normalize downmixes to mono and resamples to targetRate, returning
// little-endian 16-bit PCM ready for the inference engine. Resampling is
// linear interpolation: deterministic and cheap, at the cost of some
// high-frequency fidelity versus a windowed-sinc filter.
func Normalize(c *Clip, targetRate int) []byte {
	mono := downmix(c)
	if c.SampleRate != targetRate {
		mono = resample(mono, c.SampleRate, targetRate)
	}
	return toPCM16(mono)
}

func downmix(c *Clip) []float64 {
	if c.Channels == 1 {
		return c.Samples
	}
	frames := c.Frames()
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		mono[i] = sum / float64(c.Channels)
	}
	return mono
}

func resample(samples []float64, srcRate, dstRate int) []float64 {
	if len(samples) == 0 || srcRate == dstRate {
		return samples
	}
	n := int(float64(len(samples)) * float64(dstRate) / float64(srcRate))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	ratio := float64(len(samples)-1) / float64(n-1)
	if n == 1 {
		ratio = 0
	}
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

func toPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeWAV writes 16-bit mono PCM as a WAV file, used to stage audio for
// subprocess engines.
func EncodeWAV(ws io.WriteSeeker, pcm []byte, sampleRate int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
