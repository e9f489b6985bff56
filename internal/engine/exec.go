package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/kinyvoice/kinyvoice-core/internal/audio"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine shells out to a recognizer binary per utterance. The command
// receives a staged mono WAV file and must print {"text": ..., "confidence": ...}
// as JSON on stdout.
type execEngine struct {
	cmd   []string
	cfg   config.EngineConfig
	state atomic.Value // State
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newExecEngine(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	e := &execEngine{cmd: args, cfg: cfg}
	e.state.Store(StateUnloaded)
	return e, nil
}

func (e *execEngine) Load(ctx context.Context) error {
	e.state.Store(StateLoading)
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err != nil {
			e.state.Store(StateUnloaded)
			return fmt.Errorf("model path: %w", err)
		}
	}
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		e.state.Store(StateUnloaded)
		return fmt.Errorf("engine binary: %w", err)
	}
	e.state.Store(StateReady)
	return nil
}

func (e *execEngine) Unload() {
	e.state.Store(StateUnloaded)
}

func (e *execEngine) State() State {
	return e.state.Load().(State)
}

func (e *execEngine) Ready() bool {
	return e.State() == StateReady
}

func (e *execEngine) Transcribe(ctx context.Context, pcm []byte) (Result, error) {
	if !e.Ready() {
		return Result{}, ErrNotLoaded
	}

	file, err := os.CreateTemp(os.TempDir(), "kinyvoice_asr_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("%w: temp file: %v", ErrInference, err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, pcm, e.cfg.SampleRate); err != nil {
		return Result{}, fmt.Errorf("%w: stage wav: %v", ErrInference, err)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("%w: engine command: %v: %s", ErrInference, err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: decode engine response: %v", ErrInference, err)
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}
