// Package pipeline orchestrates a transcription request: validate and
// normalize audio, run inference against the serialized engine, enrich with
// accuracy metrics, persist, and announce the result.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kinyvoice/kinyvoice-core/internal/audio"
	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/engine"
	"github.com/kinyvoice/kinyvoice-core/internal/eval"
	"github.com/kinyvoice/kinyvoice-core/internal/protocol"
	"github.com/kinyvoice/kinyvoice-core/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrPersistence marks a transcription that succeeded at inference but could
// not be stored. It must surface as an error, never as a silent success.
var ErrPersistence = errors.New("persist transcription")

// EventPublisher announces persisted transcriptions. Implemented by
// bus.Client; nil disables publishing.
type EventPublisher interface {
	PublishTranscriptCreated(protocol.TranscriptCreated) error
}

// Pipeline coordinates single transcription requests. The engine is a single
// serialized resource: the lease channel holds one slot, acquired only around
// the inference call. Waiters queue without bound but abandon on context
// cancellation; the slot is FIFO-ish (runtime channel order), not a strict
// fairness contract.
type Pipeline struct {
	cfg    config.Config
	engine engine.Engine
	store  *store.Store
	events EventPublisher
	lease  chan struct{}
	log    *slog.Logger
	clock  func() time.Time

	transcriptions metric.Int64Counter
	inferSeconds   metric.Float64Histogram
	waitSeconds    metric.Float64Histogram
}

func New(cfg config.Config, eng engine.Engine, st *store.Store, events EventPublisher, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		engine: eng,
		store:  st,
		events: events,
		lease:  make(chan struct{}, 1),
		log:    log.With(slog.String("component", "pipeline")),
		clock:  time.Now,
	}

	meter := otel.Meter("kinyvoice-core/pipeline")
	var err error
	if p.transcriptions, err = meter.Int64Counter("asr_transcriptions_total",
		metric.WithDescription("Transcription attempts by outcome")); err != nil {
		p.log.Warn("failed to create counter", slogError(err))
	}
	if p.inferSeconds, err = meter.Float64Histogram("asr_inference_seconds",
		metric.WithDescription("Wall-clock duration of engine inference calls")); err != nil {
		p.log.Warn("failed to create histogram", slogError(err))
	}
	if p.waitSeconds, err = meter.Float64Histogram("asr_engine_wait_seconds",
		metric.WithDescription("Time spent waiting for the engine lease")); err != nil {
		p.log.Warn("failed to create histogram", slogError(err))
	}

	return p
}

// TranscribeOne runs the full pipeline for a buffered audio payload.
// referenceText, when non-empty, enables WER/CER enrichment; metric
// computation failures degrade the fields to absent rather than failing the
// request.
func (p *Pipeline) TranscribeOne(ctx context.Context, audioBytes []byte, referenceText string) (store.Record, error) {
	clip, err := audio.Decode(bytes.NewReader(audioBytes))
	if err != nil {
		p.count(ctx, "invalid_audio")
		return store.Record{}, err
	}
	if err := audio.Validate(clip, p.cfg.Audio); err != nil {
		p.count(ctx, "invalid_audio")
		return store.Record{}, err
	}

	pcm := audio.Normalize(clip, p.cfg.Engine.SampleRate)

	result, processing, err := p.infer(ctx, pcm)
	if err != nil {
		p.count(ctx, "inference_error")
		return store.Record{}, err
	}

	rec := store.Record{
		ID:             uuid.NewString(),
		Text:           result.Text,
		Confidence:     clamp01(result.Confidence),
		ProcessingTime: processing,
		CreatedAt:      p.clock().UTC(),
	}

	if referenceText != "" {
		rec.WER, rec.CER = p.scoreAgainstReference(referenceText, result.Text)
	}

	if err := p.store.Insert(ctx, rec); err != nil {
		p.count(ctx, "persistence_error")
		return store.Record{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	p.publish(rec)
	p.count(ctx, "ok")
	return rec, nil
}

// infer acquires the engine lease, runs inference, and times the engine call
// only. The lease is released on every exit path.
func (p *Pipeline) infer(ctx context.Context, pcm []byte) (engine.Result, float64, error) {
	waitStart := p.clock()
	select {
	case p.lease <- struct{}{}:
	case <-ctx.Done():
		return engine.Result{}, 0, ctx.Err()
	}
	defer func() { <-p.lease }()

	if p.waitSeconds != nil {
		p.waitSeconds.Record(ctx, p.clock().Sub(waitStart).Seconds())
	}

	inferCtx := ctx
	if t := p.cfg.Engine.InferTimeout; t > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(ctx, time.Duration(t)*time.Millisecond)
		defer cancel()
	}

	start := p.clock()
	result, err := p.engine.Transcribe(inferCtx, pcm)
	elapsed := p.clock().Sub(start).Seconds()
	if err != nil {
		return engine.Result{}, 0, err
	}
	if p.inferSeconds != nil {
		p.inferSeconds.Record(ctx, elapsed)
	}
	return result, elapsed, nil
}

// scoreAgainstReference computes WER/CER. Errors leave the fields absent.
func (p *Pipeline) scoreAgainstReference(reference, hypothesis string) (*float64, *float64) {
	var werPtr, cerPtr *float64
	if wer, err := eval.WER(reference, hypothesis); err != nil {
		p.log.Warn("wer computation failed", slogError(err))
	} else {
		werPtr = &wer
	}
	if cer, err := eval.CER(reference, hypothesis); err != nil {
		p.log.Warn("cer computation failed", slogError(err))
	} else {
		cerPtr = &cer
	}
	return werPtr, cerPtr
}

func (p *Pipeline) publish(rec store.Record) {
	if p.events == nil {
		return
	}
	evt := protocol.TranscriptCreated{
		ID:             rec.ID,
		Text:           rec.Text,
		Confidence:     rec.Confidence,
		ProcessingTime: rec.ProcessingTime,
		CreatedAt:      rec.CreatedAt,
	}
	if err := p.events.PublishTranscriptCreated(evt); err != nil {
		p.log.Warn("failed to publish transcript event", slogError(err))
	}
}

func (p *Pipeline) count(ctx context.Context, status string) {
	if p.transcriptions == nil {
		return
	}
	p.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
