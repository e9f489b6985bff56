// Package engine abstracts the speech recognition model behind a
// load/unload lifecycle and a single Transcribe call. The pipeline owns
// serialization; engines assume one inference call at a time.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
)

// Result captures recognizer output for one utterance.
type Result struct {
	Text       string
	Confidence float64
}

type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
)

var (
	// ErrNotLoaded is returned when Transcribe is called before Load
	// completed or after Unload.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrInference wraps model failures during a transcription call.
	ErrInference = errors.New("inference failed")
)

// Engine is the externally supplied recognition capability.
type Engine interface {
	Load(ctx context.Context) error
	Unload()
	State() State
	Ready() bool
	Transcribe(ctx context.Context, pcm []byte) (Result, error)
}

// New builds an engine from config.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return newExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
