package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
)

func TestMockLifecycle(t *testing.T) {
	eng := NewMock()
	if eng.State() != StateUnloaded {
		t.Fatalf("expected unloaded, got %v", eng.State())
	}

	if _, err := eng.Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before load, got %v", err)
	}

	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !eng.Ready() {
		t.Fatal("expected ready after load")
	}

	res, err := eng.Transcribe(context.Background(), make([]byte, 320))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected non-empty transcript")
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}

	eng.Unload()
	if _, err := eng.Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded after unload, got %v", err)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(config.EngineConfig{Mode: "gpu-cluster"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecCommandParsing(t *testing.T) {
	if _, err := newExecEngine(config.EngineConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
	eng, err := newExecEngine(config.EngineConfig{Mode: "exec", Command: "recognizer --beam 5", SampleRate: 16000})
	if err != nil {
		t.Fatalf("parse command: %v", err)
	}
	if eng.State() != StateUnloaded {
		t.Fatalf("expected unloaded state, got %v", eng.State())
	}
	if _, err := eng.Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}
