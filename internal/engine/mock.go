package engine

import (
	"context"
	"fmt"
	"sync/atomic"
)

// mockEngine is a deterministic stand-in for development and tests.
type mockEngine struct {
	state atomic.Value // State
}

func NewMock() Engine {
	m := &mockEngine{}
	m.state.Store(StateUnloaded)
	return m
}

func (m *mockEngine) Load(_ context.Context) error {
	m.state.Store(StateReady)
	return nil
}

func (m *mockEngine) Unload() {
	m.state.Store(StateUnloaded)
}

func (m *mockEngine) State() State {
	return m.state.Load().(State)
}

func (m *mockEngine) Ready() bool {
	return m.State() == StateReady
}

func (m *mockEngine) Transcribe(_ context.Context, pcm []byte) (Result, error) {
	if !m.Ready() {
		return Result{}, ErrNotLoaded
	}
	return Result{
		Text:       fmt.Sprintf("[mock transcript %d samples]", len(pcm)/2),
		Confidence: 0.9,
	}, nil
}
