package statestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
)

type key struct {
	segment model.SegmentID
	field   string
}

// Memory is an in-memory quantization.StateStore.
type Memory struct {
	mu     sync.RWMutex
	states map[key]*quantization.State
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[key]*quantization.State)}
}

// Put stores the state of a segment field.
func (m *Memory) Put(segment model.SegmentID, field string, st *quantization.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key{segment, field}] = st
	return nil
}

// Get implements quantization.StateStore.
func (m *Memory) Get(_ context.Context, segment model.SegmentID, field string) (*quantization.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[key{segment, field}]
	if !ok {
		return nil, fmt.Errorf("%w: segment %d field %q", quantization.ErrStateNotFound, segment, field)
	}
	return st, nil
}
