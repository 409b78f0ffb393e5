// Package nativetest provides testify mocks of the native engine contract.
package nativetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/native"
)

// MockEngine is a mock native.Engine.
type MockEngine struct {
	mock.Mock
}

// Name implements native.Engine.
func (m *MockEngine) Name() string {
	args := m.Called()
	return args.String(0)
}

// Load implements native.Engine.
func (m *MockEngine) Load(name string, data []byte) (native.Index, error) {
	args := m.Called(name, data)
	idx, _ := args.Get(0).(native.Index)
	return idx, args.Error(1)
}

// SupportsRadius implements native.Engine.
func (m *MockEngine) SupportsRadius() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockIndex is a mock native.Index.
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) results(args mock.Arguments) ([]native.Result, error) {
	rs, _ := args.Get(0).([]native.Result)
	return rs, args.Error(1)
}

// Search implements native.Index.
func (m *MockIndex) Search(ctx context.Context, req *native.Request) ([]native.Result, error) {
	return m.results(m.Called(ctx, req))
}

// SearchBinary implements native.Index.
func (m *MockIndex) SearchBinary(ctx context.Context, req *native.Request) ([]native.Result, error) {
	return m.results(m.Called(ctx, req))
}

// RadiusSearch implements native.Index.
func (m *MockIndex) RadiusSearch(ctx context.Context, req *native.Request) ([]native.Result, error) {
	return m.results(m.Called(ctx, req))
}

// SizeBytes implements native.Index.
func (m *MockIndex) SizeBytes() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

// Close implements native.Index.
func (m *MockIndex) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Results builds engine results from alternating doc and distance pairs.
func Results(pairs ...float32) []native.Result {
	out := make([]native.Result, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, native.Result{Doc: model.DocID(pairs[i]), Distance: pairs[i+1]})
	}
	return out
}
