package audio

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/maauso/voicetrack/internal/media"
)

// mockEngine implements media.Engine for testing.
type mockEngine struct {
	mock.Mock
}

var _ media.Engine = (*mockEngine)(nil)

func (m *mockEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockEngine) ApplyTempoChain(ctx context.Context, input, output string, stages []float64) error {
	args := m.Called(ctx, input, output, stages)
	return args.Error(0)
}

func (m *mockEngine) Concat(ctx context.Context, inputs []string, output string) error {
	args := m.Called(ctx, inputs, output)
	return args.Error(0)
}

func (m *mockEngine) Mix(ctx context.Context, graph media.MixGraph, output string) error {
	args := m.Called(ctx, graph, output)
	return args.Error(0)
}

func (m *mockEngine) GenerateSilence(ctx context.Context, seconds float64, output string) error {
	args := m.Called(ctx, seconds, output)
	return args.Error(0)
}

// writeOutput returns a Run hook that creates the file at argument index i.
func writeOutput(i int) func(mock.Arguments) {
	return func(args mock.Arguments) {
		_ = os.WriteFile(args.String(i), []byte("audio"), 0600)
	}
}
