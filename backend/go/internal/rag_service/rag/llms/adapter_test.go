package llms

import (
	"context"
	"errors"
	"testing"
	"time"

	"ragdesk/backend/go/internal/rag_service/rag/guard"
	"ragdesk/backend/go/internal/rag_service/rag/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	reply string
	err   error
	block bool
}

func (s *stubLLM) ModelName() string { return "stub" }
func (s *stubLLM) Generate(ctx context.Context, _ string) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func TestAdapter_Generate(t *testing.T) {
	a := NewAdapter(&stubLLM{reply: "Annual leave is 20 days."}, nil)
	out, err := a.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Annual leave is 20 days.", out)
	assert.Equal(t, "stub", a.ModelName())
}

func TestAdapter_Failures(t *testing.T) {
	cases := map[string]*stubLLM{
		"error":   {err: errors.New("502 bad gateway")},
		"blank":   {reply: "  \n"},
		"timeout": {block: true},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(stub, guard.New("llm", 20*time.Millisecond, nil))
			out, err := a.Generate(context.Background(), "prompt")
			assert.Empty(t, out)
			assert.ErrorIs(t, err, schema.ErrModelUnavailable)
		})
	}
}
