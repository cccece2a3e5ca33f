package llms

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/llm"
	"ragdesk/backend/go/internal/rag_service/rag/guard"
	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
)

// Adapter adapts an llm.LLM client to the generic LLM interface.
type Adapter struct {
	client llm.LLM
	guard  *guard.Guard
}

// NewAdapter creates a new adapter.
func NewAdapter(client llm.LLM, g *guard.Guard) *Adapter {
	if g == nil {
		g = guard.New("llm", 0, nil)
	}
	return &Adapter{client: client, guard: g}
}

// Generate sends prompt as one non-streaming completion. A blank completion
// is reported as ModelUnavailable rather than passed on as an answer.
func (a *Adapter) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := a.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.client.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: %s returned an empty completion", schema.ErrModelUnavailable, a.client.ModelName())
	}
	return out, nil
}

// ModelName returns the underlying model name.
func (a *Adapter) ModelName() string {
	return a.client.ModelName()
}

// compile-time check to ensure Adapter implements the LLM interface
var _ interfaces.LLM = (*Adapter)(nil)
