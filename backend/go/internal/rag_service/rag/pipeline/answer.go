package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"
)

// Answerer runs retrieval followed by generation for one question.
type Answerer struct {
	retrieval *RetrievalPipeline
	qa        *QAPipeline
	log       *logger.Logger
}

// NewAnswerer creates a new Answerer.
func NewAnswerer(retrieval *RetrievalPipeline, qa *QAPipeline, log *logger.Logger) *Answerer {
	return &Answerer{retrieval: retrieval, qa: qa, log: log}
}

// Answer answers question from the topK closest passages.
//
// When generation fails the returned Answer is not nil: it carries the
// retrieved Sources and an empty Text, alongside the ModelUnavailable error.
func (a *Answerer) Answer(ctx context.Context, question string, topK int, filters map[string]string) (*schema.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is blank", schema.ErrEmptyInput)
	}

	results, err := a.retrieval.Run(ctx, question, topK, filters)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no passages matched", schema.ErrRetrievalUnavailable)
	}

	answer := &schema.Answer{Sources: results}
	text, err := a.qa.Run(ctx, question, results)
	if err != nil {
		return answer, err
	}
	answer.Text = text
	return answer, nil
}
