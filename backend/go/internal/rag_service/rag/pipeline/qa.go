package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"
)

// DefaultPromptTemplate instructs the model to answer from the context only.
const DefaultPromptTemplate = `Use the following pieces of context to answer the question at the end.
If the context does not contain the answer, just say "I don't know", don't try to make up an answer.
Keep the answer concise and helpful.

Context: {context}

Question: {question}

Helpful Answer:`

const (
	placeholderContext  = "{context}"
	placeholderQuestion = "{question}"
)

// QAPipeline is responsible for generating an answer based on a query and retrieved documents.
type QAPipeline struct {
	llm      interfaces.LLM
	template string
	log      *logger.Logger
}

// NewQAPipeline creates a new QAPipeline. An empty template selects DefaultPromptTemplate.
func NewQAPipeline(llm interfaces.LLM, template string, log *logger.Logger) (*QAPipeline, error) {
	if template == "" {
		template = DefaultPromptTemplate
	}
	if !strings.Contains(template, placeholderContext) || !strings.Contains(template, placeholderQuestion) {
		return nil, fmt.Errorf("%w: prompt template must contain %s and %s", schema.ErrConfiguration, placeholderContext, placeholderQuestion)
	}
	return &QAPipeline{llm: llm, template: template, log: log}, nil
}

// BuildPrompt substitutes the passages and the verbatim question into the template.
// Both placeholders are replaced in one pass, so text inside a passage or the
// question is never substituted again.
func (p *QAPipeline) BuildPrompt(question string, results []schema.SearchResult) string {
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Document.Text
	}
	return strings.NewReplacer(
		placeholderContext, strings.Join(passages, "\n\n"),
		placeholderQuestion, question,
	).Replace(p.template)
}

// Run builds the prompt and makes a single completion call.
func (p *QAPipeline) Run(ctx context.Context, question string, results []schema.SearchResult) (string, error) {
	prompt := p.BuildPrompt(question, results)

	p.log.WithFields(map[string]interface{}{"passages": len(results), "prompt_chars": len(prompt)}).Debug("sending prompt to llm")
	answer, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		p.log.WithError(err).Error("llm failed to generate answer")
		return "", err
	}
	return answer, nil
}
