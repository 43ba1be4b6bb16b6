package query

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

// LimitationNotice is the sentence the model must use when the context does
// not support a grounded answer.
const LimitationNotice = "With the information available I cannot give a legally grounded answer to this question."

const systemPrompt = `You are an academic legal assistant for law students.

## Your Role

Help students understand the law clearly and pedagogically. Act as a patient professor who explains legal concepts precisely.

## STRICT Rules

1. **USE ONLY THE PROVIDED CONTEXT**
   - Answer only from the legal context supplied below.
   - NEVER invent articles, thesis numbers or case law.
   - If the context is not enough, say explicitly:
     "` + LimitationNotice + `"

2. **ALWAYS CITE THE LEGAL BASIS**
   - When the context includes laws, articles or criteria, cite them explicitly.
   - Format: "According to [Law/Article/Criterion]..."
   - Distinguish between statutory norms, case-law criteria and doctrinal opinion.

3. **PEDAGOGICAL STYLE**
   - Clear, direct language suitable for undergraduate students.
   - Structure the answer as:
     a) Short summary (2-3 lines)
     b) Extended explanation grounded in the context
     c) Practical example when possible
   - Explain technical terms instead of assuming them.

4. **DISCLAIMER**
   - Always end with:
     "` + Disclaimer + `"
`

// PromptBuilder renders the generation prompt from the question and the
// retrieved evidence. Output depends only on its inputs.
type PromptBuilder struct {
	logger *zap.Logger
}

func NewPromptBuilder(logger *zap.Logger) *PromptBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptBuilder{logger: logger.Named("prompt")}
}

// Build renders the grounded prompt with one numbered context block per document.
func (b *PromptBuilder) Build(question string, docs []models.ScoredDocument) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n## Provided Context\n\n")
	sb.WriteString("The following legal context was retrieved from the knowledge base:\n\n")
	sb.WriteString("---\n")

	for i, sd := range docs {
		doc := sd.Document
		fmt.Fprintf(&sb, "CONTEXT %d:\n", i+1)
		fmt.Fprintf(&sb, "[Source: %s]\n", doc.Source)
		if ref := strings.TrimSpace(doc.LawReference); ref != "" {
			fmt.Fprintf(&sb, "Legal Reference: %s\n", ref)
		}
		if cat := strings.TrimSpace(doc.Category); cat != "" {
			fmt.Fprintf(&sb, "Subject: %s\n", cat)
		}
		sb.WriteString("\n")
		if q := strings.TrimSpace(doc.Question); q != "" {
			fmt.Fprintf(&sb, "Original Question: %s\n", q)
		}
		fmt.Fprintf(&sb, "Answer: %s\n", doc.Answer)
		sb.WriteString("\n---\n")
	}

	sb.WriteString("\n## Student Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Your Answer\n\n")
	sb.WriteString("Give a clear, grounded and pedagogical answer following the rules above.\n")

	prompt := sb.String()
	b.logger.Debug("prompt built", zap.Int("documents", len(docs)), zap.Int("length", len(prompt)))
	return prompt
}

// BuildInsufficient renders the reduced prompt used when retrieval found too
// little evidence. It carries no context blocks.
func (b *PromptBuilder) BuildInsufficient(question string) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n## Provided Context\n\n")
	sb.WriteString("No relevant legal context was found in the knowledge base.\n\n")
	sb.WriteString("## Student Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Your Answer\n\n")
	sb.WriteString("State clearly that you cannot answer with legal precision because of missing context, ")
	sb.WriteString("starting with \"" + LimitationNotice + "\" ")
	sb.WriteString("Suggest that the student rephrase the question or consult their professor or a qualified legal expert.\n")
	return sb.String()
}
