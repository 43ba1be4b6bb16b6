package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

func TestBuildPrompt(t *testing.T) {
	b := NewPromptBuilder(nil)
	withRef := scored("a", "Amparo protects against acts of authority.", "Article 103 Constitution", 0.9)
	bare := scored("b", "Bare answer.", "", 0.5)
	bare.Document.Category = ""
	bare.Document.Question = ""

	prompt := b.Build("What is amparo?", []models.ScoredDocument{withRef, bare})

	assert.True(t, strings.HasPrefix(prompt, systemPrompt))
	assert.Contains(t, prompt, "CONTEXT 1:\n[Source: test-dataset]\nLegal Reference: Article 103 Constitution\nSubject: Constitutional\n")
	assert.Contains(t, prompt, "Original Question: question for a\nAnswer: Amparo protects against acts of authority.\n")
	assert.Contains(t, prompt, "CONTEXT 2:\n[Source: test-dataset]\n\nAnswer: Bare answer.\n")
	assert.NotContains(t, prompt, "CONTEXT 3:")
	assert.Less(t, strings.Index(prompt, "CONTEXT 2:"), strings.Index(prompt, "## Student Question\n\nWhat is amparo?"))
	assert.True(t, strings.HasSuffix(prompt, "following the rules above.\n"))

	assert.Equal(t, prompt, b.Build("What is amparo?", []models.ScoredDocument{withRef, bare}), "rendering is deterministic")
}

func TestBuildInsufficientPrompt(t *testing.T) {
	prompt := NewPromptBuilder(nil).BuildInsufficient("What is the law of the sea?")

	assert.NotContains(t, prompt, "CONTEXT 1:")
	assert.Contains(t, prompt, "No relevant legal context was found")
	assert.Contains(t, prompt, "What is the law of the sea?")
	assert.Contains(t, prompt, LimitationNotice)
}

func TestSystemPromptCarriesRules(t *testing.T) {
	for _, rule := range []string{"USE ONLY THE PROVIDED CONTEXT", "CITE THE LEGAL BASIS", "PEDAGOGICAL STYLE", "DISCLAIMER", Disclaimer} {
		assert.Contains(t, systemPrompt, rule)
	}
}
