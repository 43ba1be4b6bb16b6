package llm

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
)

func TestGemini_EmptyKeyIsUnavailable(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "", nil)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)

	_, err = NewGeminiEmbedder(context.Background(), "", "", 768, 0, nil)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("According to "), genai.Text("Article 1.")}},
		}},
	}
	text, err := extractText(resp)
	require.NoError(t, err)
	assert.Equal(t, "According to Article 1.", text)

	_, err = extractText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)

	_, err = extractText(nil)
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)
}
