package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByCategory(t *testing.T) {
	err := fmt.Errorf("embed question: %w", ProviderCallFailed("openai", 502, "bad gateway", nil))

	assert.ErrorIs(t, err, ErrProviderCallFailed)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrUnknownProvider)
}

func TestUnknownProviderIsDistinctFromUnavailable(t *testing.T) {
	unknown := UnknownProvider("watson")
	unavailable := ProviderUnavailable("openai", "missing API key")

	assert.ErrorIs(t, unknown, ErrUnknownProvider)
	assert.NotErrorIs(t, unknown, ErrProviderUnavailable)
	assert.ErrorIs(t, unavailable, ErrProviderUnavailable)
	assert.NotErrorIs(t, unavailable, ErrUnknownProvider)
}

func TestUnwrapPreservesCause(t *testing.T) {
	err := ProviderCallFailed("anthropic", 0, "", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation("question is required"), http.StatusBadRequest},
		{ErrInsufficientContext, http.StatusUnprocessableEntity},
		{ProviderUnavailable("openai", "no key"), http.StatusServiceUnavailable},
		{ProviderCallFailed("openai", 500, "boom", nil), http.StatusServiceUnavailable},
		{Internal("db", errors.New("disk")), http.StatusInternalServerError},
		{UnknownProvider("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Category), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	callErr := ProviderCallFailed("openai", 401, `{"error":"invalid key sk-123"}`, nil)
	assert.NotContains(t, callErr.PublicMessage(), "sk-123")
	assert.Contains(t, callErr.Error(), "sk-123")

	internal := Internal("scan embeddings", errors.New("table missing"))
	assert.Equal(t, "an internal error occurred", internal.PublicMessage())

	v := Validation("topK must be between %d and %d", 1, 20)
	assert.Equal(t, "topK must be between 1 and 20", v.PublicMessage())
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	wrapped := fmt.Errorf("outer: %w", Validation("bad"))
	assert.Equal(t, CategoryValidation, From(wrapped).Category)

	plain := From(errors.New("plain"))
	assert.Equal(t, CategoryInternal, plain.Category)
}
