package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
)

// maxErrorBody bounds how much of a provider error response is kept for diagnostics.
const maxErrorBody = 2048

// postJSON sends body as JSON and decodes a 2xx response into out. Every
// failure is reported as a ProviderCallFailed carrying the provider name,
// the HTTP status and the raw provider message.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return apperror.Internal(fmt.Sprintf("failed to marshal %s request", provider), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return apperror.Internal(fmt.Sprintf("failed to create %s request", provider), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperror.ProviderCallFailed(provider, 0, transportMessage("request failed", err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperror.ProviderCallFailed(provider, resp.StatusCode, string(raw), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.ProviderCallFailed(provider, resp.StatusCode, "failed to decode response", err)
	}
	return nil
}

// transportMessage names timeouts and cancellations; other failures keep msg.
func transportMessage(msg string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	return msg
}

// IsCancellation reports whether err comes from the caller abandoning the
// call. Such failures say nothing about provider health.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}
