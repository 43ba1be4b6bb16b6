package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

const (
	DefaultDatasetsServerURL = "https://datasets-server.huggingface.co"
	defaultPageSize          = 100
	defaultPagePause         = 100 * time.Millisecond
	pageTimeout              = 60 * time.Second
	maxErrorBody             = 2048
)

// HuggingFaceSource pages through the rows endpoint of the HuggingFace
// datasets server for one dataset split.
type HuggingFaceSource struct {
	baseURL    string
	dataset    string
	name       string
	pageSize   int
	pause      time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// HuggingFaceOption customizes a HuggingFaceSource.
type HuggingFaceOption func(*HuggingFaceSource)

// WithPageSize overrides the number of rows requested per page.
func WithPageSize(n int) HuggingFaceOption {
	return func(s *HuggingFaceSource) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPagePause sets the delay between page requests.
func WithPagePause(d time.Duration) HuggingFaceOption {
	return func(s *HuggingFaceSource) { s.pause = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HuggingFaceOption {
	return func(s *HuggingFaceSource) { s.httpClient = c }
}

// NewHuggingFaceSource creates a source for dataset (owner/name) whose
// documents are stamped with the provenance name.
func NewHuggingFaceSource(baseURL, dataset, name string, logger *zap.Logger, opts ...HuggingFaceOption) *HuggingFaceSource {
	if baseURL == "" {
		baseURL = DefaultDatasetsServerURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HuggingFaceSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dataset:    dataset,
		name:       name,
		pageSize:   defaultPageSize,
		pause:      defaultPagePause,
		httpClient: &http.Client{Timeout: pageTimeout},
		logger:     logger.Named("huggingface"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HuggingFaceSource) Name() string { return s.name }

// URL is the public dataset page.
func (s *HuggingFaceSource) URL() string {
	return "https://huggingface.co/datasets/" + s.dataset
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int             `json:"row_idx"`
		Row    json.RawMessage `json:"row"`
	} `json:"rows"`
}

// Load pages until the server returns a short page or limit is reached.
// Rows with a blank question or answer are dropped. A failing page after
// the first ends the load with the entries read so far.
func (s *HuggingFaceSource) Load(ctx context.Context, limit int) ([]models.DatasetEntry, error) {
	s.logger.Info("loading dataset", zap.String("dataset", s.dataset), zap.Int("limit", limit))

	var entries []models.DatasetEntry
	for offset := 0; ; offset += s.pageSize {
		page, err := s.fetchPage(ctx, offset)
		if err != nil {
			if offset == 0 || ctx.Err() != nil {
				return nil, err
			}
			s.logger.Warn("stopping at failed page", zap.Int("offset", offset), zap.Error(err))
			break
		}

		for _, r := range page.Rows {
			var entry models.DatasetEntry
			if err := json.Unmarshal(r.Row, &entry); err != nil {
				s.logger.Warn("skipping unparsable row", zap.Int("row", r.RowIdx), zap.Error(err))
				continue
			}
			if strings.TrimSpace(entry.Question) == "" || strings.TrimSpace(entry.Answer) == "" {
				continue
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				s.logger.Info("dataset loaded", zap.Int("entries", len(entries)))
				return entries, nil
			}
		}

		if len(page.Rows) < s.pageSize {
			break
		}
		if err := sleep(ctx, s.pause); err != nil {
			return nil, err
		}
	}

	s.logger.Info("dataset loaded", zap.Int("entries", len(entries)))
	return entries, nil
}

func (s *HuggingFaceSource) fetchPage(ctx context.Context, offset int) (*rowsResponse, error) {
	q := url.Values{}
	q.Set("dataset", s.dataset)
	q.Set("config", "default")
	q.Set("split", "train")
	q.Set("offset", fmt.Sprint(offset))
	q.Set("length", fmt.Sprint(s.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create rows request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "luisamigo-api")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rows at offset %d: %w", offset, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("fetch rows at offset %d: status %d: %s", offset, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var page rowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode rows at offset %d: %w", offset, err)
	}
	return &page, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
