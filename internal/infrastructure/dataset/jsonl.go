package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

const maxLineBytes = 4 * 1024 * 1024

var errEmptyPath = errors.New("dataset file path is empty")

// FileSource reads a local JSON Lines export, one {"question","answer"}
// object per line.
type FileSource struct {
	path   string
	name   string
	logger *zap.Logger
}

// NewFileSource creates a source for path. An empty name falls back to the
// file's base name.
func NewFileSource(path, name string, logger *zap.Logger) *FileSource {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, name: name, logger: logger.Named("jsonl")}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) URL() string { return "file://" + s.path }

// Load parses the file line by line. Blank lines are ignored; malformed
// lines and rows with a blank question or answer are skipped with a warning.
func (s *FileSource) Load(ctx context.Context, limit int) ([]models.DatasetEntry, error) {
	if s.path == "" {
		return nil, errEmptyPath
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var entries []models.DatasetEntry
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var entry models.DatasetEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if strings.TrimSpace(entry.Question) == "" || strings.TrimSpace(entry.Answer) == "" {
			s.logger.Warn("skipping incomplete line", zap.Int("line", line))
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}

	s.logger.Info("dataset file loaded", zap.String("path", s.path), zap.Int("entries", len(entries)))
	return entries, nil
}
