package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "barcenas.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSourceLoad(t *testing.T) {
	path := writeFile(t, `{"question":"¿Qué es el amparo?","answer":"Un juicio."}

not json
{"question":"","answer":"orphan"}
{"question":"¿Qué es un contrato?","answer":"Un acuerdo.","context":"civil"}
`)
	src := NewFileSource(path, "", zaptest.NewLogger(t))

	entries, err := src.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "¿Qué es el amparo?", entries[0].Question)
	assert.Equal(t, "civil", entries[1].Context)

	assert.Equal(t, "barcenas", src.Name())
	assert.Equal(t, "file://"+path, src.URL())
}

func TestFileSourceLimit(t *testing.T) {
	path := writeFile(t, `{"question":"a","answer":"1"}
{"question":"b","answer":"2"}
{"question":"c","answer":"3"}
`)
	entries, err := NewFileSource(path, "named", nil).Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource("", "x", nil).Load(context.Background(), 0)
	assert.ErrorIs(t, err, errEmptyPath)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), "x", nil).Load(context.Background(), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
