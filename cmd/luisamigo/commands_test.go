package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisamigo/luisamigo-api/internal/usecase/ingest"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LA_GENERATION_PROVIDER", "ollama")
	t.Setenv("LA_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("LA_EMBEDDING_DIMENSIONS", "3")
	t.Setenv("LA_SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ingest", "ask"})
}

func TestAskRequiresQuestion(t *testing.T) {
	setTestEnv(t)
	_, err := run(t, "ask")
	assert.Error(t, err)
}

func TestInvalidConfigurationFails(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LA_VECTOR_STORE", "cassandra")
	_, err := run(t, "ask", "¿Qué es el amparo?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LA_VECTOR_STORE")
}

func TestIngestFromEmptyFileReportsFailure(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	out, err := run(t, "ingest", "--file", path, "--limit", "5")
	require.ErrorIs(t, err, ingest.ErrEmptyDataset)

	// The run summary is printed before the error.
	start := bytes.IndexByte([]byte(out), '{')
	require.GreaterOrEqual(t, start, 0)
	var res ingest.Result
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(out[start:]))).Decode(&res))
	assert.False(t, res.Success)
	assert.Equal(t, "Barcenas-Juridico-Mexicano-Dataset", res.Source)
}

func TestIngestRejectsNegativeLimit(t *testing.T) {
	setTestEnv(t)
	_, err := run(t, "ingest", "--limit", "-1")
	assert.ErrorContains(t, err, "--limit")
}

func TestAskHidesProviderResponseBody(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model weights at /srv/models/internal missing"}`))
	}))
	defer ollama.Close()

	setTestEnv(t)
	t.Setenv("LA_OLLAMA_HOST", ollama.URL)

	_, err := run(t, "ask", "¿Qué es el amparo?")
	require.Error(t, err)
	assert.Equal(t, "provider_call_failed: the language model service is temporarily unavailable", err.Error())
	assert.NotContains(t, err.Error(), "/srv/models")
}
