package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// rowsServer serves total synthetic rows in pages; row 1 has a blank answer.
func rowsServer(t *testing.T, total int, failAtOffset int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/rows", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "owner/legal", q.Get("dataset"))
		assert.Equal(t, "default", q.Get("config"))
		assert.Equal(t, "train", q.Get("split"))

		offset, _ := strconv.Atoi(q.Get("offset"))
		length, _ := strconv.Atoi(q.Get("length"))
		if offset == failAtOffset {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}

		type row struct {
			RowIdx int               `json:"row_idx"`
			Row    map[string]string `json:"row"`
		}
		rows := []row{}
		for i := offset; i < min(offset+length, total); i++ {
			answer := fmt.Sprintf("answer %d", i)
			if i == 1 {
				answer = " "
			}
			rows = append(rows, row{RowIdx: i, Row: map[string]string{"question": fmt.Sprintf("question %d", i), "answer": answer}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHuggingFaceLoadPages(t *testing.T) {
	srv, calls := rowsServer(t, 7, -1)
	src := NewHuggingFaceSource(srv.URL, "owner/legal", "Legal", zaptest.NewLogger(t), WithPageSize(3), WithPagePause(0))

	entries, err := src.Load(context.Background(), 0)
	require.NoError(t, err)

	assert.Len(t, entries, 6, "the blank answer row is dropped")
	assert.Equal(t, "question 0", entries[0].Question)
	assert.Equal(t, "question 2", entries[1].Question)
	assert.Equal(t, "answer 6", entries[5].Answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHuggingFaceLoadStopsAtLimit(t *testing.T) {
	srv, calls := rowsServer(t, 50, -1)
	src := NewHuggingFaceSource(srv.URL, "owner/legal", "Legal", nil, WithPageSize(3), WithPagePause(0))

	entries, err := src.Load(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHuggingFaceFirstPageFailure(t *testing.T) {
	srv, _ := rowsServer(t, 10, 0)
	src := NewHuggingFaceSource(srv.URL, "owner/legal", "Legal", nil, WithPagePause(0))

	_, err := src.Load(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHuggingFaceLaterPageFailureKeepsPartialResult(t *testing.T) {
	srv, _ := rowsServer(t, 10, 3)
	src := NewHuggingFaceSource(srv.URL, "owner/legal", "Legal", nil, WithPageSize(3), WithPagePause(0))

	entries, err := src.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHuggingFaceProvenance(t *testing.T) {
	src := NewHuggingFaceSource("", "Danielbrdz/Barcenas-Juridico-Mexicano-Dataset", "Barcenas-Juridico-Mexicano-Dataset", nil)
	assert.Equal(t, "Barcenas-Juridico-Mexicano-Dataset", src.Name())
	assert.Equal(t, "https://huggingface.co/datasets/Danielbrdz/Barcenas-Juridico-Mexicano-Dataset", src.URL())
	assert.Equal(t, DefaultDatasetsServerURL, src.baseURL)
}
