package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

func TestExcerpt(t *testing.T) {
	short := strings.Repeat("a", 200)
	assert.Equal(t, short, Excerpt(short))

	long := strings.Repeat("b", 201)
	got := Excerpt(long)
	assert.Len(t, got, 200)
	assert.Equal(t, strings.Repeat("b", 197)+"...", got)

	accented := strings.Repeat("á", 250)
	got = Excerpt(accented)
	assert.Equal(t, 200, len([]rune(got)), "truncation counts characters, not bytes")

	assert.Equal(t, "", Excerpt(""))
}

func TestEnsureDisclaimer(t *testing.T) {
	tests := []struct {
		name   string
		answer string
	}{
		{"absent", "The answer."},
		{"already present", "The answer.\n\n" + Disclaimer},
		{"present mid text", "Intro. " + Disclaimer + " More text."},
		{"duplicated by model", Disclaimer + "\n" + Disclaimer},
		{"empty", ""},
		{"trailing whitespace", "The answer.\n\n  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureDisclaimer(tt.answer)
			assert.Equal(t, 1, strings.Count(got, Disclaimer))
		})
	}

	assert.Equal(t, "The answer.\n\n"+Disclaimer, EnsureDisclaimer("The answer."))
	assert.Equal(t, "Intro. "+Disclaimer+" More text.", EnsureDisclaimer("Intro. "+Disclaimer+" More text."))
}

func TestFormat(t *testing.T) {
	f := NewResponseFormatter(nil)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	docs := []models.ScoredDocument{
		scored("a", "first answer", "Article 1", 0.9),
		scored("b", strings.Repeat("x", 300), "", 0.4),
	}
	pkg := f.Format("Answer text", docs, models.Metadata{RequestID: "r", Category: "Civil", ProcessingTimeMs: 12})

	require.Len(t, pkg.Sources, 2)
	assert.Equal(t, "a", pkg.Sources[0].DocumentID)
	assert.Equal(t, "first answer", pkg.Sources[0].Excerpt)
	assert.Equal(t, "Article 1", pkg.Sources[0].LawReference)
	assert.Equal(t, "test-dataset", pkg.Sources[0].Source)
	assert.Equal(t, 0.9, *pkg.Sources[0].SimilarityScore)
	assert.Equal(t, 0.4, *pkg.Sources[1].SimilarityScore)
	assert.True(t, strings.HasSuffix(pkg.Sources[1].Excerpt, "..."))

	assert.Equal(t, 2, pkg.Metadata.DocumentsRetrieved)
	assert.Equal(t, "Civil", pkg.Metadata.Category)
	assert.Equal(t, fixed, pkg.Metadata.Timestamp)
	assert.Equal(t, int64(12), pkg.Metadata.ProcessingTimeMs)
	assert.Equal(t, Disclaimer, pkg.Disclaimer)
	assert.Equal(t, "Answer text\n\n"+Disclaimer, pkg.Answer)
}

func TestFormatInsufficient(t *testing.T) {
	f := NewResponseFormatter(nil)

	pkg := f.FormatInsufficient("Please rephrase.", models.Metadata{RequestID: "r", DocumentsRetrieved: 3})
	assert.True(t, pkg.Metadata.InsufficientEvidence)
	assert.Equal(t, 0, pkg.Metadata.DocumentsRetrieved)
	assert.NotNil(t, pkg.Sources)
	assert.Empty(t, pkg.Sources)
	assert.True(t, strings.HasPrefix(pkg.Answer, LimitationNotice))
	assert.Equal(t, 1, strings.Count(pkg.Answer, Disclaimer))

	stated := LimitationNotice + " Please ask your professor."
	pkg = f.FormatInsufficient(stated, models.Metadata{})
	assert.Equal(t, 1, strings.Count(pkg.Answer, LimitationNotice))
}
