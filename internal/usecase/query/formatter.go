package query

import (
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

// Disclaimer must appear exactly once in every final answer.
const Disclaimer = "This is academic material and does not constitute professional legal advice."

const maxExcerptRunes = 200

// ResponseFormatter turns generation output and retrieved evidence into an
// AnswerPackage.
type ResponseFormatter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewResponseFormatter(logger *zap.Logger) *ResponseFormatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseFormatter{logger: logger.Named("formatter"), now: time.Now}
}

// Format builds the package for the evidence-present branch. Citations keep
// retrieval order.
func (f *ResponseFormatter) Format(answer string, docs []models.ScoredDocument, meta models.Metadata) *models.AnswerPackage {
	sources := make([]models.Citation, 0, len(docs))
	for _, sd := range docs {
		score := sd.Score
		sources = append(sources, models.Citation{
			DocumentID:      sd.Document.ExternalID,
			Excerpt:         Excerpt(sd.Document.Answer),
			LawReference:    sd.Document.LawReference,
			Source:          sd.Document.Source,
			SimilarityScore: &score,
		})
	}

	meta.DocumentsRetrieved = len(docs)
	meta.Timestamp = f.now().UTC()

	f.logger.Debug("response formatted", zap.Int("sources", len(sources)), zap.String("request_id", meta.RequestID))
	return &models.AnswerPackage{
		Answer:     EnsureDisclaimer(answer),
		Sources:    sources,
		Metadata:   meta,
		Disclaimer: Disclaimer,
	}
}

// FormatInsufficient builds the package for the insufficient-evidence branch:
// no sources, and the answer always states the limitation.
func (f *ResponseFormatter) FormatInsufficient(answer string, meta models.Metadata) *models.AnswerPackage {
	if !strings.Contains(answer, LimitationNotice) {
		answer = LimitationNotice + "\n\n" + strings.TrimSpace(answer)
	}

	meta.DocumentsRetrieved = 0
	meta.InsufficientEvidence = true
	meta.Timestamp = f.now().UTC()

	return &models.AnswerPackage{
		Answer:     EnsureDisclaimer(answer),
		Sources:    []models.Citation{},
		Metadata:   meta,
		Disclaimer: Disclaimer,
	}
}

// Excerpt caps text at 200 characters, replacing the tail with an ellipsis
// when it is longer.
func Excerpt(text string) string {
	if utf8.RuneCountInString(text) <= maxExcerptRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxExcerptRunes-3]) + "..."
}

// EnsureDisclaimer appends the disclaimer unless the answer already contains
// it verbatim. Repeated copies emitted by the model are dropped.
func EnsureDisclaimer(answer string) string {
	if i := strings.Index(answer, Disclaimer); i >= 0 {
		head := answer[:i+len(Disclaimer)]
		tail := strings.ReplaceAll(answer[i+len(Disclaimer):], Disclaimer, "")
		return head + tail
	}
	if strings.TrimSpace(answer) == "" {
		return Disclaimer
	}
	return strings.TrimRight(answer, " \t\n") + "\n\n" + Disclaimer
}
