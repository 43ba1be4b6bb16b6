package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

var (
	articlePattern = regexp.MustCompile(`(?i)(?:artículo|articulo|article)\s+(\d+[a-z]?(?:\s+bis)?(?:\s+ter)?)`)
	lawPattern     = regexp.MustCompile(`(?i)(?:Constitución|Constitucion|Código|Codigo|Ley|Constitution|Code|Law)\s+[A-Za-zÁÉÍÓÚáéíóúÑñÜü\s]+`)
)

// ValidationResult is advisory: Valid is true iff no article citation is
// missing from the context.
type ValidationResult struct {
	Valid    bool
	Warnings []string
}

// HallucinationValidator cross-checks citations in a generated answer against
// the retrieved documents. It never fails.
type HallucinationValidator struct {
	logger *zap.Logger
}

func NewHallucinationValidator(logger *zap.Logger) *HallucinationValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HallucinationValidator{logger: logger.Named("validator")}
}

// Validate reports one warning per distinct article citation in answer that no
// context reference contains. Named-instrument mismatches are only logged.
func (v *HallucinationValidator) Validate(answer string, docs []models.ReferenceDocument) ValidationResult {
	refs := contextReferences(docs)
	warnings := []string{}

	seen := make(map[string]bool)
	for _, article := range extractArticles(answer) {
		key := strings.ToLower(article)
		if seen[key] {
			continue
		}
		seen[key] = true
		if !referenceInContext(article, refs) {
			w := fmt.Sprintf("Possible hallucination: '%s' is mentioned but not present in the provided context", article)
			warnings = append(warnings, w)
			v.logger.Warn(w)
		}
	}

	for _, law := range extractLaws(answer) {
		if !lawInContext(law, refs) {
			v.logger.Debug("named instrument not found in context", zap.String("law", law))
		}
	}

	return ValidationResult{Valid: len(warnings) == 0, Warnings: warnings}
}

func extractArticles(text string) []string {
	matches := articlePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func extractLaws(text string) []string {
	matches := lawPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m))
	}
	return out
}

// contextReferences collects each document's legal reference plus the article
// numbers cited in its answer.
func contextReferences(docs []models.ReferenceDocument) []string {
	var refs []string
	for _, d := range docs {
		if ref := strings.TrimSpace(d.LawReference); ref != "" {
			refs = append(refs, ref)
		}
		refs = append(refs, extractArticles(d.Answer)...)
	}
	return refs
}

func referenceInContext(ref string, refs []string) bool {
	needle := strings.ToLower(strings.TrimSpace(ref))
	for _, r := range refs {
		if strings.Contains(strings.ToLower(strings.TrimSpace(r)), needle) {
			return true
		}
	}
	return false
}

func lawInContext(law string, refs []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(law))
	for _, r := range refs {
		if shareKeywords(normalized, strings.ToLower(strings.TrimSpace(r)), 2) {
			return true
		}
	}
	return false
}

// shareKeywords reports whether a and b have at least threshold words in common,
// counting only words longer than three characters.
func shareKeywords(a, b string, threshold int) bool {
	words := strings.Fields(b)
	matches := 0
	for _, w := range strings.Fields(a) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		for _, other := range words {
			if w == other {
				matches++
				break
			}
		}
	}
	return matches >= threshold
}
