package ingest

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips markup, composes Unicode to NFC and collapses every
// whitespace run to a single space.
func Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = stripHTML(text)
	text = norm.NFC.String(text)
	return strings.Join(strings.Fields(text), " ")
}

func stripHTML(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	return doc.Text()
}

// Tried in order; the first match wins.
var legalReferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:artículo|articulo|article)\s+\d+[a-z]?(?:\s+bis)?(?:\s+ter)?`),
	regexp.MustCompile(`(?i)\bart\.?\s+\d+[a-z]?`),
	regexp.MustCompile(`(?i)(?:constitución|constitucion|código|codigo|ley)\s+[a-záéíóúñü\s]+`),
}

// ExtractLegalReference returns the first article or law citation found in
// text, or "" when there is none.
func ExtractLegalReference(text string) string {
	for _, re := range legalReferencePatterns {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// Category names assigned by InferCategory.
const (
	CategoryConstitutional = "Constitutional"
	CategoryCriminal       = "Criminal"
	CategoryCivil          = "Civil"
	CategoryLabor          = "Labor"
	CategoryCommercial     = "Commercial"
	CategoryAdministrative = "Administrative"
	CategoryGeneral        = "General"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryConstitutional, []string{"constitucional", "constitución", "constitution"}},
	{CategoryCriminal, []string{"penal", "delito", "criminal", "crime"}},
	{CategoryCivil, []string{"civil", "contrato", "contract"}},
	{CategoryLabor, []string{"laboral", "trabajo", "labor", "employment"}},
	{CategoryCommercial, []string{"mercantil", "comercio", "commercial"}},
	{CategoryAdministrative, []string{"administrativo", "administración pública", "administrative"}},
}

// InferCategory assigns a subject-matter category from keywords in the
// question and answer. Earlier categories take precedence.
func InferCategory(question, answer string) string {
	text := strings.ToLower(question + " " + answer)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// ExternalID is stable for a given dataset position and content.
func ExternalID(index int, question, answer string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(question + "|" + answer))
	return fmt.Sprintf("barcenas-%d-%08x", index, h.Sum32())
}
