package models

import (
	"slices"
	"strings"
	"time"
)

// ReferenceDocument is one legal question/answer pair. It is never mutated
// after ingestion.
type ReferenceDocument struct {
	ID           int64     `json:"id,omitempty"`
	ExternalID   string    `json:"externalId"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	LawReference string    `json:"lawReference,omitempty"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	MinLevel     *int      `json:"minLevel,omitempty"`
	Source       string    `json:"source"`
	SourceURL    string    `json:"sourceUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CurrentEmbeddingVersion is stamped on every stored embedding. Bump it when
// the embedding model changes so stale vectors can be found and re-embedded.
const CurrentEmbeddingVersion = 1

// IndexItem pairs a document with its vector for upsertBatch.
type IndexItem struct {
	Document  ReferenceDocument
	Vector    []float32
	ModelName string
	Provider  string
}

// SearchFilters are optional query-time constraints. The zero value means
// unrestricted search.
type SearchFilters struct {
	Category string
	Tags     []string
	MaxLevel *int
	MinLevel *int
	MinScore float64
	Source   string
}

// IsEmpty reports whether no constraint is set.
func (f SearchFilters) IsEmpty() bool {
	return f.Category == "" && len(f.Tags) == 0 && f.MaxLevel == nil && f.MinLevel == nil && f.MinScore <= 0 && f.Source == ""
}

// Matches applies the metadata constraints (everything except MinScore).
// Documents without a level pass level constraints. Category comparison is
// case-insensitive and a document must carry every requested tag.
func (f SearchFilters) Matches(doc *ReferenceDocument) bool {
	if f.Category != "" && !strings.EqualFold(doc.Category, f.Category) {
		return false
	}
	if f.Source != "" && doc.Source != f.Source {
		return false
	}
	if doc.MinLevel != nil {
		if f.MaxLevel != nil && *doc.MinLevel > *f.MaxLevel {
			return false
		}
		if f.MinLevel != nil && *doc.MinLevel < *f.MinLevel {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !slices.Contains(doc.Tags, tag) {
			return false
		}
	}
	return true
}

// ScoredDocument is one entry of a RetrievalResult.
type ScoredDocument struct {
	Document ReferenceDocument
	Score    float64
}

// AskRequest is the caller-facing question contract.
type AskRequest struct {
	Question      string `json:"question" binding:"required"`
	Category      string `json:"materia,omitempty"`
	SemesterLevel *int   `json:"semesterLevel,omitempty" binding:"omitempty,min=1,max=10"`
	TopK          *int   `json:"topK,omitempty" binding:"omitempty,min=1,max=20"`
}

// Citation is one source entry of an AnswerPackage.
type Citation struct {
	DocumentID      string   `json:"documentId"`
	Excerpt         string   `json:"text"`
	LawReference    string   `json:"lawReference,omitempty"`
	Source          string   `json:"source"`
	SimilarityScore *float64 `json:"similarityScore,omitempty"`
}

// Metadata describes how an answer was produced.
type Metadata struct {
	RequestID            string    `json:"requestId"`
	DocumentsRetrieved   int       `json:"documentsRetrieved"`
	Category             string    `json:"materia,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
	ProcessingTimeMs     int64     `json:"processingTimeMs"`
	InsufficientEvidence bool      `json:"insufficientEvidence"`
	Validated            bool      `json:"validated"`
	Warnings             []string  `json:"warnings,omitempty"`
	Provider             string    `json:"provider,omitempty"`
	Model                string    `json:"model,omitempty"`
	EstimatedCostUSD     float64   `json:"estimatedCostUsd"`
}

// AnswerPackage is the final pipeline output.
type AnswerPackage struct {
	Answer     string     `json:"answer"`
	Sources    []Citation `json:"sources"`
	Metadata   Metadata   `json:"metadata"`
	Disclaimer string     `json:"disclaimer"`
}
