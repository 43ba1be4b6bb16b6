package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunStatus represents the state of an ingestion run.
type RunStatus int

const (
	RunStatusPending   RunStatus = 0
	RunStatusRunning   RunStatus = 1
	RunStatusCompleted RunStatus = 2
	RunStatusFailed    RunStatus = 3
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusRunning:
		return "running"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// LegalDocument is the persisted form of a reference question/answer pair.
type LegalDocument struct {
	bun.BaseModel `bun:"table:legal_documents,alias:ld"`

	ID           int64     `bun:",pk,autoincrement"`
	ExternalID   string    `bun:",unique,notnull"`
	Question     string    `bun:",notnull"`
	Answer       string    `bun:",notnull"`
	LawReference string    `bun:",nullzero"`
	Category     string    `bun:",nullzero"`
	Tags         []string  `bun:",nullzero"` // JSON array
	MinLevel     *int      `bun:"min_level"`
	Source       string    `bun:",notnull"`
	SourceURL    string    `bun:"source_url,nullzero"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// DocumentEmbedding belongs to exactly one LegalDocument. The unique
// document_id enforces the 1:1 link; there is no back-pointer.
type DocumentEmbedding struct {
	bun.BaseModel `bun:"table:document_embeddings,alias:de"`

	ID         int64     `bun:",pk,autoincrement"`
	DocumentID int64     `bun:",unique,notnull"`
	Vector     []float32 `bun:",notnull"` // JSON array
	Dimensions int       `bun:",notnull"`
	ModelName  string    `bun:",notnull"`
	Provider   string    `bun:",notnull"`
	Version    int       `bun:",notnull,default:1"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// IngestionRun records one execution of the ingestion workflow.
type IngestionRun struct {
	bun.BaseModel `bun:"table:ingestion_runs,alias:ir"`

	ID           int64     `bun:",pk,autoincrement"`
	Source       string    `bun:",notnull"`
	Status       RunStatus `bun:",notnull"`
	Version      int       `bun:",notnull,default:1"`
	Overwrite    bool      `bun:",notnull"`
	Total        int       `bun:",notnull"`
	Stored       int       `bun:",notnull"`
	Skipped      int       `bun:",notnull"`
	Failed       int       `bun:",notnull"`
	ErrorMessage string    `bun:",nullzero"`
	FinishedAt   time.Time `bun:",nullzero"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
