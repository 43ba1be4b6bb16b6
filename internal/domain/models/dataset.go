package models

// DatasetEntry is one raw question/answer row as read from a dataset source,
// before normalization.
type DatasetEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Context  string `json:"context,omitempty"`
}
