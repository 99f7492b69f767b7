package model

import (
	"time"
)

// Unit kinds recorded in FailedUnit.
const (
	UnitKeyword = "keyword"
	UnitRecord  = "record"
)

// KeywordOutcome is the per-keyword result of an aggregation.
type KeywordOutcome struct {
	Keyword string `json:"keyword"`
	Query   string `json:"query"`
	Records int    `json:"records"`
	Err     string `json:"error,omitempty"`
}

// FailedUnit is a keyword search or record enrichment that failed without
// aborting its batch.
type FailedUnit struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient", "permanent", "paywall", "not_found"
	CreatedAt time.Time `json:"created_at"`
}

// PersistStats counts the outcome of an upsert batch.
type PersistStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// RunSummary describes a pipeline run, including partial failures.
type RunSummary struct {
	RunID             string                `json:"run_id"`
	LocationQualifier string                `json:"location,omitempty"`
	Category          string                `json:"category,omitempty"`
	Keywords          []string              `json:"keywords,omitempty"`
	Outcomes          []KeywordOutcome      `json:"outcomes,omitempty"`
	UniqueRecords     int                   `json:"unique_records"`
	Enrichment        map[ContactStatus]int `json:"enrichment,omitempty"`
	ContactsSaved     int64                 `json:"contacts_saved,omitempty"`
	Persist           *PersistStats         `json:"persist,omitempty"`
	PersistError      string                `json:"persist_error,omitempty"`
	Exports           []string              `json:"exports,omitempty"`
	ExportError       string                `json:"export_error,omitempty"`
	Failures          []FailedUnit          `json:"failures,omitempty"`
	Error             string                `json:"error,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
}

// CountStatus increments the enrichment counter for s.
func (s *RunSummary) CountStatus(st ContactStatus) {
	if s.Enrichment == nil {
		s.Enrichment = make(map[ContactStatus]int)
	}
	s.Enrichment[st]++
}
