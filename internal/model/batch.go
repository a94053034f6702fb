package model

import "time"

// ScrapeOutcome is the per-report result recorded in the scrape log.
type ScrapeOutcome string

const (
	OutcomeSuccess      ScrapeOutcome = "success"
	OutcomePartial      ScrapeOutcome = "partial"
	OutcomeFailed       ScrapeOutcome = "failed"
	OutcomeImageFlagged ScrapeOutcome = "image-flagged"
)

// ScrapeLogEntry is one report's outcome within a batch run. Append-only.
type ScrapeLogEntry struct {
	ID           int64         `json:"id,omitempty"`
	RunID        string        `json:"run_id"`
	ReportRef    string        `json:"report_ref"`
	ReportDate   string        `json:"report_date,omitempty"`
	RunTimestamp time.Time     `json:"run_timestamp"`
	Outcome      ScrapeOutcome `json:"outcome"`
	RecordCount  int           `json:"record_count"`
	Diagnostic   string        `json:"diagnostic,omitempty"`
}

// MergeResult summarizes one merge pass.
type MergeResult struct {
	Inserted         int `json:"inserted"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Conflicting      int `json:"conflicting"`
}

// Add accumulates another merge result into this one.
func (m *MergeResult) Add(other MergeResult) {
	m.Inserted += other.Inserted
	m.SkippedDuplicate += other.SkippedDuplicate
	m.Conflicting += other.Conflicting
}

// BatchReport is the overall summary of a batch ingestion run.
type BatchReport struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Reports      int              `json:"reports"`
	Succeeded    int              `json:"succeeded"`
	Partial      int              `json:"partial"`
	Failed       int              `json:"failed"`
	ImageFlagged int              `json:"image_flagged"`
	Merge        MergeResult      `json:"merge"`
	RowsRejected int              `json:"rows_rejected"`
	Entries      []ScrapeLogEntry `json:"entries"`
}
