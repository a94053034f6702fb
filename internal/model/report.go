package model

import (
	"time"
)

// ReportType classifies a published PDF by its reporting cadence.
type ReportType string

const (
	ReportTypeDaily  ReportType = "daily"
	ReportTypeWeekly ReportType = "weekly"
	ReportTypeOther  ReportType = "other"
)

// ReportRef identifies one published PDF discovered on the publisher index.
type ReportRef struct {
	URL   string     `json:"url"`
	Title string     `json:"title,omitempty"`
	Type  ReportType `json:"type"`
	// Date is the date the prices apply to, not the download date.
	// Nil when the index entry carried no resolvable date.
	Date *time.Time `json:"date,omitempty"`
}

// DateString returns the report date formatted as YYYY-MM-DD, or "" if unknown.
func (r ReportRef) DateString() string {
	if r.Date == nil {
		return ""
	}
	return r.Date.Format(DateLayout)
}

// ExtractionStatus tracks how far a report got through extraction.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionText    ExtractionStatus = "text-extracted"
	ExtractionImage   ExtractionStatus = "image-flagged"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Report is one fetched PDF with its raw bytes. Content is transient; it is
// held only for the duration of an ingestion pass.
type Report struct {
	Ref       ReportRef
	Content   []byte
	FromCache bool
	Status    ExtractionStatus
}

// RawTableRow is one extracted table line before normalization.
type RawTableRow struct {
	Page int    `json:"page"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ExtractionKind tags the variant of an ExtractionResult.
type ExtractionKind string

const (
	ExtractionKindText   ExtractionKind = "text"
	ExtractionKindImage  ExtractionKind = "image"
	ExtractionKindFailed ExtractionKind = "failed"
)

// ExtractionResult is the tagged output of the table extractor: exactly one
// of the Text/Image/Failed shapes is populated, selected by Kind.
type ExtractionResult struct {
	Kind ExtractionKind

	// Text layout
	Rows []RawTableRow
	// Date recovered from the document text, for refs that carried none.
	DocumentDate *time.Time

	// Image layout
	PageCount int

	// Failure
	Reason string
}
