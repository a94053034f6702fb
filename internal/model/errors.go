package model

import "github.com/rotisserie/eris"

// Error taxonomy for the ingestion pipeline. Fetch-stage errors are
// per-report and retryable; extraction and normalization errors are absorbed
// and logged; only store-level failures abort a batch.
var (
	ErrIndexUnavailable = eris.New("publisher index unavailable")
	ErrDownloadFailed   = eris.New("report download failed")
	ErrNotFound         = eris.New("report not found")
	ErrStoreUnavailable = eris.New("store unavailable")
)
