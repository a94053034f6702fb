// Package merge applies normalized price records to the store with
// duplicate and conflict handling. Persisted records are never modified:
// an exact duplicate is skipped, a same-key different-price record is
// logged as a conflict and left for manual review.
package merge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/store"
)

// Merger classifies records against the persisted dataset and inserts the
// genuinely new ones.
type Merger struct {
	store store.Store
}

func New(st store.Store) *Merger {
	return &Merger{store: st}
}

// Merge applies one report's records. sourceRef identifies the report for
// conflict provenance. The operation is idempotent: re-running the same
// report classifies every record as a duplicate and inserts nothing.
func (m *Merger) Merge(ctx context.Context, records []model.PriceRecord, sourceRef string) (model.MergeResult, error) {
	var result model.MergeResult
	if len(records) == 0 {
		return result, nil
	}

	dateFrom, dateTo := dateBounds(records)
	existing, err := m.store.ExistingKeys(ctx, dateFrom, dateTo)
	if err != nil {
		return result, eris.Wrap(err, "merge: load existing keys")
	}

	// Records inside one report can collide with each other as well as with
	// the store, so track keys seen this pass too.
	seen := make(map[model.IdentityKey]bool, len(records))
	var toInsert []model.PriceRecord

	for _, r := range records {
		key := r.Key()
		if seen[key] {
			result.SkippedDuplicate++
			continue
		}
		seen[key] = true

		stored, exists := existing[key]
		if !exists {
			toInsert = append(toInsert, r)
			result.Inserted++
			continue
		}

		if model.PriceEqual(stored, r.Price) {
			result.SkippedDuplicate++
			continue
		}

		result.Conflicting++
		conflict := model.Conflict{
			Date:          key.Date,
			Commodity:     key.Commodity,
			Specification: key.Specification,
			StoredPrice:   stored,
			IncomingPrice: r.Price,
			ReportRef:     sourceRef,
			SeenAt:        time.Now().UTC(),
		}
		if err := m.store.RecordConflict(ctx, conflict); err != nil {
			return result, eris.Wrap(err, "merge: record conflict")
		}
		zap.L().Warn("price conflict",
			zap.String("date", key.Date),
			zap.String("commodity", key.Commodity),
			zap.String("specification", key.Specification),
			zap.String("source", sourceRef),
		)
	}

	if err := m.store.InsertPrices(ctx, toInsert, sourceRef); err != nil {
		return result, eris.Wrap(err, "merge: insert")
	}

	return result, nil
}

func dateBounds(records []model.PriceRecord) (from, to string) {
	from = records[0].Date.Format(model.DateLayout)
	to = from
	for _, r := range records[1:] {
		d := r.Date.Format(model.DateLayout)
		if d < from {
			from = d
		}
		if d > to {
			to = d
		}
	}
	return from, to
}
