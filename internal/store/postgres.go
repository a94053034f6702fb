package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/palengke-labs/pricewatch/internal/db"
	"github.com/palengke-labs/pricewatch/internal/model"
)

// PostgresStore implements Store on a pgx connection pool for shared
// deployments where multiple scrapers or API instances share one database.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool. The caller owns connection lifecycle
// up to Close.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prices (
	id             BIGSERIAL PRIMARY KEY,
	date           TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	commodity_name TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT 'PHP/kg',
	price          TEXT,
	source_ref     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(date, commodity_name, specification)
);

CREATE TABLE IF NOT EXISTS scrape_log (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	report_ref    TEXT NOT NULL,
	report_date   TEXT NOT NULL DEFAULT '',
	run_timestamp TIMESTAMPTZ NOT NULL,
	outcome       TEXT NOT NULL,
	record_count  INTEGER NOT NULL DEFAULT 0,
	diagnostic    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conflicts (
	id             BIGSERIAL PRIMARY KEY,
	date           TEXT NOT NULL,
	commodity_name TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	stored_price   TEXT,
	incoming_price TEXT,
	report_ref     TEXT NOT NULL DEFAULT '',
	seen_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_date ON prices(date);
CREATE INDEX IF NOT EXISTS idx_prices_commodity ON prices(commodity_name);
CREATE INDEX IF NOT EXISTS idx_prices_category ON prices(category);
CREATE INDEX IF NOT EXISTS idx_scrape_log_run ON scrape_log(run_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_date ON conflicts(date);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ExistingKeys(ctx context.Context, dateFrom, dateTo string) (map[model.IdentityKey]*decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, commodity_name, specification, price FROM prices WHERE date >= $1 AND date <= $2`,
		dateFrom, dateTo,
	)
	if err != nil {
		return nil, eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	defer rows.Close()

	keys := make(map[model.IdentityKey]*decimal.Decimal)
	for rows.Next() {
		var key model.IdentityKey
		var price *string
		if err := rows.Scan(&key.Date, &key.Commodity, &key.Specification, &price); err != nil {
			return nil, eris.Wrap(err, "postgres: scan existing key")
		}
		keys[key] = parsePricePtr(price)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) InsertPrices(ctx context.Context, records []model.PriceRecord, sourceRef string) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO prices (date, category, commodity_name, specification, unit, price, source_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (date, commodity_name, specification) DO NOTHING`,
			r.Date.Format(model.DateLayout), r.Category, r.Commodity,
			r.Specification, r.Unit, formatPrice(r.Price), sourceRef,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert price %s/%s", r.Date.Format(model.DateLayout), r.Commodity)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit prices")
	}
	return nil
}

func (s *PostgresStore) RecordConflict(ctx context.Context, c model.Conflict) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conflicts (date, commodity_name, specification, stored_price, incoming_price, report_ref, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Date, c.Commodity, c.Specification,
		formatPrice(c.StoredPrice), formatPrice(c.IncomingPrice), c.ReportRef, c.SeenAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: record conflict")
	}
	return nil
}

func (s *PostgresStore) AppendScrapeLog(ctx context.Context, e model.ScrapeLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_log (run_id, report_ref, report_date, run_timestamp, outcome, record_count, diagnostic)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.RunID, e.ReportRef, e.ReportDate, e.RunTimestamp.UTC(), string(e.Outcome), e.RecordCount, e.Diagnostic,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: append scrape log")
	}
	return nil
}

func (s *PostgresStore) ListScrapeLog(ctx context.Context, limit int) ([]model.ScrapeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, report_ref, report_date, run_timestamp, outcome, record_count, diagnostic
		FROM scrape_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrape log")
	}
	defer rows.Close()

	var entries []model.ScrapeLogEntry
	for rows.Next() {
		var e model.ScrapeLogEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.RunID, &e.ReportRef, &e.ReportDate, &e.RunTimestamp, &outcome, &e.RecordCount, &e.Diagnostic); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scrape log")
		}
		e.Outcome = model.ScrapeOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListConflicts(ctx context.Context, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT date, commodity_name, specification, stored_price, incoming_price, report_ref, seen_at
		FROM conflicts ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var conflicts []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var stored, incoming *string
		if err := rows.Scan(&c.Date, &c.Commodity, &c.Specification, &stored, &incoming, &c.ReportRef, &c.SeenAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		c.StoredPrice = parsePricePtr(stored)
		c.IncomingPrice = parsePricePtr(incoming)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *PostgresStore) LatestDate(ctx context.Context) (string, error) {
	var latest *string
	err := s.pool.QueryRow(ctx, `SELECT MAX(date) FROM prices`).Scan(&latest)
	if err != nil {
		return "", eris.Wrap(err, "postgres: latest date")
	}
	if latest == nil {
		return "", nil
	}
	return *latest, nil
}

func (s *PostgresStore) Dates(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT date FROM prices ORDER BY date DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dates")
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "postgres: scan date")
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *PostgresStore) PricesForDate(ctx context.Context, date string, page, limit int) ([]model.PriceRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prices WHERE date = $1`, date).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count prices for date")
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE date = $1
		ORDER BY category, commodity_name, specification
		LIMIT $2 OFFSET $3`, date, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: prices for date")
	}
	defer rows.Close()

	records, err := scanPgPriceRows(rows)
	return records, total, err
}

func (s *PostgresStore) PricesForRange(ctx context.Context, from, to, commodity string) ([]model.PriceRecord, error) {
	query := `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE date >= $1 AND date <= $2`
	args := []any{from, to}
	if commodity != "" {
		query += ` AND commodity_name ILIKE $3`
		args = append(args, "%"+commodity+"%")
	}
	query += ` ORDER BY date, category, commodity_name, specification`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: prices for range")
	}
	defer rows.Close()

	return scanPgPriceRows(rows)
}

func (s *PostgresStore) History(ctx context.Context, commodity, from, to string) ([]model.PriceRecord, error) {
	query := `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE commodity_name = $1`
	args := []any{commodity}
	if from != "" {
		args = append(args, from)
		query += ` AND date >= $2`
	}
	if to != "" {
		args = append(args, to)
		if len(args) == 3 {
			query += ` AND date <= $3`
		} else {
			query += ` AND date <= $2`
		}
	}
	query += ` ORDER BY date ASC, specification`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history")
	}
	defer rows.Close()

	return scanPgPriceRows(rows)
}

func (s *PostgresStore) ListCommodities(ctx context.Context, filter CommodityFilter) ([]model.Commodity, int, error) {
	where := ""
	var countArgs []any
	if filter.Category != "" {
		where = ` WHERE category = $1`
		countArgs = append(countArgs, filter.Category)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM (SELECT DISTINCT commodity_name, category, specification, unit FROM prices` + where + `) c`
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count commodities")
	}

	page := filter.Page
	limit := filter.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}

	query := commodityAggregate + where + `
	GROUP BY commodity_name, category, specification, unit
	ORDER BY category, commodity_name, specification`
	args := countArgs
	if filter.Category != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list commodities")
	}
	defer rows.Close()

	commodities, err := scanPgCommodityRows(rows)
	return commodities, total, err
}

func (s *PostgresStore) SearchCommodities(ctx context.Context, query, date string, limit, offset int) ([]model.Commodity, error) {
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := commodityAggregate + ` WHERE (commodity_name ILIKE $1 OR category ILIKE $1)`
	args := []any{"%" + query + "%"}
	if date != "" {
		sqlQuery += ` AND date = $2`
		args = append(args, date)
	}
	sqlQuery += `
	GROUP BY commodity_name, category, specification, unit
	ORDER BY category, commodity_name, specification`
	if date != "" {
		sqlQuery += ` LIMIT $3 OFFSET $4`
	} else {
		sqlQuery += ` LIMIT $2 OFFSET $3`
	}
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search commodities")
	}
	defer rows.Close()

	return scanPgCommodityRows(rows)
}

func (s *PostgresStore) Categories(ctx context.Context) ([]model.CategorySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category,
		       COUNT(DISTINCT commodity_name || '|' || specification) AS commodity_count,
		       COUNT(*) AS price_count,
		       MIN(date) AS first_date,
		       MAX(date) AS last_date
		FROM prices
		WHERE category != ''
		GROUP BY category
		ORDER BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: categories")
	}
	defer rows.Close()

	var summaries []model.CategorySummary
	for rows.Next() {
		var c model.CategorySummary
		if err := rows.Scan(&c.Category, &c.CommodityCount, &c.PriceCount, &c.FirstDate, &c.LastDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		summaries = append(summaries, c)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) ExportAll(ctx context.Context) ([]model.PriceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices
		ORDER BY date, category, commodity_name, specification`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: export all")
	}
	defer rows.Close()

	return scanPgPriceRows(rows)
}

func (s *PostgresStore) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	var first, last, lastUpdate *string

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       (SELECT COUNT(*) FROM (SELECT DISTINCT commodity_name, specification FROM prices) c),
		       (SELECT COUNT(DISTINCT category) FROM prices WHERE category != ''),
		       COUNT(DISTINCT date),
		       MIN(date), MAX(date), MAX(created_at)::text
		FROM prices`).
		Scan(&stats.TotalRecords, &stats.TotalCommodities, &stats.TotalCategories,
			&stats.TotalDates, &first, &last, &lastUpdate)
	if err != nil {
		return stats, eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}

	if first != nil {
		stats.FirstDate = *first
	}
	if last != nil {
		stats.LastDate = *last
	}
	if lastUpdate != nil {
		stats.LastUpdate = *lastUpdate
	}
	return stats, nil
}

func scanPgPriceRows(rows pgx.Rows) ([]model.PriceRecord, error) {
	var records []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var date string
		var price *string
		if err := rows.Scan(&date, &r.Category, &r.Commodity, &r.Specification, &r.Unit, &price); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price row")
		}
		t, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: bad date %q", date)
		}
		r.Date = t
		r.Price = parsePricePtr(price)
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanPgCommodityRows(rows pgx.Rows) ([]model.Commodity, error) {
	var commodities []model.Commodity
	for rows.Next() {
		var c model.Commodity
		if err := rows.Scan(&c.Name, &c.Category, &c.Specification, &c.Unit, &c.PriceCount, &c.FirstDate, &c.LastDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan commodity row")
		}
		commodities = append(commodities, c)
	}
	return commodities, rows.Err()
}

func parsePricePtr(raw *string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	return parsePrice(sql.NullString{String: *raw, Valid: true})
}
