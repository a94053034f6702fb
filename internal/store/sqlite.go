package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prices (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	date           TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	commodity_name TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT 'PHP/kg',
	price          TEXT,
	source_ref     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(date, commodity_name, specification)
);

CREATE TABLE IF NOT EXISTS scrape_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	report_ref    TEXT NOT NULL,
	report_date   TEXT NOT NULL DEFAULT '',
	run_timestamp DATETIME NOT NULL,
	outcome       TEXT NOT NULL,
	record_count  INTEGER NOT NULL DEFAULT 0,
	diagnostic    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conflicts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	date           TEXT NOT NULL,
	commodity_name TEXT NOT NULL,
	specification  TEXT NOT NULL DEFAULT '',
	stored_price   TEXT,
	incoming_price TEXT,
	report_ref     TEXT NOT NULL DEFAULT '',
	seen_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_date ON prices(date);
CREATE INDEX IF NOT EXISTS idx_prices_commodity ON prices(commodity_name);
CREATE INDEX IF NOT EXISTS idx_prices_category ON prices(category);
CREATE INDEX IF NOT EXISTS idx_scrape_log_run ON scrape_log(run_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_date ON conflicts(date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ExistingKeys(ctx context.Context, dateFrom, dateTo string) (map[model.IdentityKey]*decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, commodity_name, specification, price FROM prices WHERE date >= ? AND date <= ?`,
		dateFrom, dateTo,
	)
	if err != nil {
		return nil, eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	defer rows.Close() //nolint:errcheck

	keys := make(map[model.IdentityKey]*decimal.Decimal)
	for rows.Next() {
		var key model.IdentityKey
		var price sql.NullString
		if err := rows.Scan(&key.Date, &key.Commodity, &key.Specification, &price); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan existing key")
		}
		keys[key] = parsePrice(price)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) InsertPrices(ctx context.Context, records []model.PriceRecord, sourceRef string) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (date, category, commodity_name, specification, unit, price, source_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, commodity_name, specification) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Date.Format(model.DateLayout), r.Category, r.Commodity,
			r.Specification, r.Unit, formatPrice(r.Price), sourceRef,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert price %s/%s", r.Date.Format(model.DateLayout), r.Commodity)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit prices")
	}
	return nil
}

func (s *SQLiteStore) RecordConflict(ctx context.Context, c model.Conflict) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (date, commodity_name, specification, stored_price, incoming_price, report_ref, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Date, c.Commodity, c.Specification,
		formatPrice(c.StoredPrice), formatPrice(c.IncomingPrice), c.ReportRef, c.SeenAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: record conflict")
	}
	return nil
}

func (s *SQLiteStore) AppendScrapeLog(ctx context.Context, e model.ScrapeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_log (run_id, report_ref, report_date, run_timestamp, outcome, record_count, diagnostic)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.ReportRef, e.ReportDate, e.RunTimestamp.UTC(), string(e.Outcome), e.RecordCount, e.Diagnostic,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: append scrape log")
	}
	return nil
}

func (s *SQLiteStore) ListScrapeLog(ctx context.Context, limit int) ([]model.ScrapeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, report_ref, report_date, run_timestamp, outcome, record_count, diagnostic
		FROM scrape_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrape log")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.ScrapeLogEntry
	for rows.Next() {
		var e model.ScrapeLogEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.RunID, &e.ReportRef, &e.ReportDate, &e.RunTimestamp, &outcome, &e.RecordCount, &e.Diagnostic); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scrape log")
		}
		e.Outcome = model.ScrapeOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, commodity_name, specification, stored_price, incoming_price, report_ref, seen_at
		FROM conflicts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close() //nolint:errcheck

	var conflicts []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var stored, incoming sql.NullString
		if err := rows.Scan(&c.Date, &c.Commodity, &c.Specification, &stored, &incoming, &c.ReportRef, &c.SeenAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		c.StoredPrice = parsePrice(stored)
		c.IncomingPrice = parsePrice(incoming)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *SQLiteStore) LatestDate(ctx context.Context) (string, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM prices`).Scan(&latest)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: latest date")
	}
	return latest.String, nil
}

func (s *SQLiteStore) Dates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM prices ORDER BY date DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dates")
	}
	defer rows.Close() //nolint:errcheck

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan date")
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *SQLiteStore) PricesForDate(ctx context.Context, date string, page, limit int) ([]model.PriceRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prices WHERE date = ?`, date).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count prices for date")
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE date = ?
		ORDER BY category, commodity_name, specification
		LIMIT ? OFFSET ?`, date, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: prices for date")
	}
	defer rows.Close() //nolint:errcheck

	records, err := scanPriceRows(rows)
	return records, total, err
}

func (s *SQLiteStore) PricesForRange(ctx context.Context, from, to, commodity string) ([]model.PriceRecord, error) {
	query := `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE date >= ? AND date <= ?`
	args := []any{from, to}
	if commodity != "" {
		query += ` AND commodity_name LIKE ?`
		args = append(args, "%"+commodity+"%")
	}
	query += ` ORDER BY date, category, commodity_name, specification`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prices for range")
	}
	defer rows.Close() //nolint:errcheck

	return scanPriceRows(rows)
}

func (s *SQLiteStore) History(ctx context.Context, commodity, from, to string) ([]model.PriceRecord, error) {
	query := `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices WHERE commodity_name = ?`
	args := []any{commodity}
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY date ASC, specification`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history")
	}
	defer rows.Close() //nolint:errcheck

	return scanPriceRows(rows)
}

const commodityAggregate = `
	SELECT commodity_name, category, specification, unit,
	       COUNT(*) AS price_count,
	       MIN(date) AS first_date,
	       MAX(date) AS last_date
	FROM prices`

func (s *SQLiteStore) ListCommodities(ctx context.Context, filter CommodityFilter) ([]model.Commodity, int, error) {
	where := ""
	var args []any
	if filter.Category != "" {
		where = ` WHERE category = ?`
		args = append(args, filter.Category)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM (SELECT DISTINCT commodity_name, category, specification, unit FROM prices` + where + `)`
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count commodities")
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
	ORDER BY category, commodity_name, specification
	LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list commodities")
	}
	defer rows.Close() //nolint:errcheck

	commodities, err := scanCommodityRows(rows)
	return commodities, total, err
}

func (s *SQLiteStore) SearchCommodities(ctx context.Context, query, date string, limit, offset int) ([]model.Commodity, error) {
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := commodityAggregate + ` WHERE (commodity_name LIKE ? OR category LIKE ?)`
	args := []any{"%" + query + "%", "%" + query + "%"}
	if date != "" {
		sqlQuery += ` AND date = ?`
		args = append(args, date)
	}
	sqlQuery += `
	GROUP BY commodity_name, category, specification, unit
	ORDER BY category, commodity_name, specification
	LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search commodities")
	}
	defer rows.Close() //nolint:errcheck

	return scanCommodityRows(rows)
}

func (s *SQLiteStore) Categories(ctx context.Context) ([]model.CategorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		return nil, eris.Wrap(err, "sqlite: categories")
	}
	defer rows.Close() //nolint:errcheck

	var summaries []model.CategorySummary
	for rows.Next() {
		var c model.CategorySummary
		if err := rows.Scan(&c.Category, &c.CommodityCount, &c.PriceCount, &c.FirstDate, &c.LastDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		summaries = append(summaries, c)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, category, commodity_name, specification, unit, price
		FROM prices
		ORDER BY date, category, commodity_name, specification`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: export all")
	}
	defer rows.Close() //nolint:errcheck

	return scanPriceRows(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	var first, last, lastUpdate sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       (SELECT COUNT(*) FROM (SELECT DISTINCT commodity_name, specification FROM prices)),
		       (SELECT COUNT(DISTINCT category) FROM prices WHERE category != ''),
		       COUNT(DISTINCT date),
		       MIN(date), MAX(date), MAX(created_at)
		FROM prices`).
		Scan(&stats.TotalRecords, &stats.TotalCommodities, &stats.TotalCategories,
			&stats.TotalDates, &first, &last, &lastUpdate)
	if err != nil {
		return stats, eris.Wrap(model.ErrStoreUnavailable, err.Error())
	}

	stats.FirstDate = first.String
	stats.LastDate = last.String
	stats.LastUpdate = lastUpdate.String
	return stats, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPriceRows(rows rowScanner) ([]model.PriceRecord, error) {
	var records []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var date string
		var price sql.NullString
		if err := rows.Scan(&date, &r.Category, &r.Commodity, &r.Specification, &r.Unit, &price); err != nil {
			return nil, eris.Wrap(err, "store: scan price row")
		}
		t, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, eris.Wrapf(err, "store: bad date %q", date)
		}
		r.Date = t
		r.Price = parsePrice(price)
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanCommodityRows(rows rowScanner) ([]model.Commodity, error) {
	var commodities []model.Commodity
	for rows.Next() {
		var c model.Commodity
		if err := rows.Scan(&c.Name, &c.Category, &c.Specification, &c.Unit, &c.PriceCount, &c.FirstDate, &c.LastDate); err != nil {
			return nil, eris.Wrap(err, "store: scan commodity row")
		}
		commodities = append(commodities, c)
	}
	return commodities, rows.Err()
}

func parsePrice(raw sql.NullString) *decimal.Decimal {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		return nil
	}
	return &d
}

func formatPrice(price *decimal.Decimal) any {
	if price == nil {
		return nil
	}
	return price.String()
}
