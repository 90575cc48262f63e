// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// SQLite is the durable Ledger backend.
type SQLite struct {
	db *sql.DB
}

var _ Ledger = (*SQLite)(nil)

// timeLayout is RFC 3339 with fixed sub-second width so lexical ordering in
// SQLite matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLite opens (or creates) the usage database at dbPath and initialises
// the usage_records table.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "opening usage db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "pinging usage db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "migrating usage db")
	}

	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS usage_records (
	id             TEXT PRIMARY KEY,
	ts             TEXT NOT NULL,
	kind           TEXT NOT NULL,
	name           TEXT NOT NULL,
	params         TEXT NOT NULL DEFAULT '{}',
	estimated_cost REAL NOT NULL DEFAULT 0,
	actual_cost    REAL
);

CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_records(kind, name, ts);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "encoding usage params")
	}

	const q = `INSERT INTO usage_records (id, ts, kind, name, params, estimated_cost, actual_cost)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	var actual any
	if rec.ActualCost != nil {
		actual = *rec.ActualCost
	}

	_, err = s.db.ExecContext(ctx, q,
		rec.ID.String(),
		rec.Timestamp.UTC().Format(timeLayout),
		string(rec.Kind),
		rec.Name,
		string(params),
		rec.EstimatedCost,
		actual,
	)
	if err != nil {
		return enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "appending usage record")
	}
	return nil
}

func (s *SQLite) Range(ctx context.Context, from, to time.Time) ([]Record, error) {
	const q = `SELECT id, ts, kind, name, params, estimated_cost, actual_cost
FROM usage_records WHERE ts >= ? AND ts < ? ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, q, boundFrom(from), boundTo(to))
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "querying usage range")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			id, ts    string
			kind      string
			paramsRaw string
			actual    sql.NullFloat64
		)
		if err := rows.Scan(&id, &ts, &kind, &rec.Name, &paramsRaw, &rec.EstimatedCost, &actual); err != nil {
			return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "scanning usage record")
		}
		rec.ID, _ = uuid.Parse(id)
		rec.Timestamp, _ = time.Parse(timeLayout, ts)
		rec.Kind = provider.Kind(kind)
		_ = json.Unmarshal([]byte(paramsRaw), &rec.Params)
		if actual.Valid {
			v := actual.Float64
			rec.ActualCost = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) SummarizeByDay(ctx context.Context, from, to time.Time) ([]DayUsage, error) {
	const q = `SELECT strftime('%Y-%m-%d', ts) AS day, COUNT(*), SUM(estimated_cost)
FROM usage_records WHERE ts >= ? AND ts < ? GROUP BY day ORDER BY day`

	rows, err := s.db.QueryContext(ctx, q, boundFrom(from), boundTo(to))
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "summarizing usage by day")
	}
	defer rows.Close()

	var out []DayUsage
	for rows.Next() {
		var d DayUsage
		if err := rows.Scan(&d.Day, &d.Requests, &d.EstimatedCost); err != nil {
			return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "scanning day summary")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) SummarizeByMonth(ctx context.Context, from, to time.Time) ([]MonthUsage, error) {
	const q = `SELECT strftime('%Y-%m', ts) AS month, COUNT(*), SUM(estimated_cost)
FROM usage_records WHERE ts >= ? AND ts < ? GROUP BY month ORDER BY month`

	rows, err := s.db.QueryContext(ctx, q, boundFrom(from), boundTo(to))
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "summarizing usage by month")
	}
	defer rows.Close()

	var out []MonthUsage
	for rows.Next() {
		var m MonthUsage
		if err := rows.Scan(&m.Month, &m.Requests, &m.EstimatedCost); err != nil {
			return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "scanning month summary")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) ByProvider(ctx context.Context, from, to time.Time) ([]ProviderUsage, error) {
	const q = `SELECT kind, name, COUNT(*), SUM(estimated_cost)
FROM usage_records WHERE ts >= ? AND ts < ? GROUP BY kind, name ORDER BY kind, name`

	rows, err := s.db.QueryContext(ctx, q, boundFrom(from), boundTo(to))
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "summarizing usage by provider")
	}
	defer rows.Close()

	var out []ProviderUsage
	for rows.Next() {
		var (
			p    ProviderUsage
			kind string
		)
		if err := rows.Scan(&kind, &p.Name, &p.Requests, &p.EstimatedCost); err != nil {
			return nil, enserr.Wrap(err, enserr.CodeLedgerQueryFailure, "scanning provider summary")
		}
		p.Kind = provider.Kind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE ts < ?`,
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, enserr.Wrap(err, enserr.CodeLedgerPersistFailure, "purging usage records")
	}
	return res.RowsAffected()
}

// boundFrom/boundTo turn zero times into open range bounds.
func boundFrom(from time.Time) string {
	if from.IsZero() {
		return "0000-01-01T00:00:00.000000000Z"
	}
	return from.UTC().Format(timeLayout)
}

func boundTo(to time.Time) string {
	if to.IsZero() {
		return "9999-12-31T23:59:59.999999999Z"
	}
	return to.UTC().Format(timeLayout)
}
