// Package loader implements TimescaleDB-backed storage for telemetry
// records. Its only contract with the analysis core is to yield records
// matching the input contract of package timeseries: one row per signal
// sample with typed value columns.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// SignalRepository defines the storage operations the analysis pipeline
// needs: range fetches for analysis input and batch inserts for emitted
// event rows.
type SignalRepository interface {
	// FetchRange returns all records of the given signal uuids within
	// [start, end), ordered by systime.
	FetchRange(ctx context.Context, uuids []string, start, end time.Time) ([]timeseries.Record, error)

	// InsertRecords writes records in a single transaction. Either all
	// rows land or none.
	InsertRecords(ctx context.Context, records []timeseries.Record) error

	// Close releases the underlying connection pool.
	Close() error
}

// TimescaleRepo implements SignalRepository against a TimescaleDB
// hypertable. Fetches are paced by a client-side rate limiter so bulk
// re-analysis cannot starve the ingest path sharing the database.
type TimescaleRepo struct {
	db      *sql.DB
	limiter *rate.Limiter
}

// NewTimescaleRepo opens the connection pool and verifies connectivity.
// queriesPerSecond bounds FetchRange calls; zero or negative disables
// pacing.
func NewTimescaleRepo(connStr string, maxConnections, queriesPerSecond int) (*TimescaleRepo, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConnections)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if queriesPerSecond > 0 {
		limit = rate.Limit(queriesPerSecond)
	}
	return &TimescaleRepo{
		db:      db,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (r *TimescaleRepo) FetchRange(ctx context.Context, uuids []string, start, end time.Time) ([]timeseries.Record, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT uuid, systime, value_bool, value_integer, value_double, value_string, is_delta
        FROM telemetry
        WHERE uuid = ANY($1) AND systime >= $2 AND systime < $3
        ORDER BY systime
    `, pq.Array(uuids), start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch range: %w", err)
	}
	defer rows.Close()

	records := []timeseries.Record{}
	for rows.Next() {
		var (
			rec     timeseries.Record
			vBool   sql.NullBool
			vInt    sql.NullInt64
			vDouble sql.NullFloat64
			vString sql.NullString
		)
		if err := rows.Scan(&rec.UUID, &rec.Systime, &vBool, &vInt, &vDouble, &vString, &rec.IsDelta); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if vBool.Valid {
			rec.ValueBool = &vBool.Bool
		}
		if vInt.Valid {
			rec.ValueInteger = &vInt.Int64
		}
		if vDouble.Valid {
			rec.ValueDouble = &vDouble.Float64
		}
		if vString.Valid {
			rec.ValueString = &vString.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *TimescaleRepo) InsertRecords(ctx context.Context, records []timeseries.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO telemetry (uuid, systime, value_bool, value_integer, value_double, value_string, is_delta)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.UUID, rec.Systime,
			nullBool(rec.ValueBool), nullInt(rec.ValueInteger),
			nullFloat(rec.ValueDouble), nullString(rec.ValueString),
			rec.IsDelta,
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *TimescaleRepo) Close() error {
	return r.db.Close()
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// Compile-time interface implementation check
var _ SignalRepository = (*TimescaleRepo)(nil)
