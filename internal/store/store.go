// Package store persists transcription records in SQLite. Records are
// append-only and indexed by creation time so range scans and hourly
// aggregation stay cheap as the table grows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("transcription not found")

	// ErrUnavailable is returned when the store cannot serve a call within
	// the configured acquire timeout (pool exhaustion, locked database).
	ErrUnavailable = errors.New("store unavailable")
)

// timeLayout is a fixed-width UTC layout so created_at values sort
// lexicographically and remain parseable by SQLite date functions.
const timeLayout = "2006-01-02 15:04:05.000"

// Record is one persisted transcription. WER and CER are nil unless a
// reference transcript was supplied at transcription time.
type Record struct {
	ID             string
	Text           string
	Confidence     float64
	ProcessingTime float64
	WER            *float64
	CER            *float64
	CreatedAt      time.Time
}

// Store wraps a SQLite-backed transcription table.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    confidence REAL NOT NULL,
    processing_time REAL NOT NULL,
    wer REAL,
    cer REAL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at ON transcriptions(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports store connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.mapErr(s.db.PingContext(ctx))
}

// opCtx bounds a store call by the configured acquire timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.cfg.AcquireTimeout)*time.Millisecond)
}

func (s *Store) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// Insert appends a record. The id must be unique; CreatedAt defaults to now.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(id, text, confidence, processing_time, wer, cer, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, rec.Confidence, rec.ProcessingTime,
		nullable(rec.WER), nullable(rec.CER), formatTime(rec.CreatedAt))
	return s.mapErr(err)
}

// GetByID returns a single record or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, confidence, processing_time, wer, cer, created_at
		 FROM transcriptions WHERE id = ?`, id)

	var rec Record
	var wer, cer sql.NullFloat64
	var created string
	err := row.Scan(&rec.ID, &rec.Text, &rec.Confidence, &rec.ProcessingTime, &wer, &cer, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, s.mapErr(err)
	}
	rec.WER = fromNull(wer)
	rec.CER = fromNull(cer)
	rec.CreatedAt, err = parseTime(created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	return rec, nil
}

// Summary aggregates metric averages over [start, end] inclusive. Averages
// are nil when no record in the window carries the field; Count is the total
// number of records in the window.
type Summary struct {
	AvgWER            *float64
	AvgCER            *float64
	AvgProcessingTime *float64
	AvgConfidence     *float64
	Count             int64
}

func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT AVG(wer), AVG(cer), AVG(processing_time), AVG(confidence), COUNT(*)
		 FROM transcriptions
		 WHERE created_at BETWEEN ? AND ?`,
		formatTime(start), formatTime(end))

	var wer, cer, proc, conf sql.NullFloat64
	var sum Summary
	if err := row.Scan(&wer, &cer, &proc, &conf, &sum.Count); err != nil {
		return Summary{}, s.mapErr(err)
	}
	sum.AvgWER = fromNull(wer)
	sum.AvgCER = fromNull(cer)
	sum.AvgProcessingTime = fromNull(proc)
	sum.AvgConfidence = fromNull(conf)
	return sum, nil
}

// HourBucket is the per-hour performance aggregate. Hour is the truncated
// bucket start in UTC.
type HourBucket struct {
	Hour              time.Time
	AvgProcessingTime float64
	MinProcessingTime float64
	MaxProcessingTime float64
	AvgConfidence     float64
	Count             int64
}

// Performance groups records in [start, end] by hour, ascending. Hours with
// no records produce no bucket.
func (s *Store) Performance(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d %H:00:00', created_at) AS hour,
		        AVG(processing_time), MIN(processing_time), MAX(processing_time),
		        AVG(confidence), COUNT(*)
		 FROM transcriptions
		 WHERE created_at BETWEEN ? AND ?
		 GROUP BY hour
		 ORDER BY hour ASC`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer rows.Close()

	var buckets []HourBucket
	for rows.Next() {
		var b HourBucket
		var hour string
		if err := rows.Scan(&hour, &b.AvgProcessingTime, &b.MinProcessingTime, &b.MaxProcessingTime, &b.AvgConfidence, &b.Count); err != nil {
			return nil, err
		}
		b.Hour, err = time.Parse("2006-01-02 15:04:05", hour)
		if err != nil {
			return nil, fmt.Errorf("parse hour bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, s.mapErr(rows.Err())
}

// HourCount is the per-hour request volume.
type HourCount struct {
	Hour  time.Time
	Count int64
}

// HourlyDistribution counts records per hour in [start, end], ascending.
func (s *Store) HourlyDistribution(ctx context.Context, start, end time.Time) ([]HourCount, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d %H:00:00', created_at) AS hour, COUNT(*)
		 FROM transcriptions
		 WHERE created_at BETWEEN ? AND ?
		 GROUP BY hour
		 ORDER BY hour ASC`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer rows.Close()

	var counts []HourCount
	for rows.Next() {
		var c HourCount
		var hour string
		if err := rows.Scan(&hour, &c.Count); err != nil {
			return nil, err
		}
		c.Hour, err = time.Parse("2006-01-02 15:04:05", hour)
		if err != nil {
			return nil, fmt.Errorf("parse hour bucket: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, s.mapErr(rows.Err())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
