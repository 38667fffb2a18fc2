// Package db stores per-country case histories and the training log.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"outbreakcast/ml"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS case_timeline (
        country VARCHAR(100) NOT NULL,
        date VARCHAR(10) NOT NULL,
        cases DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (country, date)
    )`,
	`CREATE TABLE IF NOT EXISTS training_log (
        run_id VARCHAR(36) NOT NULL,
        country VARCHAR(100) NOT NULL,
        outcome VARCHAR(40) NOT NULL,
        rows_used INTEGER NOT NULL DEFAULT 0,
        message TEXT NOT NULL DEFAULT '',
        trained_at TIMESTAMP NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_training_log_country ON training_log (country, trained_at)`,
}

type Store struct {
	db *sqlx.DB
}

// Open connects to driver ("sqlite3" or "postgres") using dsn. The dsn is
// passed through untouched.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Countries lists every country with at least one case row.
func (s *Store) Countries(ctx context.Context) ([]string, error) {
	var countries []string
	err := s.db.SelectContext(ctx, &countries,
		`SELECT DISTINCT country FROM case_timeline ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	return countries, nil
}

type caseRow struct {
	Date  string  `db:"date"`
	Cases float64 `db:"cases"`
}

func (s *Store) CaseTimeline(ctx context.Context, country string) (*ml.Timeline, error) {
	var rows []caseRow
	query := s.db.Rebind(`SELECT date, cases FROM case_timeline WHERE country = ? ORDER BY date`)
	if err := s.db.SelectContext(ctx, &rows, query, country); err != nil {
		return nil, fmt.Errorf("query timeline for %s: %w", country, err)
	}

	timeline := ml.NewTimeline()
	for _, row := range rows {
		date, err := time.Parse(ml.DateLayout, row.Date)
		if err != nil {
			return nil, fmt.Errorf("timeline for %s: %w", country, err)
		}
		timeline.Add(date, row.Cases)
	}
	return timeline, nil
}

// UpsertCases writes observations for one country in a single transaction,
// replacing existing counts for the same dates.
func (s *Store) UpsertCases(ctx context.Context, country string, observations []ml.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
        INSERT INTO case_timeline (country, date, cases)
        VALUES (?, ?, ?)
        ON CONFLICT (country, date) DO UPDATE SET cases = excluded.cases`))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, o := range observations {
		if _, err := stmt.ExecContext(ctx, country, o.Date.UTC().Format(ml.DateLayout), o.Cases); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert %s %s: %w", country, o.Date.Format(ml.DateLayout), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(observations), nil
}

type TrainingRecord struct {
	RunID     string    `db:"run_id" json:"run_id"`
	Country   string    `db:"country" json:"country"`
	Outcome   string    `db:"outcome" json:"outcome"`
	RowsUsed  int       `db:"rows_used" json:"rows_used"`
	Message   string    `db:"message" json:"message"`
	TrainedAt time.Time `db:"trained_at" json:"trained_at"`
}

func (s *Store) RecordTraining(ctx context.Context, rec TrainingRecord) error {
	if rec.TrainedAt.IsZero() {
		rec.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO training_log (run_id, country, outcome, rows_used, message, trained_at)
        VALUES (:run_id, :country, :outcome, :rows_used, :message, :trained_at)`, rec)
	if err != nil {
		return fmt.Errorf("record training for %s: %w", rec.Country, err)
	}
	return nil
}

// RecentTraining returns the newest training log rows first.
func (s *Store) RecentTraining(ctx context.Context, limit int) ([]TrainingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records := make([]TrainingRecord, 0)
	query := s.db.Rebind(`
        SELECT run_id, country, outcome, rows_used, message, trained_at
        FROM training_log
        ORDER BY trained_at DESC
        LIMIT ?`)
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("query training log: %w", err)
	}
	return records, nil
}
