// Package archive persists completed workout sessions to a local SQLite
// database via modernc.org/sqlite (pure Go, no CGO).
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pacelink/pacelink-app/internal/events"
	"github.com/pacelink/pacelink-app/internal/session"
)

// Record is one archived session row.
type Record struct {
	WorkoutID      string
	Mode           string
	StartedAt      time.Time
	CompletedAt    time.Time
	ElapsedSeconds float64
	Distance       float64
	Pace           float64
	HeartRate      float64
	Calories       float64
	Cadence        float64
	StepCount      float64
}

// Store is the session archive. Implements session.Archiver.
type Store struct {
	logger     *log.Logger
	db         *sql.DB
	savedEvent *events.CallbackEvent[string]
}

// NewStore opens (or creates) the archive database at dbPath.
func NewStore(logger *log.Logger, dbPath string) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	// SQLite supports one concurrent writer. A single connection serializes
	// all access through Go's pool and avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS completed_workouts (
		workout_id      TEXT PRIMARY KEY,
		mode            TEXT NOT NULL,
		started_at      DATETIME NOT NULL,
		completed_at    DATETIME NOT NULL,
		elapsed_seconds REAL NOT NULL,
		distance        REAL NOT NULL,
		pace            REAL NOT NULL,
		heart_rate      REAL NOT NULL,
		calories        REAL NOT NULL,
		cadence         REAL NOT NULL,
		step_count      REAL NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create completed_workouts table: %w", err)
	}

	return &Store{
		logger:     logger,
		db:         db,
		savedEvent: events.NewCallbackEvent[string](false),
	}, nil
}

// ListenToSaves registers a callback invoked with each archived workout id.
// Returns an unregister function.
func (s *Store) ListenToSaves(callback func(workoutID string)) func() {
	return s.savedEvent.Listen(callback)
}

// SaveCompleted writes one completed session. Saving the same workout id
// twice overwrites the row, so replaying a completion is harmless.
func (s *Store) SaveCompleted(ctx context.Context, w session.WorkoutSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO completed_workouts
		(workout_id, mode, started_at, completed_at, elapsed_seconds, distance, pace, heart_rate, calories, cadence, step_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Mode.String(), w.StartedAt.UTC(), time.Now().UTC(), w.ElapsedSeconds,
		w.Metrics.Get(session.MetricDistance),
		w.Metrics.Get(session.MetricPace),
		w.Metrics.Get(session.MetricHeartRate),
		w.Metrics.Get(session.MetricCalories),
		w.Metrics.Get(session.MetricCadence),
		w.Metrics.Get(session.MetricStepCount),
	)
	if err != nil {
		return fmt.Errorf("save completed workout: %w", err)
	}
	s.logger.Printf("Store: archived workout %s (%.0fs, %.0fm)", w.ID, w.ElapsedSeconds, w.Metrics.Get(session.MetricDistance))
	s.savedEvent.Notify(w.ID)
	return nil
}

// ListCompleted returns archived sessions, newest first. limit <= 0 means all.
func (s *Store) ListCompleted(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT workout_id, mode, started_at, completed_at, elapsed_seconds, distance, pace, heart_rate, calories, cadence, step_count
		FROM completed_workouts ORDER BY completed_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completed workouts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.WorkoutID, &r.Mode, &r.StartedAt, &r.CompletedAt, &r.ElapsedSeconds,
			&r.Distance, &r.Pace, &r.HeartRate, &r.Calories, &r.Cadence, &r.StepCount); err != nil {
			return nil, fmt.Errorf("scan completed workout: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
