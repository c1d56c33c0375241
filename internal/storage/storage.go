// Package storage provides persistence for per-symbol notification state and the
// notification audit log.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rewired-gh/marketalert/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db               *sqlx.DB
	maxNotifications int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/marketalert/data.db.
func New(maxNotifications int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "marketalert", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxNotifications: maxNotifications}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dedupe_state (
			symbol              TEXT PRIMARY KEY,
			previous_level      TEXT NOT NULL DEFAULT 'NO_ALERT',
			previous_cross_time INTEGER NOT NULL DEFAULT 0,
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			kind       TEXT NOT NULL,
			level      TEXT NOT NULL,
			cross_time INTEGER NOT NULL DEFAULT 0,
			sent_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type stateRow struct {
	Symbol            string `db:"symbol"`
	PreviousLevel     string `db:"previous_level"`
	PreviousCrossTime int64  `db:"previous_cross_time"`
	UpdatedAt         int64  `db:"updated_at"`
}

func (r stateRow) toModel() (*models.DedupeState, error) {
	level, err := models.ParseAlertLevel(r.PreviousLevel)
	if err != nil {
		return nil, err
	}
	return &models.DedupeState{PreviousLevel: level, PreviousCrossTime: r.PreviousCrossTime}, nil
}

const selectState = `SELECT symbol, previous_level, previous_cross_time, updated_at FROM dedupe_state WHERE symbol = ?`

// LoadState returns nil, nil when the symbol has no stored state.
func (s *Storage) LoadState(ctx context.Context, symbol string) (*models.DedupeState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, selectState, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return row.toModel()
}

// UpdateState applies fn to the stored state inside one transaction.
func (s *Storage) UpdateState(ctx context.Context, symbol string, fn func(*models.DedupeState) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	state := &models.DedupeState{PreviousLevel: models.NoAlert}
	var row stateRow
	err = tx.GetContext(ctx, &row, selectState, symbol)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to load state: %w", err)
	default:
		if state, err = row.toModel(); err != nil {
			return fmt.Errorf("corrupt state for %s: %w", symbol, err)
		}
	}

	if err := fn(state); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO dedupe_state (symbol, previous_level, previous_cross_time, updated_at)
		VALUES (?,?,?,?)`,
		symbol, state.PreviousLevel.String(), state.PreviousCrossTime, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return tx.Commit()
}

// LoadAllStates returns every stored state keyed by symbol.
func (s *Storage) LoadAllStates(ctx context.Context) (map[string]models.DedupeState, error) {
	var rows []stateRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT symbol, previous_level, previous_cross_time, updated_at FROM dedupe_state`); err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	states := make(map[string]models.DedupeState, len(rows))
	for _, r := range rows {
		st, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("corrupt state for %s: %w", r.Symbol, err)
		}
		states[r.Symbol] = *st
	}
	return states, nil
}

type notificationRow struct {
	ID        string `db:"id"`
	Symbol    string `db:"symbol"`
	Kind      string `db:"kind"`
	Level     string `db:"level"`
	CrossTime int64  `db:"cross_time"`
	SentAt    int64  `db:"sent_at"`
}

// AddNotification stores an audit record, assigning an ID when missing, and keeps at
// most maxNotifications newest rows.
func (s *Storage) AddNotification(ctx context.Context, rec *models.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO notifications (id, symbol, kind, level, cross_time, sent_at)
		VALUES (:id, :symbol, :kind, :level, :cross_time, :sent_at)`,
		notificationRow{
			ID:        rec.ID,
			Symbol:    rec.Symbol,
			Kind:      string(rec.Kind),
			Level:     rec.Level.String(),
			CrossTime: rec.CrossTime,
			SentAt:    rec.SentAt.UnixNano(),
		})
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	if s.maxNotifications > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM notifications WHERE id NOT IN (
				SELECT id FROM notifications ORDER BY sent_at DESC LIMIT ?
			)`, s.maxNotifications); err != nil {
			return fmt.Errorf("failed to enforce notification cap: %w", err)
		}
	}
	return tx.Commit()
}

// RecentNotifications returns up to k records, newest first.
func (s *Storage) RecentNotifications(ctx context.Context, k int) ([]models.NotificationRecord, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, symbol, kind, level, cross_time, sent_at
		FROM notifications ORDER BY sent_at DESC LIMIT ?`, k); err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	out := make([]models.NotificationRecord, 0, len(rows))
	for _, r := range rows {
		level, err := models.ParseAlertLevel(r.Level)
		if err != nil {
			return nil, fmt.Errorf("corrupt notification %s: %w", r.ID, err)
		}
		out = append(out, models.NotificationRecord{
			ID:        r.ID,
			Symbol:    r.Symbol,
			Kind:      models.NotificationKind(r.Kind),
			Level:     level,
			CrossTime: r.CrossTime,
			SentAt:    time.Unix(0, r.SentAt),
		})
	}
	return out, nil
}
