package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// saveSlot is the single system-wide save slot. Saving overwrites it
// wholesale; there is no per-exam history.
const saveSlot = "current_attempt"

// Bridge persists one attempt snapshot to the local SQLite file so an
// interrupted session can resume after a process restart. Reads fail
// open: a corrupt or unreadable row is logged and treated as absent,
// never surfaced as an error to the session.
type Bridge struct {
	db     *sql.DB
	logger *log.Logger
}

func NewBridge(ctx context.Context, db *sql.DB, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saved_attempts (
			slot TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create saved_attempts: %w", err)
	}
	return &Bridge{db: db, logger: logger}, nil
}

func (b *Bridge) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO saved_attempts (slot, payload, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, saveSlot, string(payload), snap.SavedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the saved snapshot, if any. Anything wrong with the row
// clears it and reports absence.
func (b *Bridge) Load(ctx context.Context) (Snapshot, bool) {
	var payload string
	err := b.db.QueryRowContext(ctx, `
		SELECT payload FROM saved_attempts WHERE slot = ?
	`, saveSlot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false
	}
	if err != nil {
		b.logger.Printf(`{"level":"warn","component":"attempt_bridge","msg":"load saved attempt","error":%q}`, err.Error())
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		b.logger.Printf(`{"level":"warn","component":"attempt_bridge","msg":"corrupt saved attempt discarded","error":%q}`, err.Error())
		_ = b.Clear(ctx)
		return Snapshot{}, false
	}
	if snap.ExamID == "" || snap.StartTime.IsZero() {
		b.logger.Printf(`{"level":"warn","component":"attempt_bridge","msg":"incomplete saved attempt discarded"}`)
		_ = b.Clear(ctx)
		return Snapshot{}, false
	}
	return snap, true
}

func (b *Bridge) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM saved_attempts WHERE slot = ?`, saveSlot); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
