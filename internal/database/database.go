package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"poolguard/internal/pipeline"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// RiskEventRecord represents a risk transition stored in the database
type RiskEventRecord struct {
	ID               string
	Previous         pipeline.WarningLevel
	Current          pipeline.WarningLevel
	FrameSeq         uint64
	Timestamp        time.Time
	NotificationSent bool
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable
func (d *Database) Ping() error {
	return d.db.Ping()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			previous_level INTEGER NOT NULL,
			current_level INTEGER NOT NULL,
			frame_seq INTEGER NOT NULL DEFAULT 0,
			timestamp DATETIME NOT NULL,
			notification_sent INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_time ON risk_events(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("[Database] Migrations completed successfully")
	return nil
}

// SaveRiskEvent saves a risk transition. Saving the same ID again only
// updates the notification flag.
func (d *Database) SaveRiskEvent(event *RiskEventRecord) error {
	notificationSent := 0
	if event.NotificationSent {
		notificationSent = 1
	}

	query := `INSERT INTO risk_events
		(id, previous_level, current_level, frame_seq, timestamp, notification_sent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notification_sent = excluded.notification_sent`

	_, err := d.db.Exec(query, event.ID, int(event.Previous), int(event.Current),
		int64(event.FrameSeq), event.Timestamp.UTC(), notificationSent)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

// MarkNotified flags a risk event as notified
func (d *Database) MarkNotified(id string) error {
	_, err := d.db.Exec("UPDATE risk_events SET notification_sent = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark risk event notified: %w", err)
	}
	return nil
}

// GetRiskEvent retrieves a risk event by ID
func (d *Database) GetRiskEvent(id string) (*RiskEventRecord, error) {
	query := `SELECT id, previous_level, current_level, frame_seq, timestamp, notification_sent
		FROM risk_events WHERE id = ?`

	event, err := scanRiskEvent(d.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk event: %w", err)
	}
	return event, nil
}

// ListRiskEvents returns risk events newest first, optionally filtered by
// time and minimum level
func (d *Database) ListRiskEvents(since *time.Time, minLevel pipeline.WarningLevel, limit int) ([]*RiskEventRecord, error) {
	query := `SELECT id, previous_level, current_level, frame_seq, timestamp, notification_sent
		FROM risk_events WHERE current_level >= ?`
	args := []any{int(minLevel)}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk events: %w", err)
	}
	defer rows.Close()

	events := []*RiskEventRecord{}
	for rows.Next() {
		event, err := scanRiskEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountRiskEvents returns the number of stored risk events
func (d *Database) CountRiskEvents() (int, error) {
	var n int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM risk_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count risk events: %w", err)
	}
	return n, nil
}

// DeleteOldRiskEvents deletes events older than the specified time
func (d *Database) DeleteOldRiskEvents(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM risk_events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old risk events: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRiskEvent(row rowScanner) (*RiskEventRecord, error) {
	var event RiskEventRecord
	var previous, current, notificationSent int
	var frameSeq int64

	if err := row.Scan(&event.ID, &previous, &current, &frameSeq, &event.Timestamp, &notificationSent); err != nil {
		return nil, err
	}
	event.Previous = pipeline.WarningLevel(previous)
	event.Current = pipeline.WarningLevel(current)
	event.FrameSeq = uint64(frameSeq)
	event.NotificationSent = notificationSent == 1
	return &event, nil
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}
