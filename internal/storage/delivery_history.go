package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// DeliveryHistory is an append-only log of delivery outcomes
type DeliveryHistory interface {
	// Append stores a delivery record
	Append(ctx context.Context, record model.DeliveryRecord) error

	// List returns records newest first. limit <= 0 returns all records.
	List(ctx context.Context, limit int) ([]model.DeliveryRecord, error)

	// DeleteBefore deletes records created before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteDeliveryHistory implements DeliveryHistory using SQLite
type SQLiteDeliveryHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteDeliveryHistory opens (or creates) the history database at dbPath
func NewSQLiteDeliveryHistory(logger *zap.Logger, dbPath string) (*SQLiteDeliveryHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	h := &SQLiteDeliveryHistory{
		logger: logger.Named("delivery-history"),
		db:     db,
	}

	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

func (s *SQLiteDeliveryHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			recipient_id TEXT NOT NULL,
			priority TEXT NOT NULL,
			threat_type TEXT,
			severity INTEGER NOT NULL,
			channels_attempted TEXT NOT NULL,
			successful_channels TEXT NOT NULL,
			total_success INTEGER NOT NULL,
			delivery_time_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_delivery_history_recipient ON delivery_history(recipient_id);
		CREATE INDEX IF NOT EXISTS idx_delivery_history_created_at ON delivery_history(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Append implements DeliveryHistory.Append
func (s *SQLiteDeliveryHistory) Append(ctx context.Context, record model.DeliveryRecord) error {
	attempted, err := json.Marshal(record.ChannelsAttempted)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	successful, err := json.Marshal(record.SuccessfulChannels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_history (
			id, recipient_id, priority, threat_type, severity,
			channels_attempted, successful_channels, total_success,
			delivery_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RecipientID,
		string(record.Priority),
		record.ThreatType,
		record.Severity,
		string(attempted),
		string(successful),
		record.TotalSuccess,
		record.DeliveryTimeMs,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store delivery record: %w", err)
	}
	return nil
}

// List implements DeliveryHistory.List
func (s *SQLiteDeliveryHistory) List(ctx context.Context, limit int) ([]model.DeliveryRecord, error) {
	query := `SELECT id, recipient_id, priority, threat_type, severity,
		channels_attempted, successful_channels, total_success,
		delivery_time_ms, created_at
		FROM delivery_history ORDER BY seq DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery history: %w", err)
	}
	defer rows.Close()

	var records []model.DeliveryRecord
	for rows.Next() {
		var r model.DeliveryRecord
		var priority string
		var threatType sql.NullString
		var attempted, successful string

		err := rows.Scan(
			&r.ID,
			&r.RecipientID,
			&priority,
			&threatType,
			&r.Severity,
			&attempted,
			&successful,
			&r.TotalSuccess,
			&r.DeliveryTimeMs,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}

		r.Priority = model.Priority(priority)
		if threatType.Valid {
			r.ThreatType = threatType.String
		}
		if err := json.Unmarshal([]byte(attempted), &r.ChannelsAttempted); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}
		if err := json.Unmarshal([]byte(successful), &r.SuccessfulChannels); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// DeleteBefore implements DeliveryHistory.DeleteBefore
func (s *SQLiteDeliveryHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM delivery_history WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete delivery history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old delivery records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteDeliveryHistory) Close() error {
	return s.db.Close()
}
