// Package history persists completed analyses and per-user preference
// profiles in SQLite, so results survive the session that produced them.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"maisoku/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_history (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    analysis         TEXT NOT NULL,
    processing_ms    INTEGER NOT NULL DEFAULT 0,
    is_personalized  INTEGER NOT NULL DEFAULT 0,
    result_timestamp TEXT NOT NULL,
    metadata_json    TEXT,
    image_ref        TEXT,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_user_created
    ON analysis_history(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS preference_profiles (
    user_id      TEXT PRIMARY KEY,
    profile_json TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
`

// Store manages history persistence backed by SQLite. It implements both
// ports.HistoryStore and ports.PreferenceStore.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts a completed analysis and returns its identifier.
func (s *Store) Save(ctx context.Context, entry domain.HistoryEntry) (string, error) {
	if entry.ID == "" {
		return "", errors.New("history entry requires an id")
	}
	if entry.UserID == "" {
		return "", errors.New("history entry requires a user id")
	}

	var metadataJSON *string
	if len(entry.Result.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Result.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		text := string(encoded)
		metadataJSON = &text
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO analysis_history (
            id, user_id, analysis, processing_ms, is_personalized,
            result_timestamp, metadata_json, image_ref, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Result.Analysis,
		entry.Result.ProcessingTime.Milliseconds(),
		boolToInt(entry.Result.IsPersonalized),
		entry.Result.Timestamp.UTC().Format(time.RFC3339Nano),
		metadataJSON,
		nullableString(entry.ImageRef),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert history entry: %w", err)
	}
	return entry.ID, nil
}

// List returns the user's entries, newest first. limit <= 0 applies a
// default of 20, matching the analysis API's history endpoint.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, analysis, processing_ms, is_personalized,
                result_timestamp, metadata_json, image_ref, created_at
         FROM analysis_history
         WHERE user_id = ?
         ORDER BY created_at DESC
         LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Get fetches one entry scoped to its owner; (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, userID, id string) (*domain.HistoryEntry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, analysis, processing_ms, is_personalized,
                result_timestamp, metadata_json, image_ref, created_at
         FROM analysis_history
         WHERE user_id = ? AND id = ?`,
		userID,
		id,
	)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Delete removes one entry scoped to its owner. Deleting an absent entry is
// not an error.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM analysis_history WHERE user_id = ? AND id = ?`,
		userID,
		id,
	); err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	return nil
}

// LoadProfile returns the user's preference profile, or (nil, nil) when none
// has been saved.
func (s *Store) LoadProfile(ctx context.Context, userID string) (*domain.PreferenceProfile, error) {
	var encoded string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT profile_json FROM preference_profiles WHERE user_id = ?`,
		userID,
	).Scan(&encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}

	var profile domain.PreferenceProfile
	if err := json.Unmarshal([]byte(encoded), &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// SaveProfile upserts the user's preference profile.
func (s *Store) SaveProfile(ctx context.Context, userID string, profile domain.PreferenceProfile) error {
	if userID == "" {
		return errors.New("profile requires a user id")
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO preference_profiles (user_id, profile_json, updated_at)
         VALUES (?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET
            profile_json = excluded.profile_json,
            updated_at = excluded.updated_at`,
		userID,
		string(encoded),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.HistoryEntry, error) {
	var (
		entry           domain.HistoryEntry
		processingMS    int64
		isPersonalized  int
		resultTimestamp string
		metadataJSON    sql.NullString
		imageRef        sql.NullString
		createdAt       string
	)

	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Result.Analysis,
		&processingMS,
		&isPersonalized,
		&resultTimestamp,
		&metadataJSON,
		&imageRef,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("scan history entry: %w", err)
	}

	entry.Result.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	entry.Result.IsPersonalized = isPersonalized != 0
	if ts, err := time.Parse(time.RFC3339Nano, resultTimestamp); err == nil {
		entry.Result.Timestamp = ts
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Result.Metadata); err != nil {
			return entry, fmt.Errorf("decode metadata: %w", err)
		}
	}
	entry.ImageRef = imageRef.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = ts
	}
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
