// Package sqlite keeps widget profiles in a single-file SQLite database for
// deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"verifykit/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id     TEXT PRIMARY KEY,
	mode   TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}'
)`

// ProfileStore reads and writes profiles in SQLite.
type ProfileStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*ProfileStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create profiles table: %w", err)
	}
	return &ProfileStore{db: db}, nil
}

func (s *ProfileStore) Close() error {
	return s.db.Close()
}

func (s *ProfileStore) LoadProfile(ctx context.Context, profileID string) (domain.Profile, error) {
	var mode, raw string
	err := s.db.QueryRowContext(ctx, `SELECT mode, params FROM profiles WHERE id = ?`, profileID).Scan(&mode, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, profileID)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	p := domain.Profile{ID: profileID, Mode: domain.Mode(mode)}
	if err := json.Unmarshal([]byte(raw), &p.Params); err != nil {
		return domain.Profile{}, fmt.Errorf("unmarshal profile params: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMode, p.Mode)
	}
	raw, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("marshal profile params: %w", err)
	}
	query := `
		INSERT INTO profiles (id, mode, params) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET mode = excluded.mode, params = excluded.params
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, string(p.Mode), string(raw)); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Profiles lists every stored profile ordered by id.
func (s *ProfileStore) Profiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, mode, params FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.Profile
	for rows.Next() {
		var id, mode, raw string
		if err := rows.Scan(&id, &mode, &raw); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p := domain.Profile{ID: id, Mode: domain.Mode(mode)}
		if err := json.Unmarshal([]byte(raw), &p.Params); err != nil {
			return nil, fmt.Errorf("unmarshal profile %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
