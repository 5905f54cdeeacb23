package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"verifykit/internal/domain"
)

// ProfileLoader loads widget profiles stored as JSONB params from Postgres.
type ProfileLoader struct {
	pool *pgxpool.Pool
}

func NewProfileLoader(pool *pgxpool.Pool) *ProfileLoader {
	return &ProfileLoader{pool: pool}
}

func (l *ProfileLoader) LoadProfile(ctx context.Context, profileID string) (domain.Profile, error) {
	var (
		mode string
		raw  []byte
	)
	err := l.pool.QueryRow(ctx, `SELECT mode, params FROM profiles WHERE id=$1`, profileID).Scan(&mode, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, profileID)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	p := domain.Profile{ID: profileID, Mode: domain.Mode(mode)}
	if err := json.Unmarshal(raw, &p.Params); err != nil {
		return domain.Profile{}, fmt.Errorf("unmarshal profile params: %w", err)
	}
	return p, nil
}

// SaveProfile inserts or replaces a profile.
func (l *ProfileLoader) SaveProfile(ctx context.Context, p domain.Profile) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMode, p.Mode)
	}
	raw, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("marshal profile params: %w", err)
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO profiles (id, mode, params) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id) DO UPDATE SET mode=EXCLUDED.mode, params=EXCLUDED.params, updated_at=now()`,
		p.ID, string(p.Mode), string(raw))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
