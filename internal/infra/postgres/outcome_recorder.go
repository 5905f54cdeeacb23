package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"verifykit/internal/domain"
)

// OutcomeRecorder appends completed attempts to the outcomes table.
type OutcomeRecorder struct {
	pool *pgxpool.Pool
}

func NewOutcomeRecorder(pool *pgxpool.Pool) *OutcomeRecorder {
	return &OutcomeRecorder{pool: pool}
}

func (r *OutcomeRecorder) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO outcomes (session_id, profile_id, mode, generation, success, duration_ms, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.SessionID, rec.ProfileID, string(rec.Mode), int64(rec.Generation), rec.Success,
		rec.Duration.Milliseconds(), rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// SuccessRate returns successes and total attempts of a profile.
func (r *OutcomeRecorder) SuccessRate(ctx context.Context, profileID string) (success, total int64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE success), COUNT(*) FROM outcomes WHERE profile_id=$1`, profileID).
		Scan(&success, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("query success rate: %w", err)
	}
	return success, total, nil
}
