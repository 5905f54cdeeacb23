package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"verifykit/internal/domain"
)

// OutcomeCounter aggregates outcomes per profile in a hash:
// HINCRBY verify:outcomes:{profileID} success|failure 1
// HINCRBY verify:outcomes:{profileID} duration_ms {ms}
type OutcomeCounter struct {
	client *redis.Client
}

func NewOutcomeCounter(client *redis.Client) *OutcomeCounter {
	return &OutcomeCounter{client: client}
}

// OutcomeStats is the aggregated view of one profile.
type OutcomeStats struct {
	Success    int64
	Failure    int64
	DurationMS int64
}

func (c *OutcomeCounter) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	field := "failure"
	if rec.Success {
		field = "success"
	}
	key := c.key(rec.ProfileID)
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.HIncrBy(ctx, key, "duration_ms", rec.Duration.Milliseconds())
	pipe.HSet(ctx, key, "mode", string(rec.Mode))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("count outcome: %w", err)
	}
	return nil
}

// Stats reads the counters of a profile. Missing profiles report zeros.
func (c *OutcomeCounter) Stats(ctx context.Context, profileID string) (OutcomeStats, error) {
	fields, err := c.client.HGetAll(ctx, c.key(profileID)).Result()
	if err != nil {
		return OutcomeStats{}, fmt.Errorf("read outcome stats: %w", err)
	}
	parse := func(name string) int64 {
		v, _ := strconv.ParseInt(fields[name], 10, 64)
		return v
	}
	return OutcomeStats{
		Success:    parse("success"),
		Failure:    parse("failure"),
		DurationMS: parse("duration_ms"),
	}, nil
}

func (c *OutcomeCounter) key(profileID string) string {
	return "verify:outcomes:" + profileID
}
