package memory

import (
	"context"
	"sync"

	"verifykit/internal/domain"
)

// OutcomeLog keeps recorded outcomes in memory.
type OutcomeLog struct {
	mu      sync.Mutex
	records []domain.OutcomeRecord
}

func NewOutcomeLog() *OutcomeLog {
	return &OutcomeLog{}
}

func (l *OutcomeLog) RecordOutcome(_ context.Context, rec domain.OutcomeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (l *OutcomeLog) Records() []domain.OutcomeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.OutcomeRecord(nil), l.records...)
}
