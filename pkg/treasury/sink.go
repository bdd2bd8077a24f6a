package treasury

import (
	"context"
	"sync"
)

// LocalSink settles payments into an in-process recipient ledger. It
// stands in for an external settlement rail in single-node deployments
// and records every settled payment for inspection.
type LocalSink struct {
	mu      sync.Mutex
	settled map[string]int64
	history []Payment
}

// NewLocalSink returns an empty local settlement sink.
func NewLocalSink() *LocalSink {
	return &LocalSink{settled: make(map[string]int64)}
}

// Transfer settles every payment in the batch. The batch is atomic by
// construction: all credits happen under one lock acquisition.
func (s *LocalSink) Transfer(ctx context.Context, payments []Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range payments {
		s.settled[p.Recipient] += p.Amount
		s.history = append(s.history, p)
	}
	return nil
}

// Settled returns the total settled to a recipient.
func (s *LocalSink) Settled(recipient string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled[recipient]
}

// History returns a copy of every settled payment in order.
func (s *LocalSink) History() []Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payment(nil), s.history...)
}
