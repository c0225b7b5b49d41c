package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedQueue struct {
	counts []int32
	calls  int
	err    error
}

func (s *scriptedQueue) Pending(context.Context) (int32, error) {
	if s.err != nil {
		return 0, s.err
	}
	i := s.calls
	if i >= len(s.counts) {
		i = len(s.counts) - 1
	}
	s.calls++
	return s.counts[i], nil
}

func TestWaitDrainedRequiresStableEmptyPolls(t *testing.T) {
	q := &scriptedQueue{counts: []int32{3, 0, 1, 0, 0}}
	err := waitDrained(context.Background(), time.Millisecond, 2, map[string]pendingCounter{"order-ingest": q})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.calls != 5 {
		t.Fatalf("expected 5 polls, got %d", q.calls)
	}
}

func TestWaitDrainedTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := waitDrained(ctx, time.Millisecond, 1, map[string]pendingCounter{"q": &scriptedQueue{counts: []int32{1}}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitDrainedPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	err := waitDrained(context.Background(), time.Millisecond, 1, map[string]pendingCounter{"q": &scriptedQueue{err: boom}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
