package feed

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	rows   []domain.CardState
	fail   int
	calls  int
	sinces []time.Time
}

func (f *fakeSource) GetChangedSince(_ context.Context, tenantID string, since time.Time) ([]domain.CardState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sinces = append(f.sinces, since)
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("table timeout")
	}
	var out []domain.CardState
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].TenantID == tenantID && f.rows[i].UpdatedAt.After(since) {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

func (f *fakeSource) put(st domain.CardState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, st)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func fastConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, Lookback: time.Minute, SkewAllowance: time.Second, DedupeSize: 100}
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeDeliversEachChangeOnce(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, fastConfig(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := svc.Subscribe(ctx, "t1")
	if ev := next(t, events); ev.Type != EventConnected {
		t.Fatalf("expected connected, got %s", ev.Type)
	}

	updated := time.Now().UTC()
	src.put(domain.CardState{TenantID: "t1", CardID: "1001-11-1", DeliveryDate: "22/06/2025", Status: domain.StatusAssigned, UpdatedAt: updated})
	src.put(domain.CardState{TenantID: "t2", CardID: "9-9-1", DeliveryDate: "22/06/2025", UpdatedAt: updated})

	var updates []Event
	heartbeatsAfter := 0
	deadline := time.After(2 * time.Second)
	for heartbeatsAfter < 3 {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventUpdate:
				updates = append(updates, ev)
			case EventHeartbeat:
				if len(updates) > 0 {
					heartbeatsAfter++
				}
			}
		case <-deadline:
			t.Fatalf("timed out; updates=%d", len(updates))
		}
	}

	if len(updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(updates))
	}
	ch := updates[0].Change
	if ch.CardID != "1001-11-1" || ch.UpstreamOrderID != "1001" || !ch.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected change: %+v", ch)
	}
}

func TestSubscribeEmitsNewVersionOfSameCard(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, fastConfig(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx, "t1")
	next(t, events)

	first := time.Now().UTC()
	src.put(domain.CardState{TenantID: "t1", CardID: "a", DeliveryDate: "d", UpdatedAt: first})
	waitFor(t, events, EventUpdate)
	src.put(domain.CardState{TenantID: "t1", CardID: "a", DeliveryDate: "d", UpdatedAt: first.Add(time.Millisecond)})
	ev := waitFor(t, events, EventUpdate)
	if !ev.Change.UpdatedAt.Equal(first.Add(time.Millisecond)) {
		t.Fatalf("expected second version, got %v", ev.Change.UpdatedAt)
	}
}

func waitFor(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	for {
		if ev := next(t, ch); ev.Type == typ {
			return ev
		}
	}
}

func TestSubscribeSurvivesPollErrors(t *testing.T) {
	src := &fakeSource{fail: 2}
	svc := NewService(src, fastConfig(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := svc.Subscribe(ctx, "t1")
	next(t, events)

	if ev := next(t, events); ev.Type != EventError || ev.Error == "" {
		t.Fatalf("expected error event, got %+v", ev)
	}
	if ev := next(t, events); ev.Type != EventError {
		t.Fatalf("expected second error event, got %s", ev.Type)
	}
	if ev := next(t, events); ev.Type != EventHeartbeat {
		t.Fatalf("expected recovery heartbeat, got %s", ev.Type)
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	svc := NewService(&fakeSource{}, fastConfig(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	events := svc.Subscribe(ctx, "t1")
	next(t, events)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription did not close")
		}
	}
}

func TestWindowClampsToLookback(t *testing.T) {
	svc := NewService(&fakeSource{}, Config{Lookback: 2 * time.Minute, SkewAllowance: 5 * time.Second}, quietLogger())
	now := time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC)

	since, truncated := svc.window(now.Add(-10*time.Second), now)
	if truncated || !since.Equal(now.Add(-15*time.Second)) {
		t.Fatalf("expected skew adjusted bound, got %v %v", since, truncated)
	}
	since, truncated = svc.window(now.Add(-time.Hour), now)
	if !truncated || !since.Equal(now.Add(-2*time.Minute)) {
		t.Fatalf("expected lookback floor, got %v %v", since, truncated)
	}
}

func TestChangesDedupesAndFlagsTruncation(t *testing.T) {
	now := time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: []domain.CardState{
		{TenantID: "t1", CardID: "1-1-1", DeliveryDate: "22/06/2025", UpdatedAt: now.Add(-30 * time.Second)},
		{TenantID: "t1", CardID: "1-1-2", DeliveryDate: "22/06/2025", UpdatedAt: now.Add(-20 * time.Second)},
		{TenantID: "t1", CardID: "1-1-1", DeliveryDate: "22/06/2025", UpdatedAt: now.Add(-10 * time.Second), Notes: "latest"},
	}}
	svc := NewService(src, Config{Lookback: 2 * time.Minute, SkewAllowance: 0}, quietLogger())
	svc.now = func() time.Time { return now }

	set, err := svc.Changes(context.Background(), "t1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if set.Truncated {
		t.Fatalf("did not expect truncation")
	}
	if len(set.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(set.Changes))
	}
	if set.Changes[0].CardID != "1-1-2" || set.Changes[1].State.Notes != "latest" {
		t.Fatalf("unexpected order or version: %+v", set.Changes)
	}
	if !set.Checkpoint.Equal(now) {
		t.Fatalf("checkpoint should be now")
	}

	set, err = svc.Changes(context.Background(), "t1", time.Time{})
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if !set.Truncated {
		t.Fatalf("expected truncation for zero since")
	}

	if _, err := svc.Changes(context.Background(), "t1", now.Add(time.Hour)); !errors.Is(err, ErrInvalidSince) {
		t.Fatalf("expected invalid since, got %v", err)
	}
}

func TestSubscribeBurstLargerThanDedupeSize(t *testing.T) {
	src := &fakeSource{}
	cfg := fastConfig()
	cfg.DedupeSize = 10
	svc := NewService(src, cfg, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := svc.Subscribe(ctx, "t1")
	if ev := next(t, events); ev.Type != EventConnected {
		t.Fatalf("expected connected, got %s", ev.Type)
	}

	base := time.Now().UTC()
	for i := 0; i < 120; i++ {
		src.put(domain.CardState{
			TenantID:     "t1",
			CardID:       "1001-11-" + strconv.Itoa(i+1),
			DeliveryDate: "22/06/2025",
			SortOrder:    (i + 1) * 10,
			UpdatedAt:    base.Add(time.Duration(i) * time.Microsecond),
		})
	}

	counts := make(map[string]int)
	heartbeatsAfter := 0
	deadline := time.After(3 * time.Second)
	for heartbeatsAfter < 5 {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventUpdate:
				counts[ev.Change.CardID]++
			case EventHeartbeat:
				if len(counts) > 0 {
					heartbeatsAfter++
				}
			}
		case <-deadline:
			t.Fatalf("timed out; distinct=%d", len(counts))
		}
	}

	if len(counts) != 120 {
		t.Fatalf("expected 120 distinct cards, got %d", len(counts))
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("card %s delivered %d times", id, n)
		}
	}
}

func TestSeenSetPrunesOutsideWindow(t *testing.T) {
	base := time.Date(2025, 6, 22, 9, 0, 0, 0, time.UTC)
	s := newSeenSet(1)
	if !s.add("a", base) || !s.add("b", base.Add(time.Second)) || !s.add("c", base.Add(2*time.Second)) {
		t.Fatalf("fresh keys must be new")
	}
	if s.add("a", base) {
		t.Fatalf("a is still remembered")
	}
	if s.len() != 3 {
		t.Fatalf("set must grow past its size hint, got %d", s.len())
	}
	s.prune(base.Add(time.Second))
	if s.len() != 1 {
		t.Fatalf("expected only c to survive, got %d", s.len())
	}
	if s.add("c", base.Add(2*time.Second)) {
		t.Fatalf("c is inside the window and must stay remembered")
	}
	if !s.add("a", base) {
		t.Fatalf("a should have been pruned")
	}
}
