package overlay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"order-board/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]domain.CardState
	clock   time.Time
	failFor map[string]error
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    make(map[string]domain.CardState),
		clock:   time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC),
		failFor: make(map[string]error),
	}
}

func rowKey(tenantID, cardID, date string) string { return tenantID + "|" + cardID + "|" + date }

func (f *fakeStore) Upsert(_ context.Context, tenantID, cardID, date string, patch domain.StatePatch) (domain.CardState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[cardID]; err != nil {
		return domain.CardState{}, err
	}
	f.upserts++
	f.clock = f.clock.Add(time.Microsecond)
	k := rowKey(tenantID, cardID, date)
	cur, ok := f.rows[k]
	next := domain.StoredState{State: cur, Found: ok}.WithDefaults(tenantID, cardID, date)
	next = patch.Apply(next, f.clock)
	f.rows[k] = next
	return next, nil
}

func (f *fakeStore) Get(_ context.Context, tenantID, cardID, date string) (domain.StoredState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.rows[rowKey(tenantID, cardID, date)]
	return domain.StoredState{State: st, Found: ok}, nil
}

func (f *fakeStore) GetAllForDate(_ context.Context, tenantID, date string) (map[string]domain.CardState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.CardState)
	for _, st := range f.rows {
		if st.TenantID == tenantID && st.DeliveryDate == date {
			out[st.CardID] = st
		}
	}
	return out, nil
}

func (f *fakeStore) GetChangedSince(_ context.Context, tenantID string, since time.Time) ([]domain.CardState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CardState
	for _, st := range f.rows {
		if st.TenantID == tenantID && st.UpdatedAt.After(since) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) ClearDate(_ context.Context, tenantID, date string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, st := range f.rows {
		if st.TenantID == tenantID && st.DeliveryDate == date {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

var errBoom = errors.New("boom")
