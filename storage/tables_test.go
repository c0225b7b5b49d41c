package storage

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"order-board/domain"
)

type storedRow struct {
	data []byte
	etag int
}

// fakeStateRows keeps rows in memory and enforces ETag matching the way the
// table service does. afterGet runs after every read so a test can slip in
// a concurrent writer between the read and the write.
type fakeStateRows struct {
	mu       sync.Mutex
	rows     map[string]storedRow
	afterGet func(f *fakeStateRows)
	getErr   error
	gets     int
	adds     int
	updates  int
}

func newFakeStateRows() *fakeStateRows {
	return &fakeStateRows{rows: make(map[string]storedRow)}
}

func statusErr(code int) error {
	return &azcore.ResponseError{StatusCode: code}
}

func rowID(pk, rk string) string { return pk + "|" + rk }

// write stores a row as another writer would, bumping its ETag.
func (f *fakeStateRows) write(t *testing.T, st domain.CardState) {
	t.Helper()
	data, err := encodeState(st)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	id := rowID(st.TenantID, stateRowKey(st.CardID, st.DeliveryDate))
	f.rows[id] = storedRow{data: data, etag: f.rows[id].etag + 1}
}

func (f *fakeStateRows) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return aztables.GetEntityResponse{}, f.getErr
	}
	row, ok := f.rows[rowID(pk, rk)]
	var resp aztables.GetEntityResponse
	if ok {
		resp = aztables.GetEntityResponse{Value: row.data, ETag: azcore.ETag(strconv.Itoa(row.etag))}
	}
	if f.afterGet != nil {
		f.afterGet(f)
	}
	if !ok {
		return aztables.GetEntityResponse{}, statusErr(http.StatusNotFound)
	}
	return resp, nil
}

func (f *fakeStateRows) AddEntity(_ context.Context, data []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	var ent entity
	if err := decodeKeys(data, &ent); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	id := rowID(ent.PartitionKey, ent.RowKey)
	if _, exists := f.rows[id]; exists {
		return aztables.AddEntityResponse{}, statusErr(http.StatusConflict)
	}
	f.rows[id] = storedRow{data: data, etag: 1}
	return aztables.AddEntityResponse{ETag: "1"}, nil
}

func (f *fakeStateRows) UpdateEntity(_ context.Context, data []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	var ent entity
	if err := decodeKeys(data, &ent); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	id := rowID(ent.PartitionKey, ent.RowKey)
	cur, exists := f.rows[id]
	if !exists {
		return aztables.UpdateEntityResponse{}, statusErr(http.StatusNotFound)
	}
	if opts == nil || opts.IfMatch == nil || string(*opts.IfMatch) != strconv.Itoa(cur.etag) {
		return aztables.UpdateEntityResponse{}, statusErr(http.StatusPreconditionFailed)
	}
	f.rows[id] = storedRow{data: data, etag: cur.etag + 1}
	return aztables.UpdateEntityResponse{ETag: azcore.ETag(strconv.Itoa(cur.etag + 1))}, nil
}

func (f *fakeStateRows) stored(t *testing.T, tenantID, cardID, date string) domain.CardState {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(tenantID, stateRowKey(cardID, date))]
	if !ok {
		t.Fatalf("row %s not stored", cardID)
	}
	st, err := decodeState(row.data)
	if err != nil {
		t.Fatalf("decode stored row: %v", err)
	}
	return st
}

func newTestTables(rows *fakeStateRows, attempts int) *Tables {
	return &Tables{stateRows: rows, clock: NewClock(), casAttempts: attempts}
}

const (
	testTenant = "t1"
	testCard   = "1001-11-1"
	testDate   = "22/06/2025"
)

func strPtr(v string) *string { return &v }

func TestTablesUpsertCreatesRowFromDefaults(t *testing.T) {
	rows := newFakeStateRows()
	tables := newTestTables(rows, 3)

	st, err := tables.Upsert(context.Background(), testTenant, testCard, testDate, domain.StatePatch{Notes: strPtr("ribbon")})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if st.Status != domain.StatusUnassigned || st.Notes != "ribbon" || st.SortOrder != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
	if rows.adds != 1 || rows.updates != 0 {
		t.Fatalf("expected one add, got adds=%d updates=%d", rows.adds, rows.updates)
	}
	if got := rows.stored(t, testTenant, testCard, testDate); got.Notes != "ribbon" || !got.UpdatedAt.Equal(st.UpdatedAt) {
		t.Fatalf("stored row differs: %+v", got)
	}
}

func TestTablesUpsertRetriesLostUpdateAgainstFreshRow(t *testing.T) {
	rows := newFakeStateRows()
	seeded := time.Date(2025, 6, 22, 7, 0, 0, 0, time.UTC)
	rows.write(t, domain.CardState{TenantID: testTenant, CardID: testCard, DeliveryDate: testDate, Status: domain.StatusAssigned, AssignedTo: "ana", UpdatedAt: seeded})

	raced := false
	rows.afterGet = func(f *fakeStateRows) {
		if raced {
			return
		}
		raced = true
		f.write(t, domain.CardState{TenantID: testTenant, CardID: testCard, DeliveryDate: testDate, Status: domain.StatusAssigned, AssignedTo: "ana", Notes: "call first", UpdatedAt: seeded.Add(time.Second)})
	}
	tables := newTestTables(rows, 3)

	completed := domain.StatusCompleted
	st, err := tables.Upsert(context.Background(), testTenant, testCard, testDate, domain.StatePatch{Status: &completed})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rows.updates != 2 {
		t.Fatalf("expected a rejected then an accepted update, got %d", rows.updates)
	}
	if st.Status != domain.StatusCompleted || st.AssignedTo != "ana" || st.Notes != "call first" {
		t.Fatalf("patch was not merged onto the concurrent write: %+v", st)
	}
	if got := rows.stored(t, testTenant, testCard, testDate); got.Notes != "call first" || got.Status != domain.StatusCompleted {
		t.Fatalf("stored row lost a write: %+v", got)
	}
}

func TestTablesUpsertRetriesWhenCreateRaces(t *testing.T) {
	rows := newFakeStateRows()
	raced := false
	rows.afterGet = func(f *fakeStateRows) {
		if raced {
			return
		}
		raced = true
		f.write(t, domain.CardState{TenantID: testTenant, CardID: testCard, DeliveryDate: testDate, Status: domain.StatusUnassigned, SortOrder: 30, UpdatedAt: time.Now().UTC()})
	}
	tables := newTestTables(rows, 3)

	st, err := tables.Upsert(context.Background(), testTenant, testCard, testDate, domain.StatePatch{AssignedTo: strPtr("li")})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rows.adds != 1 || rows.updates != 1 {
		t.Fatalf("expected a conflicting add then an update, got adds=%d updates=%d", rows.adds, rows.updates)
	}
	if st.AssignedTo != "li" || st.SortOrder != 30 {
		t.Fatalf("expected sortOrder from the concurrent create to survive: %+v", st)
	}
}

func TestTablesUpsertGivesUpAfterAttempts(t *testing.T) {
	rows := newFakeStateRows()
	rows.write(t, domain.CardState{TenantID: testTenant, CardID: testCard, DeliveryDate: testDate, UpdatedAt: time.Now().UTC()})
	rows.afterGet = func(f *fakeStateRows) {
		f.write(t, domain.CardState{TenantID: testTenant, CardID: testCard, DeliveryDate: testDate, Notes: "busy", UpdatedAt: time.Now().UTC()})
	}
	tables := newTestTables(rows, 4)

	_, err := tables.Upsert(context.Background(), testTenant, testCard, testDate, domain.StatePatch{Notes: strPtr("mine")})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if rows.gets != 4 || rows.updates != 4 {
		t.Fatalf("expected 4 attempts, got gets=%d updates=%d", rows.gets, rows.updates)
	}
	if got := rows.stored(t, testTenant, testCard, testDate); got.Notes != "busy" {
		t.Fatalf("rejected write must not land: %+v", got)
	}
}

func TestTablesUpsertPropagatesReadErrors(t *testing.T) {
	rows := newFakeStateRows()
	rows.getErr = errors.New("table unavailable")
	tables := newTestTables(rows, 3)

	if _, err := tables.Upsert(context.Background(), testTenant, testCard, testDate, domain.StatePatch{Notes: strPtr("x")}); err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected the read error, got %v", err)
	}
	if rows.gets != 1 || rows.adds != 0 || rows.updates != 0 {
		t.Fatalf("read failure must not retry or write: gets=%d adds=%d updates=%d", rows.gets, rows.adds, rows.updates)
	}
}
