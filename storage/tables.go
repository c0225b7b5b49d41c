package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"order-board/domain"
)

// defaultCASAttempts bounds the optimistic retry loop of a card state upsert.
const defaultCASAttempts = 8

// stateRowClient is the part of the table client the card state upsert
// needs.
type stateRowClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, data []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, data []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
}

// TableNames lists the tables backing a Tables store.
type TableNames struct {
	Orders     string
	CardStates string
	Labels     string
	Stores     string
}

// Tables persists orders, card states, labels and stores in Azure Table
// Storage. Every row is partitioned by tenant.
type Tables struct {
	svc         *aztables.ServiceClient
	names       TableNames
	orders      *aztables.Client
	states      *aztables.Client
	labels      *aztables.Client
	stores      *aztables.Client
	stateRows   stateRowClient
	clock       *Clock
	casAttempts int
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr string, names TableNames) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	states := svc.NewClient(names.CardStates)
	return &Tables{
		svc:         svc,
		names:       names,
		orders:      svc.NewClient(names.Orders),
		states:      states,
		labels:      svc.NewClient(names.Labels),
		stores:      svc.NewClient(names.Stores),
		stateRows:   states,
		clock:       NewClock(),
		casAttempts: defaultCASAttempts,
	}, nil
}

// Close is a no-op; table clients hold no pooled connections.
func (t *Tables) Close() {}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// Provision creates any missing table.
func (t *Tables) Provision(ctx context.Context) error {
	for _, name := range []string{t.names.Orders, t.names.CardStates, t.names.Labels, t.names.Stores} {
		if name == "" {
			continue
		}
		if _, err := t.svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return fmt.Errorf("create table %s: %w", name, err)
			}
		}
	}
	return nil
}

// Ping checks that the card state table is reachable.
func (t *Tables) Ping(ctx context.Context) error {
	_, err := t.states.GetEntity(ctx, "healthz", "healthz", nil)
	if err == nil || hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (t *Tables) list(ctx context.Context, client *aztables.Client, filter string, fn func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Upsert merges patch onto the stored card state with an ETag guarded
// read-modify-write. Lost races are retried against the fresh row.
func (t *Tables) Upsert(ctx context.Context, tenantID, cardID, deliveryDate string, patch domain.StatePatch) (domain.CardState, error) {
	rk := stateRowKey(cardID, deliveryDate)
	for attempt := 0; attempt < t.casAttempts; attempt++ {
		var (
			cur  domain.StoredState
			etag *azcore.ETag
		)
		resp, err := t.stateRows.GetEntity(ctx, tenantID, rk, nil)
		switch {
		case err == nil:
			st, derr := decodeState(resp.Value)
			if derr != nil {
				return domain.CardState{}, derr
			}
			cur = domain.Present(st)
			e := resp.ETag
			etag = &e
		case hasStatus(err, http.StatusNotFound):
		default:
			return domain.CardState{}, err
		}

		next := patch.Apply(cur.WithDefaults(tenantID, cardID, deliveryDate), t.clock.Next())
		next.TenantID, next.CardID, next.DeliveryDate = tenantID, cardID, deliveryDate
		payload, err := encodeState(next)
		if err != nil {
			return domain.CardState{}, err
		}

		if etag == nil {
			_, err = t.stateRows.AddEntity(ctx, payload, nil)
			if hasStatus(err, http.StatusConflict) {
				continue
			}
		} else {
			_, err = t.stateRows.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: etag, UpdateMode: aztables.UpdateModeReplace})
			if hasStatus(err, http.StatusPreconditionFailed) {
				continue
			}
		}
		if err != nil {
			return domain.CardState{}, err
		}
		return next, nil
	}
	return domain.CardState{}, fmt.Errorf("card %s after %d attempts: %w", cardID, t.casAttempts, domain.ErrConcurrencyConflict)
}

// Get returns the stored card state, if any.
func (t *Tables) Get(ctx context.Context, tenantID, cardID, deliveryDate string) (domain.StoredState, error) {
	resp, err := t.states.GetEntity(ctx, tenantID, stateRowKey(cardID, deliveryDate), nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.StoredState{}, nil
		}
		return domain.StoredState{}, err
	}
	st, err := decodeState(resp.Value)
	if err != nil {
		return domain.StoredState{}, err
	}
	return domain.Present(st), nil
}

// GetAllForDate returns every card state of a delivery date keyed by card id.
func (t *Tables) GetAllForDate(ctx context.Context, tenantID, deliveryDate string) (map[string]domain.CardState, error) {
	filter := "PartitionKey eq " + odataString(tenantID) + " and DeliveryDate eq " + odataString(deliveryDate)
	out := make(map[string]domain.CardState)
	err := t.list(ctx, t.states, filter, func(data []byte) error {
		st, err := decodeState(data)
		if err != nil {
			return err
		}
		out[st.CardID] = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChangedSince returns rows updated after since, newest first.
func (t *Tables) GetChangedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.CardState, error) {
	filter := "PartitionKey eq " + odataString(tenantID) + " and UpdatedAt gt " + odataTime(since)
	var out []domain.CardState
	err := t.list(ctx, t.states, filter, func(data []byte) error {
		st, err := decodeState(data)
		if err != nil {
			return err
		}
		// The filter compares at the service's precision; re-check here.
		if st.UpdatedAt.After(since) {
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ClearDate deletes every card state of a delivery date.
func (t *Tables) ClearDate(ctx context.Context, tenantID, deliveryDate string) (int, error) {
	filter := "PartitionKey eq " + odataString(tenantID) + " and DeliveryDate eq " + odataString(deliveryDate)
	var keys []string
	err := t.list(ctx, t.states, filter, func(data []byte) error {
		var ent entity
		if err := decodeKeys(data, &ent); err != nil {
			return err
		}
		keys = append(keys, ent.RowKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rk := range keys {
		if _, err := t.states.DeleteEntity(ctx, tenantID, rk, nil); err != nil {
			if hasStatus(err, http.StatusNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// GetOrder returns an order by its upstream id.
func (t *Tables) GetOrder(ctx context.Context, tenantID, upstreamOrderID string) (domain.Order, error) {
	resp, err := t.orders.GetEntity(ctx, tenantID, upstreamOrderID, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Order{}, fmt.Errorf("order %s: %w", upstreamOrderID, domain.ErrNotFound)
		}
		return domain.Order{}, err
	}
	return decodeOrder(resp.Value)
}

// UpsertOrder creates or replaces an order row.
func (t *Tables) UpsertOrder(ctx context.Context, o domain.Order) error {
	payload, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = t.orders.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// ListOrdersForDate returns the orders due on a delivery date.
func (t *Tables) ListOrdersForDate(ctx context.Context, tenantID, deliveryDate string) ([]domain.Order, error) {
	filter := "PartitionKey eq " + odataString(tenantID) + " and DeliveryDate eq " + odataString(deliveryDate)
	orders := []domain.Order{}
	err := t.list(ctx, t.orders, filter, func(data []byte) error {
		o, err := decodeOrder(data)
		if err != nil {
			return err
		}
		orders = append(orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListLabelAssociations returns every product label association of a tenant.
func (t *Tables) ListLabelAssociations(ctx context.Context, tenantID string) ([]domain.LabelAssociation, error) {
	var out []domain.LabelAssociation
	err := t.list(ctx, t.labels, "PartitionKey eq "+odataString(tenantID), func(data []byte) error {
		a, err := decodeLabels(data)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStores returns a tenant's stores.
func (t *Tables) ListStores(ctx context.Context, tenantID string) ([]domain.Store, error) {
	var out []domain.Store
	err := t.list(ctx, t.stores, "PartitionKey eq "+odataString(tenantID), func(data []byte) error {
		s, err := decodeStore(data)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
