package board

import (
	"context"
	"fmt"
	"sort"

	"order-board/cards"
	"order-board/domain"
)

// Card is a derived card merged with its overlay state.
type Card struct {
	domain.Card
	State      domain.CardState `json:"state"`
	StoreName  string           `json:"storeName"`
	TimeWindow Window           `json:"timeWindow"`
}

// View is the merged, grouped and sorted board for one delivery date.
type View struct {
	DeliveryDate string           `json:"deliveryDate"`
	AllCards     []Card           `json:"allCards"`
	MainCards    []Card           `json:"mainCards"`
	AddOnCards   []Card           `json:"addOnCards"`
	Containers   []StoreContainer `json:"containers"`
}

// StoreContainer groups a store's main cards by time window.
type StoreContainer struct {
	StoreKey  string         `json:"storeKey"`
	StoreName string         `json:"storeName"`
	Windows   []WindowBucket `json:"windows"`
}

// WindowBucket holds the sorted cards of one time window.
type WindowBucket struct {
	Window Window `json:"window"`
	Cards  []Card `json:"cards"`
}

// OrderSource lists the orders due on a delivery date.
type OrderSource interface {
	ListOrdersForDate(ctx context.Context, tenantID, deliveryDate string) ([]domain.Order, error)
}

// StateSource reads overlay rows for a delivery date.
type StateSource interface {
	GetAllForDate(ctx context.Context, tenantID, deliveryDate string) (map[string]domain.CardState, error)
}

// StoreSource lists a tenant's stores.
type StoreSource interface {
	ListStores(ctx context.Context, tenantID string) ([]domain.Store, error)
}

// Engine builds board views from orders, labels and overlay state.
type Engine struct {
	orders   OrderSource
	states   StateSource
	stores   StoreSource
	labels   cards.LabelSource
	deriver  *cards.Deriver
	prefixes map[string]string
}

// NewEngine wires an Engine. prefixes maps order-name prefixes to store names.
func NewEngine(orders OrderSource, states StateSource, stores StoreSource, labels cards.LabelSource, prefixes map[string]string) *Engine {
	return &Engine{
		orders:   orders,
		states:   states,
		stores:   stores,
		labels:   labels,
		deriver:  cards.NewDeriver(),
		prefixes: prefixes,
	}
}

// BuildBoard loads everything for a tenant and date and assembles the view.
func (e *Engine) BuildBoard(ctx context.Context, tenantID, deliveryDate string) (View, error) {
	orders, err := e.orders.ListOrdersForDate(ctx, tenantID, deliveryDate)
	if err != nil {
		return View{}, fmt.Errorf("list orders: %w", err)
	}
	idx, err := cards.LoadLabelIndex(ctx, e.labels, tenantID)
	if err != nil {
		return View{}, fmt.Errorf("load labels: %w", err)
	}
	states, err := e.states.GetAllForDate(ctx, tenantID, deliveryDate)
	if err != nil {
		return View{}, fmt.Errorf("load card states: %w", err)
	}
	stores, err := e.stores.ListStores(ctx, tenantID)
	if err != nil {
		return View{}, fmt.Errorf("list stores: %w", err)
	}
	return Assemble(Input{
		TenantID:     tenantID,
		DeliveryDate: deliveryDate,
		Orders:       orders,
		Labels:       idx,
		States:       states,
		Stores:       stores,
		Prefixes:     e.prefixes,
		Deriver:      e.deriver,
	}), nil
}

// Input is everything Assemble needs. It does no I/O.
type Input struct {
	TenantID     string
	DeliveryDate string
	Orders       []domain.Order
	Labels       *cards.LabelIndex
	States       map[string]domain.CardState
	Stores       []domain.Store
	Prefixes     map[string]string
	Deriver      *cards.Deriver
}

// Assemble derives cards, merges overlay state and groups the result.
func Assemble(in Input) View {
	deriver := in.Deriver
	if deriver == nil {
		deriver = cards.NewDeriver()
	}
	orders := append([]domain.Order(nil), in.Orders...)
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].UpstreamOrderID < orders[j].UpstreamOrderID
	})

	resolver := NewStoreResolver(in.Stores, in.Prefixes)
	view := View{
		DeliveryDate: in.DeliveryDate,
		MainCards:    []Card{},
		AddOnCards:   []Card{},
		Containers:   []StoreContainer{},
	}

	type bucketKey struct {
		store  string
		window Window
	}
	buckets := map[bucketKey][]Card{}
	refs := map[string]storeRef{}

	for _, o := range orders {
		mainCards, addOns := deriver.Derive(o, in.Labels)
		ref := resolver.resolve(o.StoreID, o.Name)
		window := Unscheduled
		if len(mainCards) > 0 {
			window = ResolveWindow(o.Tags, mainCards[0].ExpressTimeSlot)
		}
		for _, c := range mainCards {
			bc := merge(in, c, ref.name, window)
			view.MainCards = append(view.MainCards, bc)
			k := bucketKey{store: ref.key, window: window}
			buckets[k] = append(buckets[k], bc)
			refs[ref.key] = ref
		}
		for _, c := range addOns {
			view.AddOnCards = append(view.AddOnCards, merge(in, c, ref.name, ResolveWindow(o.Tags, c.ExpressTimeSlot)))
		}
	}

	SortCards(view.MainCards)
	SortCards(view.AddOnCards)
	view.AllCards = make([]Card, 0, len(view.MainCards)+len(view.AddOnCards))
	view.AllCards = append(view.AllCards, view.MainCards...)
	view.AllCards = append(view.AllCards, view.AddOnCards...)

	storeList := make([]storeRef, 0, len(refs))
	for _, ref := range refs {
		storeList = append(storeList, ref)
	}
	sort.Slice(storeList, func(i, j int) bool { return storeLess(storeList[i], storeList[j]) })
	for _, ref := range storeList {
		container := StoreContainer{StoreKey: ref.key, StoreName: ref.name, Windows: []WindowBucket{}}
		for _, w := range WindowOrder {
			cs, ok := buckets[bucketKey{store: ref.key, window: w}]
			if !ok {
				continue
			}
			SortCards(cs)
			container.Windows = append(container.Windows, WindowBucket{Window: w, Cards: cs})
		}
		view.Containers = append(view.Containers, container)
	}
	return view
}

func merge(in Input, c domain.Card, storeName string, window Window) Card {
	stored := domain.StoredState{}
	if st, ok := in.States[c.CardID]; ok {
		stored = domain.Present(st)
	}
	return Card{
		Card:       c,
		State:      stored.WithDefaults(in.TenantID, c.CardID, in.DeliveryDate),
		StoreName:  storeName,
		TimeWindow: window,
	}
}
