package board

import (
	"sort"
	"strings"

	"order-board/domain"
)

// UnknownStore names the container for orders no store can be resolved for.
const UnknownStore = "Unknown Store"

type storeRef struct {
	key       string
	name      string
	rank      int
	createdAt int64
}

// StoreResolver maps orders to display stores.
type StoreResolver struct {
	byID     map[string]storeRef
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix string
	ref    storeRef
}

// NewStoreResolver indexes known stores and the order-name prefix
// convention. Explicit prefixes map a prefix to a store name; a store record
// with the same name or its own Prefix takes precedence.
func NewStoreResolver(stores []domain.Store, prefixes map[string]string) *StoreResolver {
	r := &StoreResolver{byID: make(map[string]storeRef, len(stores))}
	byName := map[string]storeRef{}
	for _, s := range stores {
		ref := storeRef{key: "store:" + s.ID, name: s.Name, rank: 0, createdAt: s.CreatedAt.UnixNano()}
		r.byID[s.ID] = ref
		byName[strings.ToLower(s.Name)] = ref
		if s.Prefix != "" {
			r.prefixes = append(r.prefixes, prefixEntry{prefix: strings.ToUpper(s.Prefix), ref: ref})
		}
	}
	for p, name := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		ref, ok := byName[strings.ToLower(name)]
		if !ok {
			ref = storeRef{key: "prefix:" + p, name: name, rank: 1}
		}
		r.prefixes = append(r.prefixes, prefixEntry{prefix: p, ref: ref})
	}
	// Longest prefix wins.
	sort.SliceStable(r.prefixes, func(i, j int) bool { return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix) })
	return r
}

func (r *StoreResolver) resolve(storeID, orderName string) storeRef {
	if ref, ok := r.byID[storeID]; ok && storeID != "" {
		return ref
	}
	name := strings.ToUpper(strings.TrimLeft(strings.TrimSpace(orderName), "#"))
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.ref
		}
	}
	return storeRef{key: "unknown", name: UnknownStore, rank: 2}
}

func storeLess(a, b storeRef) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.name < b.name
}
