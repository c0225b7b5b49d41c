package board

import (
	"sort"
	"strings"

	"order-board/domain"
)

// Less orders two board cards: completed last, weddings first, then manual
// sort order, difficulty priority, product-type priority and title.
// Cards equal on every key compare false both ways.
func Less(a, b Card) bool {
	aDone := a.State.Status == domain.StatusCompleted
	bDone := b.State.Status == domain.StatusCompleted
	if aDone != bDone {
		return !aDone
	}
	if a.IsWeddingProduct != b.IsWeddingProduct {
		return a.IsWeddingProduct
	}
	if a.State.SortOrder != b.State.SortOrder {
		return a.State.SortOrder < b.State.SortOrder
	}
	if a.DifficultyPriority != b.DifficultyPriority {
		return a.DifficultyPriority < b.DifficultyPriority
	}
	if a.ProductTypePriority != b.ProductTypePriority {
		return a.ProductTypePriority < b.ProductTypePriority
	}
	at, bt := strings.ToLower(a.ProductTitle), strings.ToLower(b.ProductTitle)
	if at != bt {
		return at < bt
	}
	return false
}

// SortCards sorts in place, keeping the relative order of ties.
func SortCards(cs []Card) {
	sort.SliceStable(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })
}
