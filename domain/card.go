package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Card is one unit of work derived from an order line item. Cards are
// computed on every read and never persisted.
type Card struct {
	CardID          string `json:"cardId"`
	OrderID         string `json:"orderId"`
	UpstreamOrderID string `json:"upstreamOrderId"`
	OrderName       string `json:"orderName,omitempty"`
	LineItemID      string `json:"lineItemId"`
	UnitIndex       int    `json:"unitIndex"`
	ProductID       string `json:"productId,omitempty"`
	VariantID       string `json:"variantId,omitempty"`
	ProductTitle    string `json:"productTitle"`
	VariantTitle    string `json:"variantTitle,omitempty"`
	Price           string `json:"price"`
	StoreID         string `json:"storeId,omitempty"`
	DeliveryDate    string `json:"deliveryDate"`
	CustomerName    string `json:"customerName,omitempty"`
	OrderNotes      string `json:"orderNotes,omitempty"`

	Tags []string `json:"tags,omitempty"`

	IsAddOn          bool   `json:"isAddOn"`
	IsWeddingProduct bool   `json:"isWeddingProduct"`
	IsExpressOrder   bool   `json:"isExpressOrder"`
	ExpressTimeSlot  string `json:"expressTimeSlot,omitempty"`
	IsPickupOrder    bool   `json:"isPickupOrder"`
	Unresolved       bool   `json:"unresolved,omitempty"`

	DifficultyLabel     string `json:"difficultyLabel,omitempty"`
	DifficultyPriority  int    `json:"difficultyPriority"`
	ProductTypeLabel    string `json:"productTypeLabel,omitempty"`
	ProductTypePriority int    `json:"productTypePriority"`

	TopUpItems []ExtraItem `json:"topUpItems"`
}

// ExtraItem is a consolidated line item folded into a parent card.
type ExtraItem struct {
	LineItemID   string `json:"lineItemId"`
	Title        string `json:"title"`
	VariantTitle string `json:"variantTitle,omitempty"`
	Quantity     int    `json:"quantity"`
	Price        string `json:"price"`
}

// CardID builds the deterministic identifier shared by cards and their
// overlay rows.
func CardID(upstreamOrderID, lineItemID string, unitIndex int) string {
	return upstreamOrderID + "-" + lineItemID + "-" + strconv.Itoa(unitIndex)
}

// ParseCardID splits a card identifier into its components. Upstream order
// ids never contain dashes once normalised, so the first and last dash
// delimit the parts.
func ParseCardID(id string) (upstreamOrderID, lineItemID string, unitIndex int, ok bool) {
	first := strings.IndexByte(id, '-')
	last := strings.LastIndexByte(id, '-')
	if first <= 0 || last <= first || last == len(id)-1 {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(id[last+1:])
	if err != nil || n < 1 {
		return "", "", 0, false
	}
	return id[:first], id[first+1 : last], n, true
}

// ValidateCardID rejects ids that cannot be used as storage keys.
func ValidateCardID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/\\#?\t\n\r") {
		return fmt.Errorf("%w: %q", ErrInvalidCardID, id)
	}
	return nil
}
