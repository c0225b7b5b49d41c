package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Unscheduled marks orders whose tags carry no recognisable delivery date.
const Unscheduled = "unscheduled"

// Order is the immutable source record produced by ingestion.
type Order struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	UpstreamOrderID string          `json:"upstreamOrderId"`
	Name            string          `json:"name"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	DeliveryDate    string          `json:"deliveryDate"`
	Tags            []string        `json:"tags"`
	Notes           string          `json:"notes,omitempty"`
	TotalPrice      string          `json:"totalPrice"`
	Currency        string          `json:"currency"`
	StoreID         string          `json:"storeId,omitempty"`
	LineItems       []LineItem      `json:"lineItems"`
	RawSnapshot     json.RawMessage `json:"rawSnapshot,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// LineItem is one ordered product embedded in an Order.
type LineItem struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	VariantID    string `json:"variantId"`
	Title        string `json:"title"`
	VariantTitle string `json:"variantTitle,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
}

// Store is a physical shop location that fulfils orders.
type Store struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

var deliveryDateRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// IsDeliveryDateTag reports whether a tag has the DD/MM/YYYY shape.
func IsDeliveryDateTag(tag string) bool {
	return deliveryDateRe.MatchString(strings.TrimSpace(tag))
}

// ValidateDeliveryDate accepts DD/MM/YYYY dates and the unscheduled marker.
func ValidateDeliveryDate(date string) error {
	if date == Unscheduled || deliveryDateRe.MatchString(date) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDate, date)
}
