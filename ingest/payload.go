package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"order-board/cards"
	"order-board/domain"
)

// orderNamespace seeds the deterministic order ids.
var orderNamespace = uuid.MustParse("6f1c1d5e-8a43-4b8e-9a57-2f0b6c0e4d21")

// flexString accepts both JSON strings and numbers. Upstream REST payloads
// use numeric ids while GraphQL payloads use global id strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexTags accepts a comma separated string or an array of strings.
type flexTags []string

func (t *flexTags) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = nil
		return nil
	}
	var list []string
	if b[0] == '[' {
		if err := sonic.Unmarshal(b, &list); err != nil {
			return err
		}
	} else {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		list = strings.Split(s, ",")
	}
	out := make([]string, 0, len(list))
	for _, tag := range list {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	*t = out
	return nil
}

type upstreamCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type upstreamAddress struct {
	Name string `json:"name"`
}

type upstreamLineItem struct {
	ID           flexString `json:"id"`
	ProductID    flexString `json:"product_id"`
	VariantID    flexString `json:"variant_id"`
	Title        string     `json:"title"`
	VariantTitle string     `json:"variant_title"`
	Quantity     int        `json:"quantity"`
	Price        flexString `json:"price"`
}

type upstreamOrder struct {
	ID              flexString         `json:"id"`
	Name            string             `json:"name"`
	Email           string             `json:"email"`
	Note            string             `json:"note"`
	Tags            flexTags           `json:"tags"`
	TotalPrice      flexString         `json:"total_price"`
	Currency        string             `json:"currency"`
	LocationID      flexString         `json:"location_id"`
	Customer        *upstreamCustomer  `json:"customer"`
	ShippingAddress *upstreamAddress   `json:"shipping_address"`
	LineItems       []upstreamLineItem `json:"line_items"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedOrder, fmt.Sprintf(format, args...))
}

// DeliveryDate returns the first DD/MM/YYYY tag, or the unscheduled marker.
func DeliveryDate(tags []string) string {
	for _, tag := range tags {
		if domain.IsDeliveryDateTag(tag) {
			return strings.TrimSpace(tag)
		}
	}
	return domain.Unscheduled
}

// OrderID derives the stable internal id of an upstream order.
func OrderID(tenantID, upstreamOrderID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(tenantID+"/"+upstreamOrderID)).String()
}

// Normalize converts an upstream order payload into an Order. Payloads
// without an order id, without line items, or with a line item lacking an id
// or a positive quantity are rejected with ErrMalformedOrder.
func Normalize(tenantID string, raw []byte, now time.Time) (domain.Order, error) {
	if tenantID == "" {
		return domain.Order{}, malformed("tenant is required")
	}
	var up upstreamOrder
	if err := sonic.Unmarshal(raw, &up); err != nil {
		return domain.Order{}, malformed("decode payload: %v", err)
	}
	upstreamID := cards.NumericID(string(up.ID))
	if upstreamID == "" {
		return domain.Order{}, malformed("order id %q", up.ID)
	}
	if len(up.LineItems) == 0 {
		return domain.Order{}, malformed("order %s has no line items", upstreamID)
	}

	items := make([]domain.LineItem, 0, len(up.LineItems))
	for i, li := range up.LineItems {
		id := cards.NumericID(string(li.ID))
		if id == "" {
			return domain.Order{}, malformed("order %s line item %d has no id", upstreamID, i)
		}
		if li.Quantity < 1 {
			return domain.Order{}, malformed("order %s line item %s quantity %d", upstreamID, id, li.Quantity)
		}
		items = append(items, domain.LineItem{
			ID:           id,
			ProductID:    cards.NumericID(string(li.ProductID)),
			VariantID:    cards.NumericID(string(li.VariantID)),
			Title:        strings.TrimSpace(li.Title),
			VariantTitle: strings.TrimSpace(li.VariantTitle),
			Quantity:     li.Quantity,
			UnitPrice:    string(li.Price),
		})
	}

	o := domain.Order{
		ID:              OrderID(tenantID, upstreamID),
		TenantID:        tenantID,
		UpstreamOrderID: upstreamID,
		Name:            up.Name,
		CustomerEmail:   up.Email,
		DeliveryDate:    DeliveryDate(up.Tags),
		Tags:            []string(up.Tags),
		Notes:           up.Note,
		TotalPrice:      string(up.TotalPrice),
		Currency:        up.Currency,
		StoreID:         storeID(string(up.LocationID)),
		LineItems:       items,
		RawSnapshot:     append([]byte(nil), raw...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	if up.Customer != nil {
		o.CustomerName = strings.TrimSpace(up.Customer.FirstName + " " + up.Customer.LastName)
		if o.CustomerEmail == "" {
			o.CustomerEmail = up.Customer.Email
		}
	}
	if o.CustomerName == "" && up.ShippingAddress != nil {
		o.CustomerName = strings.TrimSpace(up.ShippingAddress.Name)
	}
	return o, nil
}

func storeID(raw string) string {
	if id := cards.NumericID(raw); id != "" {
		return id
	}
	return raw
}
