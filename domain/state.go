package domain

import (
	"fmt"
	"time"
)

// Status is the workflow position of a card.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusCompleted  Status = "completed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnassigned, StatusAssigned, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CardState is the mutable overlay persisted per tenant, card and delivery date.
type CardState struct {
	TenantID     string    `json:"tenantId"`
	CardID       string    `json:"cardId"`
	DeliveryDate string    `json:"deliveryDate"`
	Status       Status    `json:"status"`
	AssignedTo   string    `json:"assignedTo,omitempty"`
	AssignedBy   string    `json:"assignedBy,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	SortOrder    int       `json:"sortOrder"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StoredState is an overlay row that may be absent.
type StoredState struct {
	State CardState
	Found bool
}

// Present wraps an existing row.
func Present(s CardState) StoredState { return StoredState{State: s, Found: true} }

// WithDefaults resolves an absent row to the unassigned state keyed by the
// given identifiers.
func (s StoredState) WithDefaults(tenantID, cardID, deliveryDate string) CardState {
	if s.Found {
		return s.State
	}
	return CardState{
		TenantID:     tenantID,
		CardID:       cardID,
		DeliveryDate: deliveryDate,
		Status:       StatusUnassigned,
	}
}

// StatePatch carries only the fields a caller intends to change.
type StatePatch struct {
	Status     *Status `json:"status,omitempty"`
	AssignedTo *string `json:"assignedTo,omitempty"`
	AssignedBy *string `json:"assignedBy,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	SortOrder  *int    `json:"sortOrder,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p StatePatch) Empty() bool {
	return p.Status == nil && p.AssignedTo == nil && p.AssignedBy == nil && p.Notes == nil && p.SortOrder == nil
}

// Apply fills the patched fields onto cur and stamps updatedAt. Fields the
// patch omits keep their current value.
func (p StatePatch) Apply(cur CardState, updatedAt time.Time) CardState {
	next := cur
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.AssignedTo != nil {
		next.AssignedTo = *p.AssignedTo
	}
	if p.AssignedBy != nil {
		next.AssignedBy = *p.AssignedBy
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if p.SortOrder != nil {
		next.SortOrder = *p.SortOrder
	}
	if next.Status == "" {
		next.Status = StatusUnassigned
	}
	next.UpdatedAt = updatedAt
	return next
}
