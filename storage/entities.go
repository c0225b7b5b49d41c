package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"order-board/domain"
)

const (
	edmInt32    = "Edm.Int32"
	edmDateTime = "Edm.DateTime"
)

// productLevel stands in for an empty variant id in label row keys.
const productLevel = "*"

// entity carries the table keys. Writes use it instead of aztables.Entity so
// the service-managed Timestamp is never sent.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type stateEntity struct {
	entity
	CardID        string    `json:"CardID"`
	DeliveryDate  string    `json:"DeliveryDate"`
	Status        string    `json:"Status"`
	AssignedTo    string    `json:"AssignedTo"`
	AssignedBy    string    `json:"AssignedBy"`
	Notes         string    `json:"Notes"`
	SortOrder     int       `json:"SortOrder"`
	SortOrderType string    `json:"SortOrder@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

type orderEntity struct {
	entity
	DeliveryDate  string    `json:"DeliveryDate"`
	OrderName     string    `json:"OrderName"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
	Payload       string    `json:"Payload"`
}

type labelEntity struct {
	entity
	ProductID string `json:"ProductID"`
	VariantID string `json:"VariantID"`
	Labels    string `json:"Labels"`
}

type storeEntity struct {
	entity
	Name          string    `json:"Name"`
	Prefix        string    `json:"Prefix"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

// stateRowKey builds the card state row key. Slashes are not allowed in
// table keys so the date is stored dash separated.
func stateRowKey(cardID, deliveryDate string) string {
	return cardID + "_" + strings.ReplaceAll(deliveryDate, "/", "-")
}

func labelRowKey(productID, variantID string) string {
	if variantID == "" {
		variantID = productLevel
	}
	return productID + "_" + variantID
}

func encodeState(st domain.CardState) ([]byte, error) {
	return json.Marshal(stateEntity{
		entity:        entity{PartitionKey: st.TenantID, RowKey: stateRowKey(st.CardID, st.DeliveryDate)},
		CardID:        st.CardID,
		DeliveryDate:  st.DeliveryDate,
		Status:        string(st.Status),
		AssignedTo:    st.AssignedTo,
		AssignedBy:    st.AssignedBy,
		Notes:         st.Notes,
		SortOrder:     st.SortOrder,
		SortOrderType: edmInt32,
		UpdatedAt:     st.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
	})
}

func decodeState(data []byte) (domain.CardState, error) {
	var ent stateEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.CardState{}, fmt.Errorf("decode card state: %w", err)
	}
	status := domain.Status(ent.Status)
	if status == "" {
		status = domain.StatusUnassigned
	}
	return domain.CardState{
		TenantID:     ent.PartitionKey,
		CardID:       ent.CardID,
		DeliveryDate: ent.DeliveryDate,
		Status:       status,
		AssignedTo:   ent.AssignedTo,
		AssignedBy:   ent.AssignedBy,
		Notes:        ent.Notes,
		SortOrder:    ent.SortOrder,
		UpdatedAt:    ent.UpdatedAt.UTC(),
	}, nil
}

// maxPayloadBytes keeps the serialized order under the table service limit
// for a single string property.
const maxPayloadBytes = 60 * 1024

func encodeOrder(o domain.Order) ([]byte, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayloadBytes && len(o.RawSnapshot) > 0 {
		o.RawSnapshot = nil
		if payload, err = json.Marshal(o); err != nil {
			return nil, err
		}
	}
	return json.Marshal(orderEntity{
		entity:        entity{PartitionKey: o.TenantID, RowKey: o.UpstreamOrderID},
		DeliveryDate:  o.DeliveryDate,
		OrderName:     o.Name,
		CreatedAt:     o.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
		UpdatedAt:     o.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
		Payload:       string(payload),
	})
}

func decodeOrder(data []byte) (domain.Order, error) {
	var ent orderEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Order{}, fmt.Errorf("decode order entity: %w", err)
	}
	var o domain.Order
	if err := json.Unmarshal([]byte(ent.Payload), &o); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s payload: %w", ent.RowKey, err)
	}
	return o, nil
}

func decodeLabels(data []byte) (domain.LabelAssociation, error) {
	var ent labelEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.LabelAssociation{}, fmt.Errorf("decode label entity: %w", err)
	}
	assoc := domain.LabelAssociation{ProductID: ent.ProductID, VariantID: ent.VariantID}
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &assoc.Labels); err != nil {
			return domain.LabelAssociation{}, fmt.Errorf("decode labels of %s: %w", ent.RowKey, err)
		}
	}
	return assoc, nil
}

func decodeStore(data []byte) (domain.Store, error) {
	var ent storeEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Store{}, fmt.Errorf("decode store entity: %w", err)
	}
	return domain.Store{
		ID:        ent.RowKey,
		TenantID:  ent.PartitionKey,
		Name:      ent.Name,
		Prefix:    ent.Prefix,
		CreatedAt: ent.CreatedAt,
	}, nil
}

// odataString quotes a value for use in a table filter.
func odataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func odataTime(t time.Time) string {
	return "datetime'" + t.UTC().Format("2006-01-02T15:04:05.000000Z") + "'"
}

func decodeKeys(data []byte, ent *entity) error {
	if err := json.Unmarshal(data, ent); err != nil {
		return fmt.Errorf("decode entity keys: %w", err)
	}
	return nil
}
