package cards

import (
	"context"
	"sort"

	"order-board/domain"
)

// LabelSource loads the label associations configured for a tenant.
type LabelSource interface {
	ListLabelAssociations(ctx context.Context, tenantID string) ([]domain.LabelAssociation, error)
}

type labelKey struct {
	productID string
	variantID string
}

// LabelIndex answers label lookups by product and variant.
type LabelIndex struct {
	byKey map[labelKey][]domain.Label
}

// NewLabelIndex builds an index from raw associations. Identifiers are
// normalised the same way line items are, so global ids and numeric ids
// resolve to the same entry.
func NewLabelIndex(assocs []domain.LabelAssociation) *LabelIndex {
	idx := &LabelIndex{byKey: make(map[labelKey][]domain.Label, len(assocs))}
	for _, a := range assocs {
		k := labelKey{productID: NumericID(a.ProductID), variantID: NumericID(a.VariantID)}
		if k.productID == "" {
			continue
		}
		idx.byKey[k] = append(idx.byKey[k], a.Labels...)
	}
	for k, labels := range idx.byKey {
		sort.SliceStable(labels, func(i, j int) bool { return labels[i].Priority < labels[j].Priority })
		idx.byKey[k] = labels
	}
	return idx
}

// LoadLabelIndex reads a tenant's associations and indexes them.
func LoadLabelIndex(ctx context.Context, src LabelSource, tenantID string) (*LabelIndex, error) {
	assocs, err := src.ListLabelAssociations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return NewLabelIndex(assocs), nil
}

// Lookup returns the labels for a variant, combined with labels attached to
// the product as a whole. Results are ordered by ascending priority.
func (idx *LabelIndex) Lookup(productID, variantID string) []domain.Label {
	if idx == nil || productID == "" {
		return nil
	}
	var out []domain.Label
	if variantID != "" {
		out = append(out, idx.byKey[labelKey{productID: productID, variantID: variantID}]...)
	}
	out = append(out, idx.byKey[labelKey{productID: productID}]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Len reports how many product/variant keys are indexed.
func (idx *LabelIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}

// firstInCategory returns the highest priority label of a category.
func firstInCategory(labels []domain.Label, category string) (domain.Label, bool) {
	for _, l := range labels {
		if l.Category == category {
			return l, true
		}
	}
	return domain.Label{}, false
}
