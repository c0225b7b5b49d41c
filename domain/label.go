package domain

// Label categories as stored on product label associations.
const (
	CategoryDifficulty  = "difficulty"
	CategoryProductType = "productType"
	CategoryCustom      = "custom"
)

// NoPriority is the priority carried by cards without a matching label.
// Larger numbers sort later.
const NoPriority = 999

// Label is a named tag attached to a product or variant.
type Label struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	ColorHint string `json:"colorHint,omitempty"`
	Priority  int    `json:"priority"`
}

// LabelAssociation binds labels to a product, optionally narrowed to a
// variant. An empty VariantID applies to every variant of the product.
type LabelAssociation struct {
	ProductID string  `json:"productId"`
	VariantID string  `json:"variantId,omitempty"`
	Labels    []Label `json:"labels"`
}
