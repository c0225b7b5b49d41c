package cards

import (
	"regexp"
	"strings"

	"order-board/domain"
)

// Kind is the role a line item plays when cards are derived.
type Kind int

const (
	// KindMain items become one card per unit.
	KindMain Kind = iota
	// KindAddOn items become add-on cards, one per unit.
	KindAddOn
	// KindConsolidated items are folded into the extras of main cards.
	KindConsolidated
	// KindExpress items carry the delivery slot and produce no card.
	KindExpress
)

func (k Kind) String() string {
	switch k {
	case KindAddOn:
		return "add-on"
	case KindConsolidated:
		return "consolidated"
	case KindExpress:
		return "express"
	default:
		return "main"
	}
}

// Item is the input every classification rule sees.
type Item struct {
	LineItem domain.LineItem
	Labels   []domain.Label
}

// Rule pairs a predicate with the kind it assigns. Match returns the keyword
// that triggered the rule, which consolidation uses to pick a display title.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(Item) (keyword string, ok bool)
}

// Classify evaluates rules in order and returns the first match. Items no
// rule claims are main items.
func Classify(rules []Rule, it Item) (Kind, string) {
	for _, r := range rules {
		if kw, ok := r.Match(it); ok {
			return r.Kind, kw
		}
	}
	return KindMain, ""
}

var consolidatedKeywords = []string{"top-up", "corsage", "boutonniere"}

// DefaultRules is the rule table used by DeriveCards.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "express-title", Kind: KindExpress, Match: matchExpress},
		{Name: "top-up-label", Kind: KindConsolidated, Match: matchTopUpLabel},
		{Name: "consolidated-keyword", Kind: KindConsolidated, Match: matchConsolidatedKeyword},
		{Name: "add-on-label", Kind: KindAddOn, Match: matchAddOnLabel},
	}
}

func matchExpress(it Item) (string, bool) {
	if strings.Contains(strings.ToLower(it.LineItem.Title), "express") {
		return "express", true
	}
	return "", false
}

func matchTopUpLabel(it Item) (string, bool) {
	for _, l := range it.Labels {
		if strings.Contains(strings.ToLower(l.Name), "top-up") {
			return "top-up", true
		}
	}
	return "", false
}

func matchConsolidatedKeyword(it Item) (string, bool) {
	title := strings.ToLower(it.LineItem.Title)
	variant := strings.ToLower(it.LineItem.VariantTitle)
	for _, kw := range consolidatedKeywords {
		if strings.Contains(title, kw) || strings.Contains(variant, kw) {
			return kw, true
		}
	}
	return "", false
}

func matchAddOnLabel(it Item) (string, bool) {
	for _, l := range it.Labels {
		if isAddOnText(l.Name) || isAddOnText(l.Category) {
			return "add-on", true
		}
	}
	return "", false
}

func isAddOnText(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "add-on") || strings.Contains(s, "addon")
}

func isWedding(labels []domain.Label) bool {
	for _, l := range labels {
		if l.Category == domain.CategoryProductType && strings.EqualFold(l.Name, "Weddings") {
			return true
		}
	}
	return false
}

// consolidatedTitle prefers whichever of title and variant title mentions
// the keyword. The title wins when both or neither do.
func consolidatedTitle(li domain.LineItem, keyword string) string {
	kw := strings.ToLower(keyword)
	if kw != "" && !strings.Contains(strings.ToLower(li.Title), kw) &&
		strings.Contains(strings.ToLower(li.VariantTitle), kw) {
		return li.VariantTitle
	}
	if li.Title == "" {
		return li.VariantTitle
	}
	return li.Title
}

var timeSlotRe = regexp.MustCompile(`(?i)(\d{1,2}:\d{2}\s*(?:AM|PM)?)\s*-\s*(\d{1,2}:\d{2}\s*(?:AM|PM)?)`)

// ExtractTimeSlot finds the first "HH:MM[AM|PM] - HH:MM[AM|PM]" range in the
// given strings, in order.
func ExtractTimeSlot(candidates ...string) string {
	for _, c := range candidates {
		if m := timeSlotRe.FindString(c); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func hasTagContaining(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}
