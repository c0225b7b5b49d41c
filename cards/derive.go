package cards

import "order-board/domain"

// Deriver expands orders into cards using a rule table.
type Deriver struct {
	Rules []Rule
}

// NewDeriver returns a Deriver using DefaultRules.
func NewDeriver() *Deriver {
	return &Deriver{Rules: DefaultRules()}
}

var defaultDeriver = NewDeriver()

// DeriveCards expands an order with the default rule table.
func DeriveCards(order domain.Order, labels *LabelIndex) (mainCards, addOnCards []domain.Card) {
	return defaultDeriver.Derive(order, labels)
}

type classifiedItem struct {
	item      domain.LineItem
	productID string
	variantID string
	labels    []domain.Label
	kind      Kind
	keyword   string
}

// Derive produces main and add-on cards for one order. Express items add
// their slot to every card of the order. Consolidated items are attached to
// every main card; if there is no main card, the first of them is promoted
// so the order still shows on the board.
func (d *Deriver) Derive(order domain.Order, labels *LabelIndex) (mainCards, addOnCards []domain.Card) {
	items := make([]classifiedItem, 0, len(order.LineItems))
	express := false
	slot := ""
	for _, li := range order.LineItems {
		ci := classifiedItem{
			item:      li,
			productID: NumericID(li.ProductID),
			variantID: NumericID(li.VariantID),
		}
		ci.labels = labels.Lookup(ci.productID, ci.variantID)
		ci.kind, ci.keyword = Classify(d.Rules, Item{LineItem: li, Labels: ci.labels})
		if ci.kind == KindExpress {
			express = true
			if slot == "" {
				slot = ExtractTimeSlot(li.VariantTitle, li.Title)
			}
		}
		items = append(items, ci)
	}

	base := domain.Card{
		OrderID:         order.ID,
		UpstreamOrderID: order.UpstreamOrderID,
		OrderName:       order.Name,
		StoreID:         order.StoreID,
		DeliveryDate:    order.DeliveryDate,
		CustomerName:    order.CustomerName,
		OrderNotes:      order.Notes,
		Tags:            order.Tags,
		IsExpressOrder:  express,
		ExpressTimeSlot: slot,
		IsPickupOrder:   hasTagContaining(order.Tags, "pickup"),
	}

	var extras []domain.ExtraItem
	var promoted *classifiedItem
	for i := range items {
		ci := &items[i]
		switch ci.kind {
		case KindExpress:
			continue
		case KindConsolidated:
			extras = append(extras, domain.ExtraItem{
				LineItemID:   ci.item.ID,
				Title:        consolidatedTitle(ci.item, ci.keyword),
				VariantTitle: ci.item.VariantTitle,
				Quantity:     ci.item.Quantity,
				Price:        ci.item.UnitPrice,
			})
			if promoted == nil {
				promoted = ci
			}
		case KindAddOn:
			addOnCards = append(addOnCards, unitCards(base, *ci, true)...)
		default:
			mainCards = append(mainCards, unitCards(base, *ci, false)...)
		}
	}

	if len(mainCards) == 0 && promoted != nil {
		fallback := unitCard(base, *promoted, false, 1)
		fallback.ProductTitle = extras[0].Title
		fallback.TopUpItems = cloneExtras(extras[1:])
		return []domain.Card{fallback}, addOnCards
	}
	for i := range mainCards {
		mainCards[i].TopUpItems = cloneExtras(extras)
	}
	return mainCards, addOnCards
}

func unitCards(base domain.Card, ci classifiedItem, addOn bool) []domain.Card {
	qty := ci.item.Quantity
	if qty < 1 {
		qty = 1
	}
	out := make([]domain.Card, 0, qty)
	for unit := 1; unit <= qty; unit++ {
		out = append(out, unitCard(base, ci, addOn, unit))
	}
	return out
}

func unitCard(base domain.Card, ci classifiedItem, addOn bool, unit int) domain.Card {
	c := base
	c.CardID = domain.CardID(base.UpstreamOrderID, ci.item.ID, unit)
	c.LineItemID = ci.item.ID
	c.UnitIndex = unit
	c.ProductID = ci.productID
	c.VariantID = ci.variantID
	c.ProductTitle = ci.item.Title
	c.VariantTitle = ci.item.VariantTitle
	c.Price = ci.item.UnitPrice
	c.IsAddOn = addOn
	c.Unresolved = ci.productID == ""
	c.IsWeddingProduct = isWedding(ci.labels)
	c.DifficultyPriority = domain.NoPriority
	c.ProductTypePriority = domain.NoPriority
	if l, ok := firstInCategory(ci.labels, domain.CategoryDifficulty); ok {
		c.DifficultyLabel = l.Name
		c.DifficultyPriority = l.Priority
	}
	if l, ok := firstInCategory(ci.labels, domain.CategoryProductType); ok {
		c.ProductTypeLabel = l.Name
		c.ProductTypePriority = l.Priority
	}
	c.TopUpItems = []domain.ExtraItem{}
	return c
}

func cloneExtras(extras []domain.ExtraItem) []domain.ExtraItem {
	out := make([]domain.ExtraItem, len(extras))
	copy(out, extras)
	return out
}
