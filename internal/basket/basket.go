package basket

import (
	"github.com/shopspring/decimal"

	"salon/internal/model"
)

// Basket is the in-memory line-item collection. Insertion order is kept for display.
// Not safe for concurrent use.
type Basket struct {
	items []model.LineItem
	index map[model.Key]int
}

func New() *Basket {
	return &Basket{index: make(map[model.Key]int)}
}

// Add increments the quantity of an existing line or inserts a new one with quantity 1.
// Display fields and price are captured here and never refreshed from the catalog.
func (b *Basket) Add(item model.CatalogItem, t model.ItemType) model.LineItem {
	k := model.Key{ItemID: item.ID, ItemType: t}
	if i, ok := b.index[k]; ok {
		b.items[i].Quantity++
		return b.items[i]
	}
	li := model.LineItem{
		ID:       item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Type:     t,
		Quantity: 1,
		ImageURL: item.ImageURL,
		Icon:     item.Icon,
		Category: item.Category,
	}
	b.index[k] = len(b.items)
	b.items = append(b.items, li)
	return li
}

// SetQuantity overwrites the quantity of k. q <= 0 removes the line.
// Reports whether the basket changed.
func (b *Basket) SetQuantity(k model.Key, q int) bool {
	i, ok := b.index[k]
	if !ok {
		return false
	}
	if q <= 0 {
		return b.Remove(k)
	}
	if b.items[i].Quantity == q {
		return false
	}
	b.items[i].Quantity = q
	return true
}

// Remove deletes the line for k if present.
func (b *Basket) Remove(k model.Key) bool {
	i, ok := b.index[k]
	if !ok {
		return false
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	b.reindex()
	return true
}

// Clear empties the basket.
func (b *Basket) Clear() {
	b.items = nil
	b.index = make(map[model.Key]int)
}

// Replace swaps the contents wholesale. Duplicate keys are merged by summing quantities
// and non-positive quantities are dropped.
func (b *Basket) Replace(items []model.LineItem) {
	b.Clear()
	for _, li := range items {
		if li.Quantity <= 0 {
			continue
		}
		k := li.Key()
		if i, ok := b.index[k]; ok {
			b.items[i].Quantity += li.Quantity
			continue
		}
		b.index[k] = len(b.items)
		b.items = append(b.items, li)
	}
}

// Get returns the line for k.
func (b *Basket) Get(k model.Key) (model.LineItem, bool) {
	i, ok := b.index[k]
	if !ok {
		return model.LineItem{}, false
	}
	return b.items[i], true
}

// Items returns a copy of the lines in insertion order.
func (b *Basket) Items() []model.LineItem {
	out := make([]model.LineItem, len(b.items))
	copy(out, b.items)
	return out
}

// Total is Σ price × quantity.
func (b *Basket) Total() decimal.Decimal {
	return Total(b.items)
}

// ItemCount is Σ quantity.
func (b *Basket) ItemCount() int {
	n := 0
	for _, li := range b.items {
		n += li.Quantity
	}
	return n
}

func (b *Basket) Len() int { return len(b.items) }

func (b *Basket) Empty() bool { return len(b.items) == 0 }

func (b *Basket) reindex() {
	b.index = make(map[model.Key]int, len(b.items))
	for i, li := range b.items {
		b.index[li.Key()] = i
	}
}

// Total sums price × quantity over items.
func Total(items []model.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(decimal.NewFromFloat(li.Price).Mul(decimal.NewFromInt(int64(li.Quantity))))
	}
	return sum
}
