package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ItemType distinguishes catalog products from bookable services.
type ItemType string

const (
	Product ItemType = "product"
	Service ItemType = "service"
)

// ErrUnknownItemType is returned by ParseItemType for anything but product/service.
var ErrUnknownItemType = errors.New("model: unknown item type")

// ParseItemType accepts "product" or "service" (case-insensitive).
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(strings.ToLower(strings.TrimSpace(s))) {
	case Product:
		return Product, nil
	case Service:
		return Service, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownItemType, s)
}

// Key is the identity of a line item. A product and a service may share an id.
type Key struct {
	ItemID   string
	ItemType ItemType
}

// String returns the composite key type#id.
func (k Key) String() string {
	return fmt.Sprintf("%s#%s", k.ItemType, k.ItemID)
}

// LineItem is one basket entry. Shape matches the persisted/wire JSON.
type LineItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Type     ItemType `json:"type"`
	Quantity int      `json:"quantity"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Category string   `json:"category"`
}

// Key returns the identity key of the line item.
func (li LineItem) Key() Key {
	return Key{ItemID: li.ID, ItemType: li.Type}
}

// CatalogItem is the display record a line item is snapshotted from.
type CatalogItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
	ImageURL string  `json:"image,omitempty"`
	Icon     string  `json:"icon,omitempty"`
}

// ErrInvalidCatalogItem marks a catalog item that must not reach the basket.
var ErrInvalidCatalogItem = errors.New("model: invalid catalog item")

// Validate rejects items without an id or with a negative price.
func (c CatalogItem) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCatalogItem)
	}
	if c.Price < 0 {
		return fmt.Errorf("%w: negative price %v", ErrInvalidCatalogItem, c.Price)
	}
	return nil
}

// ContactMethod is the channel the customer chose to finalise the order on.
type ContactMethod string

const (
	WhatsApp ContactMethod = "whatsapp"
	SMS      ContactMethod = "sms"
	Call     ContactMethod = "call"
)

// ErrUnknownContactMethod is returned by ParseContactMethod.
var ErrUnknownContactMethod = errors.New("model: unknown contact method")

// ParseContactMethod accepts whatsapp, sms or call (case-insensitive).
func ParseContactMethod(s string) (ContactMethod, error) {
	switch ContactMethod(strings.ToLower(strings.TrimSpace(s))) {
	case WhatsApp:
		return WhatsApp, nil
	case SMS:
		return SMS, nil
	case Call:
		return Call, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContactMethod, s)
}

// OrderStatus of a stored order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
)

// Customer identifies who placed an order.
type Customer struct {
	Name  string
	Phone string
}

// Order is an immutable snapshot of a basket at submission time.
type Order struct {
	ID            string        `json:"id"`
	Items         []LineItem    `json:"items"`
	Total         float64       `json:"total"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	Method        ContactMethod `json:"method"`
	Status        OrderStatus   `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	Offline       bool          `json:"offline,omitempty"`
}

// OrderRequest is the payload sent to the remote order store.
type OrderRequest struct {
	Items         []LineItem    `json:"items"`
	Total         float64       `json:"total"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	Method        ContactMethod `json:"method"`
	CreatedAt     string        `json:"createdAt"`
}

// Request converts the order into its wire payload.
func (o Order) Request() OrderRequest {
	return OrderRequest{
		Items:         CloneItems(o.Items),
		Total:         o.Total,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Method:        o.Method,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CloneItems returns a copy of items that shares no backing array with the input.
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
