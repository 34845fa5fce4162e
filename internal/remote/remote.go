package remote

import (
	"context"
	"errors"
	"fmt"

	"salon/internal/model"
)

// ErrUnavailable wraps every failure to get a usable answer from the remote side:
// transport errors, timeouts, non-2xx statuses and undecodable bodies.
var ErrUnavailable = errors.New("remote: unavailable")

// StatusError is returned when the server answered with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Msg)
	}
	return fmt.Sprintf("remote: %s %s: status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// BasketService is the remote CRUD surface for one session's basket.
// Every mutating call returns the server's authoritative list.
type BasketService interface {
	FetchBasket(ctx context.Context) ([]model.LineItem, error)
	AddItem(ctx context.Context, item model.LineItem) ([]model.LineItem, error)
	UpdateItem(ctx context.Context, k model.Key, quantity int) ([]model.LineItem, error)
	RemoveItem(ctx context.Context, k model.Key) ([]model.LineItem, error)
	ClearBasket(ctx context.Context) error
}

// OrderReceipt is what the order store answers after accepting an order.
type OrderReceipt struct {
	ID        string            `json:"id"`
	Status    model.OrderStatus `json:"status"`
	CreatedAt string            `json:"createdAt,omitempty"`
}

// OrderService persists submitted orders. idempotencyKey lets a retried write
// resolve to the order created by the first attempt.
type OrderService interface {
	CreateOrder(ctx context.Context, req model.OrderRequest, idempotencyKey string) (OrderReceipt, error)
}

// UpdateRequest is the body of PUT /api/basket/update.
type UpdateRequest struct {
	ItemID   string         `json:"itemId"`
	ItemType model.ItemType `json:"itemType,omitempty"`
	Quantity int            `json:"quantity"`
}

// RemoveRequest is the body of DELETE /api/basket/remove.
type RemoveRequest struct {
	ItemID   string         `json:"itemId"`
	ItemType model.ItemType `json:"itemType,omitempty"`
}

// BasketResponse is the body every basket endpoint answers with.
type BasketResponse struct {
	Items []model.LineItem `json:"items"`
}
