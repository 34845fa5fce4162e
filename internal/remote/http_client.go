package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"salon/internal/model"
)

const (
	SessionHeader     = "X-Basket-Session"
	IdempotencyHeader = "Idempotency-Key"

	DefaultTimeout = 5 * time.Second
)

type ClientConfig struct {
	BaseURL string
	Session string
	Timeout time.Duration
	// HTTP defaults to a client without its own timeout; Timeout is applied per call.
	HTTP *http.Client
}

// HTTPClient talks to the basket/order REST API. It implements BasketService and OrderService.
type HTTPClient struct {
	base    string
	timeout time.Duration
	hc      *http.Client

	mu      sync.Mutex
	session string
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{}
	}
	return &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		hc:      cfg.HTTP,
		session: cfg.Session,
	}
}

// Session returns the session id in use. When none was configured the first one
// minted by the server is adopted.
func (c *HTTPClient) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *HTTPClient) FetchBasket(ctx context.Context) ([]model.LineItem, error) {
	var out BasketResponse
	if err := c.do(ctx, http.MethodGet, "/api/basket", nil, "", &out); err != nil {
		return nil, err
	}
	return items(out), nil
}

func (c *HTTPClient) AddItem(ctx context.Context, item model.LineItem) ([]model.LineItem, error) {
	var out BasketResponse
	if err := c.do(ctx, http.MethodPost, "/api/basket/add", item, "", &out); err != nil {
		return nil, err
	}
	return items(out), nil
}

func (c *HTTPClient) UpdateItem(ctx context.Context, k model.Key, quantity int) ([]model.LineItem, error) {
	var out BasketResponse
	body := UpdateRequest{ItemID: k.ItemID, ItemType: k.ItemType, Quantity: quantity}
	if err := c.do(ctx, http.MethodPut, "/api/basket/update", body, "", &out); err != nil {
		return nil, err
	}
	return items(out), nil
}

func (c *HTTPClient) RemoveItem(ctx context.Context, k model.Key) ([]model.LineItem, error) {
	var out BasketResponse
	body := RemoveRequest{ItemID: k.ItemID, ItemType: k.ItemType}
	if err := c.do(ctx, http.MethodDelete, "/api/basket/remove", body, "", &out); err != nil {
		return nil, err
	}
	return items(out), nil
}

func (c *HTTPClient) ClearBasket(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/basket/clear", nil, "", nil)
}

func (c *HTTPClient) CreateOrder(ctx context.Context, req model.OrderRequest, idempotencyKey string) (OrderReceipt, error) {
	var out OrderReceipt
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, idempotencyKey, &out); err != nil {
		return OrderReceipt{}, err
	}
	if out.ID == "" {
		return OrderReceipt{}, fmt.Errorf("%w: POST /api/orders: response has no id", ErrUnavailable)
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s := c.Session(); s != "" {
		req.Header.Set(SessionHeader, s)
	}
	if idemKey != "" {
		req.Header.Set(IdempotencyHeader, idemKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	c.adoptSession(resp.Header.Get(SessionHeader))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Msg: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", ErrUnavailable, method, path, err)
	}
	return nil
}

func (c *HTTPClient) adoptSession(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == "" {
		c.session = s
	}
}

func errorMessage(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func items(r BasketResponse) []model.LineItem {
	if r.Items == nil {
		return []model.LineItem{}
	}
	return r.Items
}
