package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"salon/internal/model"
)

var ErrOrderNotFound = errors.New("repository: order not found")

// Stats backs GET /api/statistics.
type Stats struct {
	TotalOrders  int     `json:"totalOrders"`
	TotalRevenue float64 `json:"totalRevenue"`
	AverageOrder float64 `json:"averageOrder"`
}

type OrderRepository interface {
	Create(ctx context.Context, o model.Order) error
	Get(ctx context.Context, id string) (model.Order, error)
	List(ctx context.Context) ([]model.Order, error)
	Stats(ctx context.Context) (Stats, error)
}

func statsFrom(count int, revenue decimal.Decimal) Stats {
	s := Stats{TotalOrders: count, TotalRevenue: revenue.InexactFloat64()}
	if count > 0 {
		s.AverageOrder = revenue.DivRound(decimal.NewFromInt(int64(count)), 2).InexactFloat64()
	}
	return s
}

var (
	_ OrderRepository = (*MemoryOrderRepository)(nil)
	_ OrderRepository = (*SQLOrderRepository)(nil)
)

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders []model.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository { return &MemoryOrderRepository{} }

func (r *MemoryOrderRepository) Create(ctx context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.Items = model.CloneItems(o.Items)
	r.orders = append(r.orders, o)
	return nil
}

func (r *MemoryOrderRepository) Get(ctx context.Context, id string) (model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.ID == id {
			o.Items = model.CloneItems(o.Items)
			return o, nil
		}
	}
	return model.Order{}, ErrOrderNotFound
}

func (r *MemoryOrderRepository) List(ctx context.Context) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Order, len(r.orders))
	for i, o := range r.orders {
		o.Items = model.CloneItems(o.Items)
		out[i] = o
	}
	return out, nil
}

func (r *MemoryOrderRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := decimal.Zero
	for _, o := range r.orders {
		sum = sum.Add(decimal.NewFromFloat(o.Total))
	}
	return statsFrom(len(r.orders), sum), nil
}

// Dialect selects placeholder syntax for the SQL repository.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(driver)) {
	case MySQL:
		return MySQL, nil
	case Postgres, "pq", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("repository: unsupported sql driver %q", driver)
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLOrderRepository stores orders and their line items in two tables.
type SQLOrderRepository struct {
	db *sql.DB
	d  Dialect
}

func NewSQLOrderRepository(db *sql.DB, d Dialect) *SQLOrderRepository {
	return &SQLOrderRepository{db: db, d: d}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		customer_name VARCHAR(255) NOT NULL,
		customer_phone VARCHAR(32) NOT NULL,
		method VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		total DECIMAL(12,2) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		item_type VARCHAR(16) NOT NULL,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		quantity INT NOT NULL,
		category VARCHAR(64) NOT NULL,
		image_url TEXT,
		icon VARCHAR(16),
		PRIMARY KEY (order_id, line_no)
	)`,
}

// Migrate creates the tables if they do not exist.
func (r *SQLOrderRepository) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const (
	insertOrderQuery = `INSERT INTO orders (id, customer_name, customer_phone, method, status, total, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertItemsQuery = `INSERT INTO order_items (order_id, line_no, item_id, item_type, name, price, quantity, category, image_url, icon) VALUES `
	selectOrderCols  = `SELECT id, customer_name, customer_phone, method, status, total, created_at FROM orders`
	selectItemCols   = `SELECT order_id, item_id, item_type, name, price, quantity, category, image_url, icon FROM order_items`
	statsQuery       = `SELECT COUNT(*), COALESCE(SUM(total), 0) FROM orders`
)

func (r *SQLOrderRepository) Create(ctx context.Context, o model.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	_, err = tx.ExecContext(ctx, r.d.rebind(insertOrderQuery),
		o.ID, o.CustomerName, o.CustomerPhone, string(o.Method), string(o.Status), o.Total, o.CreatedAt.UTC())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert order: %w", err)
	}

	if len(o.Items) > 0 {
		q := insertItemsQuery
		var values []any
		for i, li := range o.Items {
			q += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
			values = append(values, o.ID, i, li.ID, string(li.Type), li.Name, li.Price, li.Quantity, li.Category, li.ImageURL, li.Icon)
		}
		q = q[:len(q)-1]
		if _, err := tx.ExecContext(ctx, r.d.rebind(q), values...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLOrderRepository) Get(ctx context.Context, id string) (model.Order, error) {
	row := r.db.QueryRowContext(ctx, r.d.rebind(selectOrderCols+` WHERE id = ?`), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("select order: %w", err)
	}
	items, err := r.items(ctx, r.d.rebind(selectItemCols+` WHERE order_id = ? ORDER BY line_no`), id)
	if err != nil {
		return model.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *SQLOrderRepository) List(ctx context.Context) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrderCols+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	items, err := r.items(ctx, selectItemCols+` ORDER BY order_id, line_no`)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *SQLOrderRepository) Stats(ctx context.Context) (Stats, error) {
	var count int
	var sum string
	if err := r.db.QueryRowContext(ctx, statsQuery).Scan(&count, &sum); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	revenue, err := decimal.NewFromString(sum)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: revenue %q: %w", sum, err)
	}
	return statsFrom(count, revenue), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (model.Order, error) {
	var o model.Order
	var method, status string
	if err := s.Scan(&o.ID, &o.CustomerName, &o.CustomerPhone, &method, &status, &o.Total, &o.CreatedAt); err != nil {
		return model.Order{}, err
	}
	o.Method = model.ContactMethod(method)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (r *SQLOrderRepository) items(ctx context.Context, q string, args ...any) (map[string][]model.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.LineItem)
	for rows.Next() {
		var orderID, typ string
		var image, icon sql.NullString
		var li model.LineItem
		if err := rows.Scan(&orderID, &li.ID, &typ, &li.Name, &li.Price, &li.Quantity, &li.Category, &image, &icon); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		li.Type = model.ItemType(typ)
		li.ImageURL = image.String
		li.Icon = icon.String
		out[orderID] = append(out[orderID], li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	return out, nil
}
