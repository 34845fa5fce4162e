package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"salon/internal/model"
)

var createdAt = time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)

func sampleOrder() model.Order {
	return model.Order{
		ID: "ord_1714546800000_k3j9x0a1b",
		Items: []model.LineItem{
			{ID: "prod_1", Name: "Designer Synthetic Wig", Price: 3500, Type: model.Product, Quantity: 2, Category: "wigs"},
			{ID: "serv_1", Name: "Hair Styling & Treatment", Price: 1500, Type: model.Service, Quantity: 1, Category: "hair", Icon: "💇"},
		},
		Total:         8500,
		CustomerName:  "Amina",
		CustomerPhone: "254712345678",
		Method:        model.WhatsApp,
		Status:        model.StatusCompleted,
		CreatedAt:     createdAt,
	}
}

func TestSQLCreate_MySQLCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	repo := NewSQLOrderRepository(db, MySQL)
	o := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders (id, customer_name, customer_phone, method, status, total, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)).
		WithArgs(o.ID, "Amina", "254712345678", "whatsapp", "completed", 8500.0, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO order_items (order_id, line_no, item_id, item_type, name, price, quantity, category, image_url, icon) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?),(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)).
		WithArgs(
			o.ID, 0, "prod_1", "product", "Designer Synthetic Wig", 3500.0, 2, "wigs", "", "",
			o.ID, 1, "serv_1", "service", "Hair Styling & Treatment", 1500.0, 1, "hair", "", "💇",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLCreate_RollsBackOnItemFailure(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	repo := NewSQLOrderRepository(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO order_items`)).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	if err := repo.Create(context.Background(), sampleOrder()); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRebind(t *testing.T) {
	got := Postgres.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("rebind: %s", got)
	}
	if MySQL.rebind("?") != "?" {
		t.Fatalf("mysql must keep ?")
	}
	if _, err := ParseDialect("sqlite"); err == nil {
		t.Fatalf("unsupported driver accepted")
	}
}

func TestSQLList_JoinsItems(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	repo := NewSQLOrderRepository(db, MySQL)

	orderRows := sqlmock.NewRows([]string{"id", "customer_name", "customer_phone", "method", "status", "total", "created_at"}).
		AddRow("ord_a", "Amina", "254712345678", "sms", "completed", 3500.0, createdAt).
		AddRow("ord_b", "Wanjiru", "254700000000", "call", "completed", 1200.0, createdAt.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders ORDER BY created_at, id`)).WillReturnRows(orderRows)

	itemRows := sqlmock.NewRows([]string{"order_id", "item_id", "item_type", "name", "price", "quantity", "category", "image_url", "icon"}).
		AddRow("ord_a", "prod_1", "product", "Designer Synthetic Wig", 3500.0, 1, "wigs", "https://img/wig.jpg", nil).
		AddRow("ord_b", "prod_2", "product", "African Print Tote Bag", 1200.0, 1, "bags", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM order_items ORDER BY order_id, line_no`)).WillReturnRows(itemRows)

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || len(got[0].Items) != 1 || got[1].Items[0].ID != "prod_2" {
		t.Fatalf("unexpected orders: %+v", got)
	}
	if got[0].Method != model.SMS || got[0].Items[0].ImageURL != "https://img/wig.jpg" {
		t.Fatalf("fields not mapped: %+v", got[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLGet_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	repo := NewSQLOrderRepository(db, Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("want ErrOrderNotFound, got %v", err)
	}
}

func TestSQLStats(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	repo := NewSQLOrderRepository(db, MySQL)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COALESCE(SUM(total), 0) FROM orders`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, "10000.00"))

	got, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got.TotalOrders != 3 || got.TotalRevenue != 10000 || got.AverageOrder != 3333.33 {
		t.Fatalf("stats: %+v", got)
	}
}

func TestSQLMigrate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS orders`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS order_items`)).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewSQLOrderRepository(db, MySQL).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryOrderRepository(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()
	if s, _ := repo.Stats(ctx); s.TotalOrders != 0 || s.AverageOrder != 0 {
		t.Fatalf("empty stats: %+v", s)
	}
	o := sampleOrder()
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	o.Items[0].Quantity = 50
	got, err := repo.Get(ctx, o.ID)
	if err != nil || got.Items[0].Quantity != 2 {
		t.Fatalf("stored order shares items with caller: %+v %v", got, err)
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("want ErrOrderNotFound, got %v", err)
	}
	o2 := sampleOrder()
	o2.ID, o2.Total = "ord_2", 0.1
	_ = repo.Create(ctx, o2)
	s, _ := repo.Stats(ctx)
	if s.TotalOrders != 2 || s.TotalRevenue != 8500.1 || s.AverageOrder != 4250.05 {
		t.Fatalf("stats: %+v", s)
	}
}
