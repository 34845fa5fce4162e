package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/internal/events"
	"salon/internal/metrics"
	"salon/internal/model"
	"salon/internal/orderlog"
	"salon/internal/reconcile"
	"salon/internal/remote"
	"salon/internal/state"
)

var (
	wig     = model.CatalogItem{ID: "prod_1", Name: "Designer Synthetic Wig", Price: 3500, Category: "wigs"}
	styling = model.CatalogItem{ID: "serv_1", Name: "Hair Styling & Treatment", Price: 1500, Category: "hair"}
	fixedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("EAT", 3*3600))
	amina   = Customer{Name: "Amina", Phone: "0712 345 678"}
)

type fakeOrders struct {
	mu    sync.Mutex
	fail  map[string]bool
	down  bool
	keys  []string
	reqs  []model.OrderRequest
	count int

	// when set, CreateOrder signals entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, req model.OrderRequest, key string) (remote.OrderReceipt, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.reqs = append(f.reqs, req)
	if f.down || f.fail[key] {
		return remote.OrderReceipt{}, &remote.StatusError{Method: "POST", Path: "/api/orders", Code: 502}
	}
	f.count++
	return remote.OrderReceipt{ID: "srv-" + key, Status: model.StatusCompleted}, nil
}

type memLog struct {
	recs      []orderlog.Record
	appendErr error
}

func (l *memLog) Append(r orderlog.Record) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	l.recs = append(l.recs, r)
	return nil
}
func (l *memLog) ReadAll() ([]orderlog.Record, error) { return append([]orderlog.Record(nil), l.recs...), nil }
func (l *memLog) Rewrite(rs []orderlog.Record) error {
	l.recs = append([]orderlog.Record(nil), rs...)
	return nil
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return p.err
}

type fixture struct {
	cart   *reconcile.Reconciler
	store  *state.InMemoryStore
	orders *fakeOrders
	log    *memLog
	pub    *recordingPublisher
	m      *metrics.Registry
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  state.NewInMemoryStore("s"),
		orders: &fakeOrders{fail: map[string]bool{}},
		log:    &memLog{},
		pub:    &recordingPublisher{},
		m:      metrics.NewRegistry(),
	}
	f.cart = reconcile.New(reconcile.Deps{Store: f.store, Metrics: f.m})
	p, err := New(Deps{
		Cart:      f.cart,
		Orders:    f.orders,
		Log:       f.log,
		Publisher: f.pub,
		Clock:     func() time.Time { return fixedAt },
		NewID:     func() string { return "ord_TEST" },
		Metrics:   f.m,
	})
	require.NoError(t, err)
	f.p = p
	return f
}

func (f *fixture) fill(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.cart.Add(ctx, wig, model.Product)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, styling, model.Service)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, wig, model.Product)
	require.NoError(t, err)
}

func TestSubmit_EmptyBasketRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Submit(context.Background(), amina, model.WhatsApp)
	assert.ErrorIs(t, err, ErrEmptyBasket)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.orders.keys)
	assert.Empty(t, f.log.recs)
	assert.Empty(t, f.pub.events)
}

func TestSubmit_ValidationBeforeAnyEffect(t *testing.T) {
	cases := []struct {
		name   string
		c      Customer
		method model.ContactMethod
		want   error
	}{
		{"no name", Customer{Name: "  ", Phone: "0712345678"}, model.SMS, ErrMissingName},
		{"no phone", Customer{Name: "Amina", Phone: " "}, model.SMS, ErrMissingPhone},
		{"bad phone", Customer{Name: "Amina", Phone: "12345"}, model.SMS, ErrInvalidPhone},
		{"landline", Customer{Name: "Amina", Phone: "0202345678"}, model.SMS, ErrInvalidPhone},
		{"bad method", amina, model.ContactMethod("email"), ErrInvalidMethod},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.fill(t)
			_, err := f.p.Submit(context.Background(), c.c, c.method)
			assert.ErrorIs(t, err, c.want)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, f.orders.keys)
			assert.Equal(t, 3, f.cart.Snapshot().ItemCount, "basket must be untouched")
		})
	}
}

func TestSubmit_Committed(t *testing.T) {
	f := newFixture(t)
	f.fill(t)

	res, err := f.p.Submit(context.Background(), amina, model.WhatsApp)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.State)
	assert.False(t, res.Offline())
	assert.Equal(t, "srv-ord_TEST", res.Reference)
	assert.Equal(t, model.StatusCompleted, res.Order.Status)
	assert.Equal(t, 8500.0, res.Order.Total)

	require.Len(t, f.orders.reqs, 1)
	req := f.orders.reqs[0]
	assert.Equal(t, []string{"ord_TEST"}, f.orders.keys, "local reference is the idempotency key")
	assert.Equal(t, "254712345678", req.CustomerPhone)
	assert.Equal(t, "2024-05-01T07:00:00Z", req.CreatedAt)
	assert.Len(t, req.Items, 2)

	assert.True(t, f.cart.Snapshot().Empty())
	assert.False(t, res.RemoteBasketStale)
	snap, _ := f.store.Load()
	assert.Empty(t, snap.Items)
	assert.Empty(t, f.log.recs)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.OrderCommitted, f.pub.events[0].Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.Orders.WithLabelValues("committed")))
}

func TestSubmit_RemoteFailureFallsBackLocally(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	f.orders.down = true
	before := f.cart.Snapshot()

	res, err := f.p.Submit(context.Background(), amina, model.SMS)
	require.NoError(t, err, "remote failure must be absorbed")
	assert.Equal(t, LocalFallback, res.State)
	assert.True(t, res.Offline())
	assert.True(t, strings.HasPrefix(res.Reference, "ord_"))
	assert.Equal(t, model.StatusPending, res.Order.Status)
	assert.Contains(t, res.Reason, "502")

	assert.True(t, f.cart.Snapshot().Empty())
	snap, _ := f.store.Load()
	assert.Empty(t, snap.Items)

	require.Len(t, f.log.recs, 1)
	rec := f.log.recs[0]
	assert.Equal(t, res.Reference, rec.Order.ID)
	assert.True(t, rec.Order.Offline)
	assert.Equal(t, before.Items, rec.Order.Items)
	assert.Equal(t, fixedAt.UTC(), rec.LoggedAt)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.OrderLocalFallback, f.pub.events[0].Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.Orders.WithLabelValues("local_fallback")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.RemoteFailures.WithLabelValues("order")))
}

func TestSubmit_OrderItemsAreACopy(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	f.orders.down = true
	_, err := f.p.Submit(context.Background(), amina, model.Call)
	require.NoError(t, err)

	// the basket keeps being used after submission
	_, _ = f.cart.Add(context.Background(), wig, model.Product)
	_, _ = f.cart.SetQuantity(context.Background(), model.Key{ItemID: "prod_1", ItemType: model.Product}, 7)
	assert.Equal(t, 2, f.log.recs[0].Order.Items[0].Quantity)
}

func TestSubmit_FallbackLogFailureKeepsBasket(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	f.orders.down = true
	f.log.appendErr = errors.New("read-only file system")

	_, err := f.p.Submit(context.Background(), amina, model.SMS)
	assert.ErrorIs(t, err, ErrFallbackLog)
	assert.Equal(t, 3, f.cart.Snapshot().ItemCount)
	assert.Empty(t, f.pub.events)
	assert.Equal(t, Draft, f.p.State())
}

func TestSubmit_PublisherFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	f.pub.err = errors.New("broker down")

	res, err := f.p.Submit(context.Background(), amina, model.WhatsApp)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.State)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.PublishFailures))
}

func TestSubmit_NoOrderServiceAlwaysFallsBack(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	p, err := New(Deps{Cart: f.cart, Log: f.log, Metrics: f.m})
	require.NoError(t, err)

	res, err := p.Submit(context.Background(), amina, model.WhatsApp)
	require.NoError(t, err)
	assert.Equal(t, LocalFallback, res.State)
	assert.True(t, strings.HasPrefix(res.Reference, "ord_"))
	assert.Len(t, res.Reference, len("ord_")+26)
}

func TestReplay_SettlesWhatTheServerTakes(t *testing.T) {
	f := newFixture(t)
	for _, ref := range []string{"ord_A", "ord_B", "ord_C"} {
		require.NoError(t, f.log.Append(orderlog.Record{
			Order:  model.Order{ID: ref, Total: 1200, Status: model.StatusPending, Offline: true, CreatedAt: fixedAt},
			Reason: "remote: unavailable",
		}))
	}
	f.orders.fail["ord_B"] = true

	r, err := NewReplayer(Deps{Orders: f.orders, Log: f.log, Publisher: f.pub, Metrics: f.m})
	require.NoError(t, err)
	res, err := r.Replay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Replayed)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, []Settlement{{"ord_A", "srv-ord_A"}, {"ord_C", "srv-ord_C"}}, res.Settled)
	assert.Equal(t, []string{"ord_A", "ord_B", "ord_C"}, f.orders.keys, "original references reused as idempotency keys")

	require.Len(t, f.log.recs, 1)
	assert.Equal(t, "ord_B", f.log.recs[0].Order.ID)
	assert.Contains(t, f.log.recs[0].Reason, "502")

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, events.OrderReplayed, f.pub.events[0].Type)
	assert.False(t, f.pub.events[0].Order.Offline)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.ReplayRemaining))
}

func TestReplay_RequiresOrderService(t *testing.T) {
	_, err := NewReplayer(Deps{Log: &memLog{}})
	assert.Error(t, err)
}

func TestSubmit_OverlappingSubmitsMakeOneOrder(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	f.orders.entered = make(chan struct{})
	f.orders.gate = make(chan struct{})
	ctx := context.Background()

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome)
	go func() {
		res, err := f.p.Submit(ctx, amina, model.WhatsApp)
		first <- outcome{res, err}
	}()
	<-f.orders.entered
	assert.Equal(t, Submitting, f.p.State())

	_, err := f.p.Submit(ctx, amina, model.SMS)
	assert.ErrorIs(t, err, ErrInProgress)

	close(f.orders.gate)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, Committed, got.res.State)
	assert.Equal(t, Draft, f.p.State())

	// the basket was consumed by the first order
	_, err = f.p.Submit(ctx, amina, model.SMS)
	assert.ErrorIs(t, err, ErrEmptyBasket)

	f.orders.mu.Lock()
	defer f.orders.mu.Unlock()
	assert.Equal(t, 1, f.orders.count)
	assert.Len(t, f.orders.reqs, 1)
}

// unclearableBasket accepts every change except clearing.
type unclearableBasket struct {
	mu    sync.Mutex
	items []model.LineItem
}

func (b *unclearableBasket) FetchBasket(ctx context.Context) ([]model.LineItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.CloneItems(b.items), nil
}

func (b *unclearableBasket) AddItem(ctx context.Context, li model.LineItem) ([]model.LineItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].Key() == li.Key() {
			b.items[i].Quantity++
			return model.CloneItems(b.items), nil
		}
	}
	b.items = append(b.items, li)
	return model.CloneItems(b.items), nil
}

func (b *unclearableBasket) UpdateItem(ctx context.Context, k model.Key, q int) ([]model.LineItem, error) {
	return b.FetchBasket(ctx)
}

func (b *unclearableBasket) RemoveItem(ctx context.Context, k model.Key) ([]model.LineItem, error) {
	return b.FetchBasket(ctx)
}

func (b *unclearableBasket) ClearBasket(ctx context.Context) error {
	return &remote.StatusError{Method: "DELETE", Path: "/api/basket/clear", Code: 503}
}

func TestSubmit_FlagsRemoteBasketLeftBehind(t *testing.T) {
	f := newFixture(t)
	f.cart = reconcile.New(reconcile.Deps{Store: f.store, Remote: &unclearableBasket{}, Metrics: f.m})
	p, err := New(Deps{Cart: f.cart, Orders: f.orders, Log: f.log, Publisher: f.pub, Metrics: f.m})
	require.NoError(t, err)
	f.fill(t)

	res, err := p.Submit(context.Background(), amina, model.WhatsApp)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.State)
	assert.True(t, res.RemoteBasketStale)
	assert.True(t, f.cart.Snapshot().Empty(), "local basket is still cleared")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.m.UnclearedBaskets))
}
