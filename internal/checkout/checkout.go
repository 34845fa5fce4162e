package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"salon/internal/events"
	"salon/internal/metrics"
	"salon/internal/model"
	"salon/internal/orderlog"
	"salon/internal/reconcile"
	"salon/internal/remote"
)

var (
	ErrValidation    = errors.New("checkout: validation failed")
	ErrEmptyBasket   = fmt.Errorf("%w: basket is empty", ErrValidation)
	ErrMissingName   = fmt.Errorf("%w: customer name is required", ErrValidation)
	ErrMissingPhone  = fmt.Errorf("%w: customer phone is required", ErrValidation)
	ErrInvalidPhone  = fmt.Errorf("%w: phone number is not a valid mobile number", ErrValidation)
	ErrInvalidMethod = fmt.Errorf("%w: unknown contact method", ErrValidation)

	ErrInProgress = errors.New("checkout: a submission is already in progress")
	// ErrFallbackLog means the remote write failed and the order could not be
	// logged locally either. The basket is left untouched.
	ErrFallbackLog = errors.New("checkout: fallback log append failed")
)

type State string

const (
	Draft         State = "draft"
	Submitting    State = "submitting"
	Committed     State = "committed"
	LocalFallback State = "local_fallback"
)

// Cart is the basket side of checkout.
type Cart interface {
	Snapshot() reconcile.View
	Reset(ctx context.Context) (reconcile.View, error)
}

type Deps struct {
	Cart Cart
	// Orders may be nil; every submission then ends in LocalFallback.
	Orders    remote.OrderService
	Log       orderlog.Log
	Publisher events.Publisher
	Validator *PhoneValidator
	Clock     func() time.Time
	NewID     func() string
	Logger    zerolog.Logger
	Metrics   *metrics.Registry
}

// Customer is who the order is for.
type Customer = model.Customer

// Result is the terminal outcome of a submission.
type Result struct {
	State     State
	Reference string
	Order     model.Order
	// Reason holds the remote failure for LocalFallback.
	Reason string
	// RemoteBasketStale is set when the order was taken but the remote basket
	// could not be cleared.
	RemoteBasketStale bool
}

func (r Result) Offline() bool { return r.State == LocalFallback }

// NewReference returns a client-side order reference, ord_<ULID>.
func NewReference() string { return "ord_" + ulid.Make().String() }

var errNoOrderService = errors.New("no remote order service configured")

type Pipeline struct {
	d   Deps
	log zerolog.Logger

	mu         sync.Mutex
	submitting bool
}

func New(d Deps) (*Pipeline, error) {
	if d.Cart == nil || d.Log == nil {
		return nil, errors.New("checkout: cart and fallback log are required")
	}
	return newPipeline(d)
}

func newPipeline(d Deps) (*Pipeline, error) {
	if d.Validator == nil {
		v, err := NewPhoneValidator("")
		if err != nil {
			return nil, err
		}
		d.Validator = v
	}
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = NewReference
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	return &Pipeline{d: d, log: d.Logger.With().Str("component", "checkout").Logger()}, nil
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitting {
		return Submitting
	}
	return Draft
}

// Submit turns the current basket into an order. Validation errors are returned
// before anything is touched. A remote failure is absorbed: the order goes to
// the fallback log and the result is LocalFallback. Either way the basket is cleared.
func (p *Pipeline) Submit(ctx context.Context, c Customer, method model.ContactMethod) (Result, error) {
	p.mu.Lock()
	if p.submitting {
		p.mu.Unlock()
		return Result{}, ErrInProgress
	}
	p.submitting = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.submitting = false
		p.mu.Unlock()
	}()

	// read under the guard so a basket consumed by an earlier submission is seen empty
	view := p.d.Cart.Snapshot()
	phone, err := p.validate(view, c, method)
	if err != nil {
		return Result{}, err
	}
	method, _ = model.ParseContactMethod(string(method))

	now := p.d.Clock().UTC()
	ref := p.d.NewID()
	order := model.Order{
		ID:            ref,
		Items:         model.CloneItems(view.Items),
		Total:         view.Total.InexactFloat64(),
		CustomerName:  strings.TrimSpace(c.Name),
		CustomerPhone: phone,
		Method:        method,
		Status:        model.StatusPending,
		CreatedAt:     now,
	}

	res := Result{Reference: ref, Order: order}
	rcpt, rerr := p.createRemote(ctx, order, ref)
	if rerr == nil {
		res.State = Committed
		if rcpt.ID != "" {
			res.Reference = rcpt.ID
			res.Order.ID = rcpt.ID
		}
		res.Order.Status = model.StatusCompleted
		if rcpt.Status != "" {
			res.Order.Status = rcpt.Status
		}
	} else {
		res.State = LocalFallback
		res.Reason = rerr.Error()
		res.Order.Offline = true
		if err := p.d.Log.Append(orderlog.Record{Order: res.Order, Reason: res.Reason, LoggedAt: now}); err != nil {
			p.d.Metrics.Orders.WithLabelValues("log_failed").Inc()
			p.log.Error().Err(err).Str("reference", ref).Msg("order could not be logged locally, basket kept")
			return Result{}, fmt.Errorf("%w: %v", ErrFallbackLog, err)
		}
		p.d.Metrics.FallbackLogged.Inc()
		p.log.Warn().Err(rerr).Str("reference", ref).Msg("remote order write failed, order kept in fallback log")
	}
	p.d.Metrics.Orders.WithLabelValues(string(res.State)).Inc()

	after, err := p.d.Cart.Reset(ctx)
	switch {
	case err != nil:
		p.log.Error().Err(err).Str("reference", res.Reference).Msg("basket reset after submission failed")
	case after.Dirty:
		// the remote basket still holds the submitted items; the next hydrate restores them
		res.RemoteBasketStale = true
		p.d.Metrics.UnclearedBaskets.Inc()
		p.log.Warn().Str("reference", res.Reference).Str("state", string(res.State)).
			Msg("remote basket not cleared after order, submitted items may reappear")
	}
	typ := events.OrderCommitted
	if res.State == LocalFallback {
		typ = events.OrderLocalFallback
	}
	p.handOff(ctx, res, typ)
	return res, nil
}

func (p *Pipeline) validate(view reconcile.View, c Customer, method model.ContactMethod) (string, error) {
	if view.Empty() {
		return "", ErrEmptyBasket
	}
	if strings.TrimSpace(c.Name) == "" {
		return "", ErrMissingName
	}
	if strings.TrimSpace(c.Phone) == "" {
		return "", ErrMissingPhone
	}
	phone, ok := p.d.Validator.Normalize(c.Phone)
	if !ok {
		return "", ErrInvalidPhone
	}
	if _, err := model.ParseContactMethod(string(method)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMethod, err)
	}
	return phone, nil
}

func (p *Pipeline) createRemote(ctx context.Context, o model.Order, key string) (remote.OrderReceipt, error) {
	if p.d.Orders == nil {
		return remote.OrderReceipt{}, errNoOrderService
	}
	start := time.Now()
	rcpt, err := p.d.Orders.CreateOrder(ctx, o.Request(), key)
	p.d.Metrics.RemoteLatencySec.WithLabelValues("order").Observe(time.Since(start).Seconds())
	if err != nil {
		p.d.Metrics.RemoteFailures.WithLabelValues("order").Inc()
	}
	return rcpt, err
}

func (p *Pipeline) handOff(ctx context.Context, res Result, typ events.Type) {
	err := p.d.Publisher.Publish(ctx, events.Event{Type: typ, Order: res.Order, At: p.d.Clock().UTC()})
	if err != nil {
		p.d.Metrics.PublishFailures.Inc()
		p.log.Warn().Err(err).Str("reference", res.Reference).Msg("order hand-off failed")
	}
}
