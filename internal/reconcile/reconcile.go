package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"salon/internal/basket"
	"salon/internal/metrics"
	"salon/internal/model"
	"salon/internal/remote"
	"salon/internal/state"
)

var (
	ErrInvalidItem  = errors.New("reconcile: invalid item")
	ErrLocalPersist = errors.New("reconcile: local store write failed")
)

// HydrateSource says which side a basket was loaded from.
type HydrateSource string

const (
	SourceRemote HydrateSource = "remote"
	SourceLocal  HydrateSource = "local"
	SourceEmpty  HydrateSource = "empty"
)

// View is an immutable copy of the basket state handed to callers and subscribers.
// Dirty means the local state holds changes the remote side has not confirmed.
type View struct {
	Items     []model.LineItem
	Total     decimal.Decimal
	ItemCount int
	Dirty     bool
	Seq       uint64
}

func (v View) Empty() bool { return len(v.Items) == 0 }

type Deps struct {
	Store state.Store
	// Remote may be nil; the reconciler then works against the local store only.
	Remote  remote.BasketService
	Logger  zerolog.Logger
	Metrics *metrics.Registry
}

// Reconciler owns one session's basket. Mutations are applied locally first,
// persisted, then sent to the remote service without holding the lock.
type Reconciler struct {
	store  state.Store
	remote remote.BasketService
	log    zerolog.Logger
	m      *metrics.Registry

	mu    sync.Mutex
	cart  *basket.Basket
	seq   uint64
	dirty bool

	subMu   sync.Mutex
	subs    map[int]func(View)
	nextSub int
}

func New(d Deps) *Reconciler {
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	return &Reconciler{
		store:  d.Store,
		remote: d.Remote,
		log:    d.Logger.With().Str("component", "reconcile").Logger(),
		m:      d.Metrics,
		cart:   basket.New(),
		subs:   make(map[int]func(View)),
	}
}

// Hydrate loads the basket at session start. A reachable remote wins outright;
// otherwise the local snapshot is used. The two are never merged.
func (r *Reconciler) Hydrate(ctx context.Context) (HydrateSource, error) {
	if r.remote != nil {
		start := time.Now()
		items, err := r.remote.FetchBasket(ctx)
		r.m.RemoteLatencySec.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
		if err == nil {
			r.mu.Lock()
			r.seq++
			r.cart.Replace(items)
			r.dirty = false
			perr := r.persistLocked()
			v := r.viewLocked()
			r.mu.Unlock()
			r.notify(v)
			return SourceRemote, perr
		}
		r.m.RemoteFailures.WithLabelValues("fetch").Inc()
		r.log.Warn().Err(err).Msg("remote basket unreachable, hydrating from local store")
	}

	snap, err := r.store.Load()
	if err != nil {
		return SourceEmpty, fmt.Errorf("load local basket: %w", err)
	}
	if snap.Corrupt != nil {
		r.m.LocalStoreCorrupt.Inc()
		r.log.Warn().Err(snap.Corrupt).Msg("local basket snapshot unreadable, starting empty")
	}
	if !snap.Found || len(snap.Items) == 0 {
		r.reset(nil)
		return SourceEmpty, nil
	}
	r.reset(snap.Items)
	return SourceLocal, nil
}

func (r *Reconciler) reset(items []model.LineItem) {
	r.mu.Lock()
	r.seq++
	r.cart.Replace(items)
	r.dirty = r.remote != nil && !r.cart.Empty()
	v := r.viewLocked()
	r.mu.Unlock()
	r.notify(v)
}

// Add puts one unit of item into the basket.
func (r *Reconciler) Add(ctx context.Context, item model.CatalogItem, t model.ItemType) (View, error) {
	if err := item.Validate(); err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if _, err := model.ParseItemType(string(t)); err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	r.mu.Lock()
	li := r.cart.Add(item, t)
	seq, v, err := r.commitLocked()
	r.mu.Unlock()
	r.notify(v)
	if err != nil || r.remote == nil {
		return v, err
	}

	// the server merges by identity and increments by one
	li.Quantity = 1
	return r.settle(ctx, "add", seq, v, func(ctx context.Context) ([]model.LineItem, error) {
		return r.remote.AddItem(ctx, li)
	})
}

// SetQuantity overwrites the quantity of k; q <= 0 removes the line.
// An absent key is a no-op and issues no remote call.
func (r *Reconciler) SetQuantity(ctx context.Context, k model.Key, q int) (View, error) {
	if q <= 0 {
		return r.Remove(ctx, k)
	}
	r.mu.Lock()
	if !r.cart.SetQuantity(k, q) {
		v := r.viewLocked()
		r.mu.Unlock()
		return v, nil
	}
	seq, v, err := r.commitLocked()
	r.mu.Unlock()
	r.notify(v)
	if err != nil || r.remote == nil {
		return v, err
	}
	return r.settle(ctx, "update", seq, v, func(ctx context.Context) ([]model.LineItem, error) {
		return r.remote.UpdateItem(ctx, k, q)
	})
}

// Remove deletes the line for k. An absent key is a no-op.
func (r *Reconciler) Remove(ctx context.Context, k model.Key) (View, error) {
	r.mu.Lock()
	if !r.cart.Remove(k) {
		v := r.viewLocked()
		r.mu.Unlock()
		return v, nil
	}
	seq, v, err := r.commitLocked()
	r.mu.Unlock()
	r.notify(v)
	if err != nil || r.remote == nil {
		return v, err
	}
	return r.settle(ctx, "remove", seq, v, func(ctx context.Context) ([]model.LineItem, error) {
		return r.remote.RemoveItem(ctx, k)
	})
}

// Clear empties the basket. Calling it on an empty basket is fine.
func (r *Reconciler) Clear(ctx context.Context) (View, error) {
	r.mu.Lock()
	r.cart.Clear()
	seq, v, err := r.commitLocked()
	r.mu.Unlock()
	r.notify(v)
	if err != nil || r.remote == nil {
		return v, err
	}
	return r.settle(ctx, "clear", seq, v, func(ctx context.Context) ([]model.LineItem, error) {
		return []model.LineItem{}, r.remote.ClearBasket(ctx)
	})
}

// Reset clears the basket after an order submission.
func (r *Reconciler) Reset(ctx context.Context) (View, error) { return r.Clear(ctx) }

func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Subscribe registers fn to receive a View after every state change.
// fn runs on the mutating goroutine and must not call back into the reconciler's mutators.
func (r *Reconciler) Subscribe(fn func(View)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// commitLocked bumps the sequence and mirrors the optimistic state locally.
func (r *Reconciler) commitLocked() (uint64, View, error) {
	r.seq++
	if r.remote != nil {
		r.dirty = true
	}
	err := r.persistLocked()
	return r.seq, r.viewLocked(), err
}

func (r *Reconciler) persistLocked() error {
	if err := r.store.Save(r.cart.Items()); err != nil {
		r.log.Error().Err(err).Uint64("seq", r.seq).Msg("local basket save failed")
		return fmt.Errorf("%w: %v", ErrLocalPersist, err)
	}
	return nil
}

// settle runs the remote call for mutation seq and applies its answer.
// Failures keep the optimistic state. Answers for anything but the latest
// mutation are dropped and leave the basket Dirty.
func (r *Reconciler) settle(ctx context.Context, op string, seq uint64, optimistic View, call func(context.Context) ([]model.LineItem, error)) (View, error) {
	start := time.Now()
	items, err := call(ctx)
	r.m.RemoteLatencySec.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		r.m.RemoteFailures.WithLabelValues(op).Inc()
		r.log.Warn().Err(err).Str("op", op).Uint64("seq", seq).Msg("remote basket call failed, keeping local state")
		return optimistic, nil
	}

	r.mu.Lock()
	if seq != r.seq {
		// the server may have applied this call after a newer one; until the
		// next confirmed answer the two sides are not known to agree
		latest := r.seq
		r.dirty = true
		v := r.viewLocked()
		r.mu.Unlock()
		r.m.StaleResponses.Inc()
		r.log.Debug().Str("op", op).Uint64("seq", seq).Uint64("latest", latest).Msg("dropping stale remote answer")
		r.notify(v)
		return v, nil
	}
	r.cart.Replace(items)
	r.dirty = false
	perr := r.persistLocked()
	v := r.viewLocked()
	r.mu.Unlock()
	r.notify(v)
	return v, perr
}

func (r *Reconciler) viewLocked() View {
	return View{
		Items:     r.cart.Items(),
		Total:     r.cart.Total(),
		ItemCount: r.cart.ItemCount(),
		Dirty:     r.dirty,
		Seq:       r.seq,
	}
}

func (r *Reconciler) notify(v View) {
	r.subMu.Lock()
	fns := make([]func(View), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
