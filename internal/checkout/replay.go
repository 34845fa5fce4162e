package checkout

import (
	"context"
	"errors"
	"fmt"

	"salon/internal/events"
	"salon/internal/model"
	"salon/internal/orderlog"
)

// Settlement maps a fallback reference to the id the order store assigned.
type Settlement struct {
	LocalRef string
	RemoteID string
}

type ReplayResult struct {
	Replayed  int
	Remaining int
	Settled   []Settlement
}

// Replayer resubmits fallback-log records. It is run by hand; nothing triggers it automatically.
type Replayer struct {
	p *Pipeline
}

func NewReplayer(d Deps) (*Replayer, error) {
	if d.Orders == nil || d.Log == nil {
		return nil, errors.New("checkout: replay needs a remote order service and a fallback log")
	}
	p, err := newPipeline(d)
	if err != nil {
		return nil, err
	}
	return &Replayer{p: p}, nil
}

// Replay sends every logged order again with its original reference as the
// idempotency key, so an order the server already took is not duplicated.
// Records that fail again stay in the log with the new failure reason.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	d := r.p.d
	recs, err := d.Log.ReadAll()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("read fallback log: %w", err)
	}
	var res ReplayResult
	var remaining []orderlog.Record
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			remaining = append(remaining, rec)
			continue
		}
		rcpt, err := r.p.createRemote(ctx, rec.Order, rec.Order.ID)
		if err != nil {
			rec.Reason = err.Error()
			remaining = append(remaining, rec)
			r.p.log.Warn().Err(err).Str("reference", rec.Order.ID).Msg("replay failed, record kept")
			continue
		}
		order := rec.Order
		order.Offline = false
		order.ID = rcpt.ID
		order.Status = model.StatusCompleted
		if rcpt.Status != "" {
			order.Status = rcpt.Status
		}
		res.Settled = append(res.Settled, Settlement{LocalRef: rec.Order.ID, RemoteID: rcpt.ID})
		res.Replayed++
		r.p.handOff(ctx, Result{State: Committed, Reference: rcpt.ID, Order: order}, events.OrderReplayed)
	}
	res.Remaining = len(remaining)

	if res.Replayed > 0 {
		if err := d.Log.Rewrite(remaining); err != nil {
			return res, fmt.Errorf("rewrite fallback log: %w", err)
		}
	}
	d.Metrics.Replayed.Add(float64(res.Replayed))
	d.Metrics.ReplayRemaining.Set(float64(res.Remaining))
	r.p.log.Info().Int("replayed", res.Replayed).Int("remaining", res.Remaining).Msg("fallback replay finished")
	return res, nil
}
