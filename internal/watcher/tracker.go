package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexbot/internal/models"
)

// TickSink receives every successful price observation; used to fan prices
// out to websocket subscribers. Implementations must not block.
type TickSink interface {
	PublishPrice(tokenAddress, symbol string, price decimal.Decimal, at time.Time)
}

// Tracker owns the active orders of one token and drives them from a
// periodic price poll. One price fetch per tick, fanned out identically to
// every order; finished orders are pruned after the fan-out, never during.
type Tracker struct {
	Token    models.Token
	Interval time.Duration
	Deps     Deps
	Sink     TickSink

	mu      sync.Mutex
	orders  []*Order
	pollNow chan struct{}

	lastPrice decimal.Decimal
	lastAt    time.Time
}

func NewTracker(token models.Token, interval time.Duration, deps Deps, sink TickSink) *Tracker {
	return &Tracker{
		Token:    token,
		Interval: interval,
		Deps:     deps,
		Sink:     sink,
		pollNow:  make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. Ticks are coalesced: a slow poll makes
// the next tick fire late rather than stack up.
func (t *Tracker) Run(ctx context.Context) {
	if t == nil {
		return
	}
	interval := t.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	t.pollOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce(ctx)
		case <-t.pollNow:
			t.pollOnce(ctx)
		}
	}
}

// PollNow requests an immediate evaluation, used right after a new order is
// attached. Coalesces with an already pending request.
func (t *Tracker) PollNow() {
	if t == nil {
		return
	}
	select {
	case t.pollNow <- struct{}{}:
	default:
	}
}

func (t *Tracker) pollOnce(ctx context.Context) {
	price, err := t.Deps.Price.TokenPrice(ctx, t.Token.Address)
	if err != nil {
		if t.Deps.Logger != nil {
			t.Deps.Logger.Warn("price fetch failed",
				zap.String("token", t.Token.Symbol), zap.Error(err))
		}
		return
	}

	now := time.Now().UTC()
	t.mu.Lock()
	t.lastPrice = price
	t.lastAt = now
	orders := make([]*Order, len(t.orders))
	copy(orders, t.orders)
	t.mu.Unlock()

	if t.Sink != nil && !price.IsZero() {
		t.Sink.PublishPrice(t.Token.Address, t.Token.Symbol, price, now)
	}

	for _, o := range orders {
		o.OnPrice(ctx, price)
	}

	t.prune()
}

func (t *Tracker) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.orders[:0]
	for _, o := range t.orders {
		if !o.Finished() {
			kept = append(kept, o)
		}
	}
	t.orders = kept
}

func (t *Tracker) Add(o *Order) {
	if t == nil || o == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders = append(t.orders, o)
}

// Remove drops an order from the active set. It only succeeds while the
// order has not fired yet; an order already executing finishes on its own.
func (t *Tracker) Remove(id uint64) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, o := range t.orders {
		if o.ID != id {
			continue
		}
		if !o.Active() {
			return false
		}
		t.orders = append(t.orders[:i], t.orders[i+1:]...)
		return true
	}
	return false
}

func (t *Tracker) Get(id uint64) *Order {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (t *Tracker) List() []*Order {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Order, len(t.orders))
	copy(out, t.orders)
	return out
}

func (t *Tracker) ActiveCount() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.orders {
		if o.Active() {
			n++
		}
	}
	return n
}

// LastPrice returns the most recent observation and its timestamp; zero
// values before the first successful poll.
func (t *Tracker) LastPrice() (decimal.Decimal, time.Time) {
	if t == nil {
		return decimal.Zero, time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPrice, t.lastAt
}
