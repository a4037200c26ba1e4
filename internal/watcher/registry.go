package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexbot/internal/models"
)

var (
	ErrTokenNotTracked   = errors.New("token is not tracked")
	ErrTokenTracked      = errors.New("token is already tracked")
	ErrOrdersStillActive = errors.New("token still has active orders")
	ErrOrderNotFound     = errors.New("order not found")
)

// Registry owns every tracker and is the single entry point for the HTTP
// layer: register and unregister tokens, attach orders, look orders up by id,
// and aggregate the portfolio.
type Registry struct {
	Deps     Deps
	Sink     TickSink
	Interval time.Duration

	mu       sync.Mutex
	ctx      context.Context
	trackers map[string]*trackedToken
}

type trackedToken struct {
	tracker *Tracker
	cancel  context.CancelFunc
}

// Start binds the registry to its lifetime context. Trackers registered
// afterwards run until that context is cancelled or they are unregistered.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	if r.trackers == nil {
		r.trackers = map[string]*trackedToken{}
	}
}

// Load restores persisted tokens and their orders into running trackers,
// called once at startup after Start. Rows with values the validator rejects
// are skipped and logged, not fatal.
func (r *Registry) Load(ctx context.Context) error {
	tokens, err := r.Deps.Repo.ListTokens(ctx)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if _, err := r.Register(token); err != nil {
			return err
		}
	}
	orders, err := r.Deps.Repo.ListOrders(ctx)
	if err != nil {
		return err
	}
	for _, record := range orders {
		if _, err := r.AttachOrder(record); err != nil {
			if r.Deps.Logger != nil {
				r.Deps.Logger.Warn("skipping stored order",
					zap.Uint64("order_id", record.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// Register creates and starts a tracker for the token.
func (r *Registry) Register(token models.Token) (*Tracker, error) {
	address := strings.TrimSpace(token.Address)
	if address == "" {
		return nil, errors.New("token address required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return nil, errors.New("registry not started")
	}
	if _, ok := r.trackers[address]; ok {
		return nil, ErrTokenTracked
	}

	tracker := NewTracker(token, r.Interval, r.Deps, r.Sink)
	ctx, cancel := context.WithCancel(r.ctx)
	r.trackers[address] = &trackedToken{tracker: tracker, cancel: cancel}
	go tracker.Run(ctx)

	if r.Deps.Logger != nil {
		r.Deps.Logger.Info("tracking token",
			zap.String("token", token.Symbol), zap.String("address", address))
	}
	return tracker, nil
}

// Unregister stops and drops a token's tracker. Refused while the tracker
// still owns active orders; cancel those first.
func (r *Registry) Unregister(address string) error {
	address = strings.TrimSpace(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.trackers[address]
	if !ok {
		return ErrTokenNotTracked
	}
	if entry.tracker.ActiveCount() > 0 {
		return ErrOrdersStillActive
	}
	entry.cancel()
	delete(r.trackers, address)
	if r.Deps.Logger != nil {
		r.Deps.Logger.Info("stopped tracking token", zap.String("address", address))
	}
	return nil
}

func (r *Registry) Tracker(address string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.trackers[strings.TrimSpace(address)]
	if !ok {
		return nil, false
	}
	return entry.tracker, true
}

func (r *Registry) Trackers() []*Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tracker, 0, len(r.trackers))
	for _, entry := range r.trackers {
		out = append(out, entry.tracker)
	}
	return out
}

// AttachOrder wraps a persisted order row into a runtime order on its
// token's tracker and requests an immediate evaluation so market orders fire
// without waiting out the poll interval.
func (r *Registry) AttachOrder(record models.Order) (*Order, error) {
	tracker, ok := r.Tracker(record.TokenAddress)
	if !ok {
		return nil, ErrTokenNotTracked
	}
	order, err := NewOrder(record, tracker.Token, r.Deps)
	if err != nil {
		return nil, err
	}
	tracker.Add(order)
	tracker.PollNow()
	return order, nil
}

// FindOrder scans every tracker for the order id. Linear in the total number
// of active orders, which stays small in practice.
func (r *Registry) FindOrder(id uint64) (*Order, *Tracker, error) {
	for _, tracker := range r.Trackers() {
		if order := tracker.Get(id); order != nil {
			return order, tracker, nil
		}
	}
	return nil, nil, ErrOrderNotFound
}

// RemoveOrder cancels an order before it fires: drops it from its tracker
// and deletes the persisted row. An order that already fired is executing
// and cannot be cancelled.
func (r *Registry) RemoveOrder(ctx context.Context, id uint64) error {
	_, tracker, err := r.FindOrder(id)
	if err != nil {
		return err
	}
	if !tracker.Remove(id) {
		return fmt.Errorf("order %d already fired, cannot cancel", id)
	}
	return r.Deps.Repo.DeleteOrder(ctx, id)
}

// EvaluateNow forces a poll for one token, or for every tracked token when
// address is empty.
func (r *Registry) EvaluateNow(address string) error {
	if strings.TrimSpace(address) == "" {
		for _, tracker := range r.Trackers() {
			tracker.PollNow()
		}
		return nil
	}
	tracker, ok := r.Tracker(address)
	if !ok {
		return ErrTokenNotTracked
	}
	tracker.PollNow()
	return nil
}

// TokenHolding is one token's slice of the portfolio.
type TokenHolding struct {
	Address           string           `json:"address"`
	Symbol            string           `json:"symbol"`
	Balance           decimal.Decimal  `json:"balance"`
	Price             decimal.Decimal  `json:"price"`
	ValueNative       decimal.Decimal  `json:"value_bnb"`
	EffectiveBuyPrice *decimal.Decimal `json:"effective_buy_price,omitempty"`
}

// PortfolioSummary values the whole wallet in the native currency, with a
// USD figure derived from the native price. GrandTotalNative is exactly
// NativeBalance plus the sum of every holding's ValueNative.
type PortfolioSummary struct {
	NativeBalance    decimal.Decimal `json:"bnb_balance"`
	Holdings         []TokenHolding  `json:"holdings"`
	TokenValueNative decimal.Decimal `json:"token_value_bnb"`
	GrandTotalNative decimal.Decimal `json:"grand_total_bnb"`
	NativePriceUSD   decimal.Decimal `json:"bnb_price_usd"`
	GrandTotalUSD    decimal.Decimal `json:"grand_total_usd"`
	At               time.Time       `json:"at"`
}

// PortfolioSummary walks every tracked token, values its balance at the
// current pool price, and adds the wallet's native balance on top.
func (r *Registry) PortfolioSummary(ctx context.Context) (PortfolioSummary, error) {
	summary := PortfolioSummary{At: time.Now().UTC()}

	native, err := r.Deps.Executor.NativeBalance(ctx)
	if err != nil {
		return summary, err
	}
	summary.NativeBalance = native

	tokens, err := r.Deps.Repo.ListTokens(ctx)
	if err != nil {
		return summary, err
	}
	for _, token := range tokens {
		balance, err := r.Deps.Executor.TokenBalance(ctx, token.Address)
		if err != nil {
			return summary, err
		}
		price, err := r.Deps.Price.TokenPrice(ctx, token.Address)
		if err != nil {
			return summary, err
		}
		value := balance.Mul(price)
		summary.Holdings = append(summary.Holdings, TokenHolding{
			Address:           token.Address,
			Symbol:            token.Symbol,
			Balance:           balance,
			Price:             price,
			ValueNative:       value,
			EffectiveBuyPrice: token.EffectiveBuyPrice,
		})
		summary.TokenValueNative = summary.TokenValueNative.Add(value)
	}
	summary.GrandTotalNative = summary.NativeBalance.Add(summary.TokenValueNative)

	usd, err := r.Deps.Price.NativePriceUSD(ctx)
	if err != nil {
		if r.Deps.Logger != nil {
			r.Deps.Logger.Warn("usd price unavailable", zap.Error(err))
		}
	} else {
		summary.NativePriceUSD = usd
		summary.GrandTotalUSD = summary.GrandTotalNative.Mul(usd)
	}
	return summary, nil
}
