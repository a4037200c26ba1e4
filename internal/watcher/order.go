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

	"dexbot/internal/exchange"
	"dexbot/internal/models"
	"dexbot/internal/notify"
	"dexbot/internal/repository"
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

type Comparison string

const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionBuy:
		return DirectionBuy, nil
	case DirectionSell:
		return DirectionSell, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func ParseComparison(s string) (Comparison, error) {
	switch Comparison(strings.ToLower(strings.TrimSpace(s))) {
	case ComparisonAbove:
		return ComparisonAbove, nil
	case ComparisonBelow:
		return ComparisonBelow, nil
	}
	return "", fmt.Errorf("unknown comparison %q", s)
}

// ValidateCombination rejects direction/comparison/trailing combinations that
// have no trigger path: a buy can only wait for the price to come down, and a
// trailing sell only makes sense riding the price up.
func ValidateCombination(dir Direction, cmp Comparison, trailingStopPercent *int) error {
	if dir == DirectionBuy && cmp == ComparisonAbove {
		return errors.New("buy orders must use the below comparison")
	}
	if trailingStopPercent != nil {
		if *trailingStopPercent <= 0 || *trailingStopPercent >= 100 {
			return fmt.Errorf("trailing stop percent %d out of range (1-99)", *trailingStopPercent)
		}
		if dir == DirectionBuy && cmp != ComparisonBelow {
			return errors.New("trailing buy orders must use the below comparison")
		}
		if dir == DirectionSell && cmp != ComparisonAbove {
			return errors.New("trailing sell orders must use the above comparison")
		}
	}
	return nil
}

// Deps carries the collaborators every runtime order needs. One value is
// shared by all orders of a tracker.
type Deps struct {
	Repo     repository.Repository
	Price    exchange.PriceSource
	Executor exchange.Executor
	Notifier notify.Notifier
	Logger   *zap.Logger
	Pool     *ExecPool
}

// Order is the runtime state machine wrapped around one persisted order row.
// OnPrice drives it; once it fires it goes inactive forever and hands the
// trade to the execution pool.
type Order struct {
	ID                  uint64
	TokenAddress        string
	TokenSymbol         string
	TokenDecimals       int
	Direction           Direction
	Comparison          Comparison
	LimitPrice          *decimal.Decimal
	TrailingStopPercent *int
	Amount              decimal.Decimal
	SlippagePercent     decimal.Decimal
	GasPrice            *string
	CreatedAt           time.Time

	deps Deps

	mu        sync.Mutex
	active    bool
	finished  bool
	watermark *decimal.Decimal
}

// NewOrder validates the stored row and builds the runtime order. Unknown
// direction or comparison values are rejected here, at the storage boundary.
func NewOrder(record models.Order, token models.Token, deps Deps) (*Order, error) {
	dir, err := ParseDirection(record.Direction)
	if err != nil {
		return nil, err
	}
	cmp, err := ParseComparison(record.Comparison)
	if err != nil {
		return nil, err
	}
	if err := ValidateCombination(dir, cmp, record.TrailingStopPercent); err != nil {
		return nil, err
	}
	return &Order{
		ID:                  record.ID,
		TokenAddress:        token.Address,
		TokenSymbol:         token.Symbol,
		TokenDecimals:       token.Decimals,
		Direction:           dir,
		Comparison:          cmp,
		LimitPrice:          record.LimitPrice,
		TrailingStopPercent: record.TrailingStopPercent,
		Amount:              record.Amount,
		SlippagePercent:     record.SlippagePercent,
		GasPrice:            record.GasPrice,
		CreatedAt:           record.CreatedAt,
		deps:                deps,
		active:              true,
	}, nil
}

func (o *Order) Active() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Order) Finished() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished
}

// Watermark returns the best price seen since the trailing stop armed, or nil
// when the order is not trailing or not yet armed.
func (o *Order) Watermark() *decimal.Decimal {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watermark == nil {
		return nil
	}
	w := *o.watermark
	return &w
}

// HumanAmount converts the stored smallest-unit amount to human units: BNB
// for buys, token units for sells.
func (o *Order) HumanAmount() decimal.Decimal {
	if o.Direction == DirectionSell {
		return o.Amount.Shift(-int32(o.TokenDecimals))
	}
	return o.Amount.Shift(-18)
}

func (o *Order) amountUnit() string {
	if o.Direction == DirectionSell {
		return o.TokenSymbol
	}
	return "BNB"
}

// Describe renders the order for notifications.
func (o *Order) Describe() string {
	limit := "market price"
	if o.LimitPrice != nil {
		symbol := "<"
		if o.Comparison == ComparisonAbove {
			symbol = ">"
		}
		limit = fmt.Sprintf("%s %s BNB", symbol, o.LimitPrice.String())
	}
	trailing := ""
	if o.TrailingStopPercent != nil {
		trailing = fmt.Sprintf(" tsl %d%%", *o.TrailingStopPercent)
	}
	return fmt.Sprintf("#%d: %s %s %s %s @ %s%s",
		o.ID, o.Direction, o.HumanAmount().String(), o.amountUnit(), o.TokenSymbol, limit, trailing)
}

// OnPrice evaluates one fresh price observation. A zero price means the pool
// was unreadable this tick; the order stays armed and waits for the next one.
// Firing flips active off before the execution is handed over, so a second
// tick can never fire the same order again.
func (o *Order) OnPrice(ctx context.Context, price decimal.Decimal) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	if price.IsZero() {
		o.mu.Unlock()
		if o.deps.Logger != nil {
			o.deps.Logger.Warn("price unavailable, skipping tick",
				zap.String("token", o.TokenSymbol), zap.Uint64("order_id", o.ID))
		}
		return
	}

	var fire bool
	var armed bool
	if o.Direction == DirectionBuy {
		fire, armed = o.evaluateBuy(price)
	} else {
		fire, armed = o.evaluateSell(price)
	}
	if fire {
		o.active = false
	}
	o.mu.Unlock()

	if armed {
		o.notify(ctx, fmt.Sprintf("Order #%d armed its trailing stop at %s BNB.", o.ID, price.String()))
	}
	if fire {
		o.fire(ctx, price)
	}
}

// evaluateBuy holds o.mu. A buy waits for the price to come down to the
// limit; in trailing mode it then follows the price further down and fires
// once it bounces back up by the callback percent.
func (o *Order) evaluateBuy(price decimal.Decimal) (fire, armed bool) {
	limit := price
	if o.LimitPrice != nil {
		limit = *o.LimitPrice
	}
	if o.TrailingStopPercent == nil {
		if o.Comparison == ComparisonBelow && price.LessThanOrEqual(limit) {
			return true, false
		}
		return false, false
	}
	if o.Comparison != ComparisonBelow {
		return false, false
	}
	if !price.LessThanOrEqual(limit) && o.watermark == nil {
		return false, false
	}
	if o.watermark == nil {
		w := price
		o.watermark = &w
		armed = true
	}
	if price.LessThan(*o.watermark) {
		w := price
		o.watermark = &w
		return false, armed
	}
	rise := price.Div(*o.watermark).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	if rise.GreaterThan(decimal.NewFromInt(int64(*o.TrailingStopPercent))) {
		return true, armed
	}
	return false, armed
}

// evaluateSell holds o.mu. Below is a stop loss, above a take profit; in
// trailing mode the order rides the price up and fires once it falls back by
// the callback percent.
func (o *Order) evaluateSell(price decimal.Decimal) (fire, armed bool) {
	limit := price
	if o.LimitPrice != nil {
		limit = *o.LimitPrice
	}
	if o.TrailingStopPercent == nil {
		switch o.Comparison {
		case ComparisonBelow:
			if price.LessThanOrEqual(limit) {
				return true, false
			}
		case ComparisonAbove:
			if price.GreaterThanOrEqual(limit) {
				return true, false
			}
		}
		return false, false
	}
	if o.Comparison != ComparisonAbove {
		return false, false
	}
	if !price.GreaterThanOrEqual(limit) && o.watermark == nil {
		return false, false
	}
	if o.watermark == nil {
		w := price
		o.watermark = &w
		armed = true
	}
	if price.GreaterThan(*o.watermark) {
		w := price
		o.watermark = &w
		return false, armed
	}
	drop := decimal.NewFromInt(1).Sub(price.Div(*o.watermark)).Mul(decimal.NewFromInt(100))
	if drop.GreaterThan(decimal.NewFromInt(int64(*o.TrailingStopPercent))) {
		return true, armed
	}
	return false, armed
}

// fire hands the trade to the execution pool so the tracker's tick never
// waits on the network.
func (o *Order) fire(ctx context.Context, price decimal.Decimal) {
	if o.deps.Logger != nil {
		o.deps.Logger.Info("order triggered",
			zap.Uint64("order_id", o.ID),
			zap.String("token", o.TokenSymbol),
			zap.String("direction", string(o.Direction)),
			zap.String("price", price.String()))
	}
	verb := "buy"
	if o.Direction == DirectionSell {
		verb = "sell"
	}
	o.notify(ctx, fmt.Sprintf("Attempting to %s %s %s of %s...",
		verb, o.HumanAmount().String(), o.amountUnit(), o.TokenSymbol))

	task := o.executeBuy
	if o.Direction == DirectionSell {
		task = o.executeSell
	}
	if o.deps.Pool != nil {
		o.deps.Pool.Submit(task)
		return
	}
	go task(context.Background())
}

func (o *Order) executeBuy(ctx context.Context) {
	exec := o.deps.Executor
	balanceBefore, err := exec.TokenBalance(ctx, o.TokenAddress)
	if err != nil {
		o.fail(ctx, err.Error(), "")
		return
	}

	result, err := exec.Swap(ctx, exchange.SwapParams{
		TokenAddress:    o.TokenAddress,
		Direction:       "buy",
		Amount:          o.Amount,
		SlippagePercent: o.SlippagePercent,
		GasPrice:        o.GasPrice,
	})
	if err != nil {
		o.failSwap(ctx, err)
		return
	}
	if result.AmountOut.IsZero() {
		o.fail(ctx, "swap returned zero tokens", result.TxHash)
		return
	}

	effectivePrice := o.HumanAmount().Div(result.AmountOut)
	tokensOut := result.AmountOut

	err = o.deps.Repo.UpdateTokenBuyPrice(ctx, o.TokenAddress, func(current *decimal.Decimal) decimal.Decimal {
		if current == nil {
			return effectivePrice
		}
		return balanceBefore.Mul(*current).Add(tokensOut.Mul(effectivePrice)).
			Div(balanceBefore.Add(tokensOut))
	})
	if err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Error("effective buy price update failed",
				zap.Uint64("order_id", o.ID), zap.Error(err))
		}
		o.notify(ctx, fmt.Sprintf("Effective buy price update failed: %v", err))
	}

	o.recordTrade(ctx, models.Trade{
		OrderID:        o.ID,
		TokenAddress:   o.TokenAddress,
		Direction:      string(o.Direction),
		AmountIn:       o.HumanAmount(),
		AmountOut:      tokensOut,
		EffectivePrice: effectivePrice,
		TxHash:         result.TxHash,
		Status:         models.TradeStatusConfirmed,
	})
	o.notify(ctx, fmt.Sprintf("Closed order:\n%s", o.Describe()))
	o.notify(ctx, fmt.Sprintf("Received %s %s at tx %s\nEffective price (after fees) %s BNB/token",
		tokensOut.String(), o.TokenSymbol, result.TxHash, effectivePrice.StringFixed(8)))

	o.approveIfNeeded(ctx)
	o.complete(ctx)
}

// approveIfNeeded pre-approves the router so a later sell does not need a
// separate approval step. Best effort: the buy already succeeded, a failed
// approval is reported and left for the user.
func (o *Order) approveIfNeeded(ctx context.Context) {
	approved, err := o.deps.Executor.IsApproved(ctx, o.TokenAddress)
	if err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Warn("allowance check failed", zap.Error(err))
		}
		return
	}
	if approved {
		return
	}
	o.notify(ctx, fmt.Sprintf("Approving %s for trading...", o.TokenSymbol))
	if err := o.deps.Executor.Approve(ctx, o.TokenAddress); err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Error("approval failed", zap.String("token", o.TokenSymbol), zap.Error(err))
		}
		o.notify(ctx, fmt.Sprintf("Approval of %s failed.", o.TokenSymbol))
		return
	}
	if err := o.deps.Repo.UpdateTokenFields(ctx, o.TokenAddress, map[string]any{"approved": true}); err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Error("approved flag update failed", zap.Error(err))
		}
	}
	o.notify(ctx, fmt.Sprintf("Approved %s successfully.", o.TokenSymbol))
}

func (o *Order) executeSell(ctx context.Context) {
	exec := o.deps.Executor
	balanceBeforeRaw, err := exec.TokenBalanceRaw(ctx, o.TokenAddress)
	if err != nil {
		o.fail(ctx, err.Error(), "")
		return
	}

	result, err := exec.Swap(ctx, exchange.SwapParams{
		TokenAddress:    o.TokenAddress,
		Direction:       "sell",
		Amount:          o.Amount,
		SlippagePercent: o.SlippagePercent,
		GasPrice:        o.GasPrice,
	})
	if err != nil {
		o.failSwap(ctx, err)
		return
	}

	effectivePrice := decimal.Zero
	if !o.HumanAmount().IsZero() {
		effectivePrice = result.AmountOut.Div(o.HumanAmount())
	}
	soldProportion := decimal.NewFromInt(1)
	if !balanceBeforeRaw.IsZero() {
		soldProportion = o.Amount.Div(balanceBeforeRaw)
	}

	usdOut := decimal.Zero
	if o.deps.Price != nil {
		if bnbUSD, err := o.deps.Price.NativePriceUSD(ctx); err == nil {
			usdOut = bnbUSD.Mul(result.AmountOut)
		}
	}

	o.recordTrade(ctx, models.Trade{
		OrderID:        o.ID,
		TokenAddress:   o.TokenAddress,
		Direction:      string(o.Direction),
		AmountIn:       o.HumanAmount(),
		AmountOut:      result.AmountOut,
		EffectivePrice: effectivePrice,
		TxHash:         result.TxHash,
		Status:         models.TradeStatusConfirmed,
		Detail: models.TradeDetail{
			SoldProportionPercent: soldProportion.Mul(decimal.NewFromInt(100)).Round(1).String(),
			USDValue:              usdOut.Round(2).String(),
		}.JSON(),
	})
	o.notify(ctx, fmt.Sprintf("Closed order:\n%s", o.Describe()))
	o.notify(ctx, fmt.Sprintf("Received %s BNB ($%s) at tx %s\nEffective price (after fees) %s BNB/token.\nThis order sold %s%% of the token balance.",
		result.AmountOut.StringFixed(6), usdOut.StringFixed(2), result.TxHash,
		effectivePrice.StringFixed(8), soldProportion.Mul(decimal.NewFromInt(100)).Round(1).String()))

	o.complete(ctx)
}

// failSwap reports a failed swap: on-chain reverts carry the tx hash, local
// errors a plain reason.
func (o *Order) failSwap(ctx context.Context, err error) {
	var swapErr *exchange.SwapError
	if errors.As(err, &swapErr) {
		o.fail(ctx, swapErr.FailureText(), swapErr.TxHash)
		return
	}
	o.fail(ctx, err.Error(), "")
}

// fail is the terminal failure path: the trade is not retried since the
// trigger condition may no longer hold. The order row is removed either way.
func (o *Order) fail(ctx context.Context, reason, txHash string) {
	if o.deps.Logger != nil {
		o.deps.Logger.Error("transaction failed",
			zap.Uint64("order_id", o.ID), zap.String("reason", reason))
	}
	o.recordTrade(ctx, models.Trade{
		OrderID:       o.ID,
		TokenAddress:  o.TokenAddress,
		Direction:     string(o.Direction),
		AmountIn:      o.HumanAmount(),
		TxHash:        txHash,
		Status:        models.TradeStatusFailed,
		FailureReason: reason,
	})
	o.notify(ctx, fmt.Sprintf("Transaction failed: %s\nThe order below was removed:\n%s", reason, o.Describe()))
	o.complete(ctx)
}

// complete removes the persisted row and marks the runtime order finished so
// the tracker drops it after the next tick.
func (o *Order) complete(ctx context.Context) {
	if err := o.deps.Repo.DeleteOrder(ctx, o.ID); err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Error("order delete failed", zap.Uint64("order_id", o.ID), zap.Error(err))
		}
	}
	o.mu.Lock()
	o.finished = true
	o.mu.Unlock()
}

func (o *Order) recordTrade(ctx context.Context, trade models.Trade) {
	if o.deps.Repo == nil {
		return
	}
	trade.CreatedAt = time.Now().UTC()
	if err := o.deps.Repo.InsertTrade(ctx, &trade); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Error("trade insert failed", zap.Uint64("order_id", o.ID), zap.Error(err))
	}
}

func (o *Order) notify(ctx context.Context, message string) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(ctx, message)
	}
}
