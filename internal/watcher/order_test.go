package watcher

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"dexbot/internal/exchange"
	"dexbot/internal/models"
)

const testAddr = "0x00000000000000000000000000000000000000aa"

func testToken() models.Token {
	return models.Token{
		Address:                testAddr,
		Symbol:                 "TKN",
		Decimals:               18,
		DefaultSlippagePercent: dec("1"),
	}
}

type testEnv struct {
	repo     *stubRepo
	exec     *stubExecutor
	price    *stubPrice
	notifier *captureNotifier
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     newStubRepo(),
		exec:     newStubExecutor(),
		price:    newStubPrice(),
		notifier: &captureNotifier{},
	}
	env.deps = Deps{
		Repo:     env.repo,
		Price:    env.price,
		Executor: env.exec,
		Notifier: env.notifier,
	}
	token := testToken()
	_ = env.repo.CreateToken(context.Background(), &token)
	return env
}

func (env *testEnv) newOrder(t *testing.T, record models.Order) *Order {
	t.Helper()
	if record.ID == 0 {
		record.ID = 1
	}
	record.TokenAddress = testAddr
	if record.SlippagePercent.IsZero() {
		record.SlippagePercent = dec("1")
	}
	_ = env.repo.CreateOrder(context.Background(), &record)
	order, err := NewOrder(record, testToken(), env.deps)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return order
}

func TestMarketOrderFiresOnFirstTick(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("50"),
		TxHash:    "0x" + strings.Repeat("ab", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("40000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("0.5"))

	if order.Active() {
		t.Fatal("market order should fire on the first nonzero tick")
	}
	waitFinished(t, order)
	if env.exec.swapCount() != 1 {
		t.Fatalf("swap calls = %d, want 1", env.exec.swapCount())
	}
	if env.repo.orderExists(order.ID) {
		t.Fatal("order row should be deleted after execution")
	}
}

func TestZeroPriceIsSkippedTick(t *testing.T) {
	env := newTestEnv(t)
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("1000000000000000000"),
	})

	order.OnPrice(context.Background(), decimal.Zero)

	if !order.Active() {
		t.Fatal("zero price must not fire the order")
	}
	if env.exec.swapCount() != 0 {
		t.Fatal("zero price must not reach the executor")
	}
}

func TestSellBelowFiresIffAtOrUnderLimit(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapErr = &exchange.SwapError{Reason: "insufficient liquidity"}
	order := env.newOrder(t, models.Order{
		Direction:  "sell",
		Comparison: "below",
		LimitPrice: decPtr("0.4"),
		Amount:     dec("1000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("0.41"))
	if !order.Active() {
		t.Fatal("price above limit must not fire a stop loss")
	}
	order.OnPrice(context.Background(), dec("0.4"))
	if order.Active() {
		t.Fatal("price at limit must fire a stop loss")
	}
}

func TestSellAboveFiresIffAtOrOverLimit(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapErr = &exchange.SwapError{Reason: "insufficient liquidity"}
	order := env.newOrder(t, models.Order{
		Direction:  "sell",
		Comparison: "above",
		LimitPrice: decPtr("2"),
		Amount:     dec("1000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("1.99"))
	if !order.Active() {
		t.Fatal("price under limit must not fire a take profit")
	}
	order.OnPrice(context.Background(), dec("2"))
	if order.Active() {
		t.Fatal("price at limit must fire a take profit")
	}
}

func TestTrailingBuyFollowsPriceDownThenFires(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("10"),
		TxHash:    "0x" + strings.Repeat("cd", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:           "buy",
		Comparison:          "below",
		TrailingStopPercent: intPtr(10),
		Amount:              dec("1000000000000000000"),
	})
	ctx := context.Background()

	order.OnPrice(ctx, dec("10"))
	if !order.Active() {
		t.Fatal("arming tick must not fire")
	}
	if w := order.Watermark(); w == nil || !w.Equal(dec("10")) {
		t.Fatalf("watermark = %v, want 10", w)
	}

	order.OnPrice(ctx, dec("8"))
	if !order.Active() {
		t.Fatal("falling price must not fire")
	}
	if w := order.Watermark(); w == nil || !w.Equal(dec("8")) {
		t.Fatalf("watermark = %v, want 8", w)
	}

	// +6.25% from the watermark, below the 10% callback.
	order.OnPrice(ctx, dec("8.5"))
	if !order.Active() {
		t.Fatal("6.25% rise must not fire a 10% trailing stop")
	}
	if w := order.Watermark(); w == nil || !w.Equal(dec("8")) {
		t.Fatalf("watermark = %v, want 8 (must not rise)", w)
	}

	// +15% from the watermark.
	order.OnPrice(ctx, dec("9.2"))
	if order.Active() {
		t.Fatal("15% rise must fire a 10% trailing stop")
	}
}

func TestTrailingStopArmsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	order := env.newOrder(t, models.Order{
		Direction:           "sell",
		Comparison:          "above",
		LimitPrice:          decPtr("1"),
		TrailingStopPercent: intPtr(20),
		Amount:              dec("1000000000000000000"),
	})
	ctx := context.Background()

	order.OnPrice(ctx, dec("1"))
	order.OnPrice(ctx, dec("1.1"))
	order.OnPrice(ctx, dec("1.2"))

	armed := 0
	env.notifier.mu.Lock()
	for _, m := range env.notifier.messages {
		if strings.Contains(m, "armed its trailing stop") {
			armed++
		}
	}
	env.notifier.mu.Unlock()
	if armed != 1 {
		t.Fatalf("armed notifications = %d, want 1", armed)
	}
	if w := order.Watermark(); w == nil || !w.Equal(dec("1.2")) {
		t.Fatalf("watermark = %v, want 1.2", w)
	}
}

func TestFiredOrderIgnoresFurtherTicks(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("10"),
		TxHash:    "0x" + strings.Repeat("ef", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("1000000000000000000"),
	})
	ctx := context.Background()

	order.OnPrice(ctx, dec("0.5"))
	waitFinished(t, order)

	order.OnPrice(ctx, dec("0.4"))
	order.OnPrice(ctx, dec("0.3"))
	if env.exec.swapCount() != 1 {
		t.Fatalf("swap calls = %d, want exactly 1", env.exec.swapCount())
	}
}

func TestBuyUpdatesWeightedAverageBuyPrice(t *testing.T) {
	env := newTestEnv(t)
	env.repo.mu.Lock()
	env.repo.tokens[testAddr].EffectiveBuyPrice = decPtr("0.5")
	env.repo.mu.Unlock()
	env.exec.tokenBalances[testAddr] = dec("100")
	// 40 BNB spent for 50 tokens: effective price 0.8.
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("50"),
		TxHash:    "0x" + strings.Repeat("12", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("40000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("0.8"))
	waitFinished(t, order)

	// (100*0.5 + 50*0.8) / 150
	got := env.repo.buyPrice(testAddr)
	want := dec("0.6")
	if got == nil || !got.Equal(want) {
		t.Fatalf("effective buy price = %v, want %s", got, want)
	}
}

func TestFirstBuySetsBuyPriceDirectly(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("20"),
		TxHash:    "0x" + strings.Repeat("34", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("10000000000000000000"), // 10 BNB for 20 tokens: 0.5
	})

	order.OnPrice(context.Background(), dec("0.5"))
	waitFinished(t, order)

	got := env.repo.buyPrice(testAddr)
	if got == nil || !got.Equal(dec("0.5")) {
		t.Fatalf("effective buy price = %v, want 0.5", got)
	}
}

func TestFailedExecutionDeletesOrderAndNeverRefires(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapErr = &exchange.SwapError{TxHash: "0x" + strings.Repeat("56", 32)}
	order := env.newOrder(t, models.Order{
		Direction:  "sell",
		Comparison: "below",
		LimitPrice: decPtr("1"),
		Amount:     dec("1000000000000000000"),
	})
	ctx := context.Background()

	order.OnPrice(ctx, dec("0.9"))
	waitFinished(t, order)

	if env.repo.orderExists(order.ID) {
		t.Fatal("failed order must still delete its row")
	}
	var failed int
	env.repo.mu.Lock()
	for _, trade := range env.repo.trades {
		if trade.Status == models.TradeStatusFailed {
			failed++
		}
	}
	env.repo.mu.Unlock()
	if failed != 1 {
		t.Fatalf("failed trades = %d, want 1", failed)
	}

	order.OnPrice(ctx, dec("0.8"))
	if env.exec.swapCount() != 1 {
		t.Fatalf("swap calls = %d, want 1 (no retry)", env.exec.swapCount())
	}
}

func TestBuyPriceUpdateFailureStillCompletesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.repo.failBuyPriceUpdate = true
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("10"),
		TxHash:    "0x" + strings.Repeat("78", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("1000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("0.1"))
	waitFinished(t, order)

	if env.repo.orderExists(order.ID) {
		t.Fatal("order must complete even when the buy price write fails")
	}
	found := false
	env.notifier.mu.Lock()
	for _, m := range env.notifier.messages {
		if strings.Contains(m, "Effective buy price update failed") {
			found = true
		}
	}
	env.notifier.mu.Unlock()
	if !found {
		t.Fatal("buy price failure must be reported")
	}
}

func TestBuyApprovesRouterWhenNeeded(t *testing.T) {
	env := newTestEnv(t)
	env.exec.swapResult = exchange.SwapResult{
		AmountOut: dec("5"),
		TxHash:    "0x" + strings.Repeat("9a", 32),
	}
	order := env.newOrder(t, models.Order{
		Direction:  "buy",
		Comparison: "below",
		Amount:     dec("1000000000000000000"),
	})

	order.OnPrice(context.Background(), dec("0.2"))
	waitFinished(t, order)

	env.exec.mu.Lock()
	approveCalls := env.exec.approveCalls
	env.exec.mu.Unlock()
	if approveCalls != 1 {
		t.Fatalf("approve calls = %d, want 1", approveCalls)
	}
	env.repo.mu.Lock()
	approved := env.repo.tokens[testAddr].Approved
	env.repo.mu.Unlock()
	if !approved {
		t.Fatal("approved flag must be persisted after a successful approval")
	}
}

func TestValidateCombination(t *testing.T) {
	cases := []struct {
		name     string
		dir      Direction
		cmp      Comparison
		trailing *int
		wantErr  bool
	}{
		{"buy below", DirectionBuy, ComparisonBelow, nil, false},
		{"buy above", DirectionBuy, ComparisonAbove, nil, true},
		{"sell below", DirectionSell, ComparisonBelow, nil, false},
		{"sell above", DirectionSell, ComparisonAbove, nil, false},
		{"trailing buy below", DirectionBuy, ComparisonBelow, intPtr(10), false},
		{"trailing sell above", DirectionSell, ComparisonAbove, intPtr(10), false},
		{"trailing sell below", DirectionSell, ComparisonBelow, intPtr(10), true},
		{"trailing percent zero", DirectionSell, ComparisonAbove, intPtr(0), true},
		{"trailing percent hundred", DirectionSell, ComparisonAbove, intPtr(100), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCombination(tc.dir, tc.cmp, tc.trailing)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewOrderRejectsUnknownValues(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewOrder(models.Order{
		ID: 99, TokenAddress: testAddr, Direction: "hold", Comparison: "below",
		Amount: dec("1"), SlippagePercent: dec("1"),
	}, testToken(), env.deps)
	if err == nil {
		t.Fatal("unknown direction must be rejected")
	}
	_, err = NewOrder(models.Order{
		ID: 99, TokenAddress: testAddr, Direction: "buy", Comparison: "near",
		Amount: dec("1"), SlippagePercent: dec("1"),
	}, testToken(), env.deps)
	if err == nil {
		t.Fatal("unknown comparison must be rejected")
	}
}
