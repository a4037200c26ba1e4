package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dexbot/internal/exchange"
	"dexbot/internal/models"
	"dexbot/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the calls the watcher engine makes are meaningful.
type stubRepo struct {
	mu        sync.Mutex
	tokens    map[string]*models.Token
	orders    map[uint64]*models.Order
	trades    []models.Trade
	snapshots []models.PortfolioSnapshot

	failBuyPriceUpdate bool
	deletedOrders      []uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		tokens: map[string]*models.Token{},
		orders: map[uint64]*models.Order{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) CreateToken(ctx context.Context, item *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[item.Address] = item
	return nil
}

func (s *stubRepo) GetToken(ctx context.Context, address string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[address], nil
}

func (s *stubRepo) ListTokens(ctx context.Context) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, *t)
	}
	return out, nil
}

func (s *stubRepo) UpdateTokenFields(ctx context.Context, address string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[address]; ok {
		if v, ok := updates["approved"].(bool); ok {
			t.Approved = v
		}
	}
	return nil
}

func (s *stubRepo) UpdateTokenBuyPrice(ctx context.Context, address string, fn func(current *decimal.Decimal) decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBuyPriceUpdate {
		return errors.New("stub: update refused")
	}
	t, ok := s.tokens[address]
	if !ok {
		return errors.New("stub: token missing")
	}
	next := fn(t.EffectiveBuyPrice)
	t.EffectiveBuyPrice = &next
	return nil
}

func (s *stubRepo) DeleteToken(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, address)
	return nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, item *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = uint64(len(s.orders) + 1)
	}
	s.orders[item.ID] = item
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id], nil
}

func (s *stubRepo) ListOrdersByToken(ctx context.Context, address string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.TokenAddress == address {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubRepo) ListOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *stubRepo) CountOrdersByToken(ctx context.Context, address string) (int64, error) {
	items, _ := s.ListOrdersByToken(ctx, address)
	return int64(len(items)), nil
}

func (s *stubRepo) DeleteOrder(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	s.deletedOrders = append(s.deletedOrders, id)
	return nil
}

func (s *stubRepo) InsertTrade(ctx context.Context, item *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *item)
	return nil
}

func (s *stubRepo) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *stubRepo) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.trades)), nil
}

func (s *stubRepo) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, *item)
	return nil
}

func (s *stubRepo) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PortfolioSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out, nil
}

func (s *stubRepo) orderExists(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	return ok
}

func (s *stubRepo) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *stubRepo) buyPrice(address string) *decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[address]
	if !ok || t.EffectiveBuyPrice == nil {
		return nil
	}
	v := *t.EffectiveBuyPrice
	return &v
}

// stubExecutor answers balances from fixed values and swaps with a canned
// result or error.
type stubExecutor struct {
	mu            sync.Mutex
	tokenBalances map[string]decimal.Decimal
	rawBalances   map[string]decimal.Decimal
	nativeBalance decimal.Decimal
	approved      map[string]bool
	approveErr    error
	swapResult    exchange.SwapResult
	swapErr       error
	swapCalls     []exchange.SwapParams
	approveCalls  int
	balanceErr    error
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		tokenBalances: map[string]decimal.Decimal{},
		rawBalances:   map[string]decimal.Decimal{},
		approved:      map[string]bool{},
	}
}

func (s *stubExecutor) TokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return decimal.Zero, s.balanceErr
	}
	return s.tokenBalances[address], nil
}

func (s *stubExecutor) TokenBalanceRaw(ctx context.Context, address string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return decimal.Zero, s.balanceErr
	}
	return s.rawBalances[address], nil
}

func (s *stubExecutor) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeBalance, nil
}

func (s *stubExecutor) IsApproved(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[address], nil
}

func (s *stubExecutor) Approve(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approveCalls++
	if s.approveErr != nil {
		return s.approveErr
	}
	s.approved[address] = true
	return nil
}

func (s *stubExecutor) Swap(ctx context.Context, params exchange.SwapParams) (exchange.SwapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapCalls = append(s.swapCalls, params)
	if s.swapErr != nil {
		return exchange.SwapResult{}, s.swapErr
	}
	return s.swapResult, nil
}

func (s *stubExecutor) swapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.swapCalls)
}

// stubPrice serves fixed prices per token.
type stubPrice struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	usd    decimal.Decimal
	err    error
}

func newStubPrice() *stubPrice {
	return &stubPrice{prices: map[string]decimal.Decimal{}}
}

func (s *stubPrice) TokenPrice(ctx context.Context, address string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.prices[address], nil
}

func (s *stubPrice) NativePriceUSD(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usd, nil
}

func (s *stubPrice) set(address string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[address] = price
}

// captureNotifier records every message.
type captureNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *captureNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int { return &v }

func waitFinished(t *testing.T, o *Order) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Finished() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %d did not finish in time", o.ID)
}
