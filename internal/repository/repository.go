package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dexbot/internal/models"
)

// Repository is the persistence contract consumed by the watcher engine and
// the HTTP handlers. Every mutating call is a single atomic transaction.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Tokens
	CreateToken(ctx context.Context, item *models.Token) error
	GetToken(ctx context.Context, address string) (*models.Token, error)
	ListTokens(ctx context.Context) ([]models.Token, error)
	UpdateTokenFields(ctx context.Context, address string, updates map[string]any) error
	// UpdateTokenBuyPrice serializes cost-basis mutations: it re-reads the
	// row under a write lock and applies fn to the current value.
	UpdateTokenBuyPrice(ctx context.Context, address string, fn func(current *decimal.Decimal) decimal.Decimal) error
	DeleteToken(ctx context.Context, address string) error

	// Orders
	CreateOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ListOrdersByToken(ctx context.Context, address string) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	CountOrdersByToken(ctx context.Context, address string) (int64, error)
	DeleteOrder(ctx context.Context, id uint64) error

	// Trades
	InsertTrade(ctx context.Context, item *models.Trade) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	CountTrades(ctx context.Context, params ListTradesParams) (int64, error)

	// Portfolio snapshots
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)
}

type ListTradesParams struct {
	Limit        int
	Offset       int
	TokenAddress *string
	Status       *string
	Since        *time.Time
	OrderBy      string
	Asc          *bool
}

type ListPortfolioSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
