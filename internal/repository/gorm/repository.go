package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dexbot/internal/models"
	"dexbot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Tokens -----------------------------------------------------------------

func (s *Store) CreateToken(ctx context.Context, item *models.Token) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetToken(ctx context.Context, address string) (*models.Token, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Token
	err := s.db.WithContext(ctx).First(&item, "address = ?", strings.TrimSpace(address)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]models.Token, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Token
	if err := s.db.WithContext(ctx).
		Model(&models.Token{}).
		Order("lower(symbol) asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateTokenFields(ctx context.Context, address string, updates map[string]any) error {
	if s == nil || s.db == nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("address = ?", strings.TrimSpace(address)).
		Updates(updates).Error
}

func (s *Store) UpdateTokenBuyPrice(ctx context.Context, address string, fn func(current *decimal.Decimal) decimal.Decimal) error {
	if s == nil || s.db == nil || fn == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Token
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "address = ?", strings.TrimSpace(address)).Error; err != nil {
			return err
		}
		next := fn(item.EffectiveBuyPrice)
		return tx.Model(&models.Token{}).
			Where("address = ?", item.Address).
			Updates(map[string]any{
				"effective_buy_price": next.String(),
				"updated_at":          time.Now().UTC(),
			}).Error
	})
}

func (s *Store) DeleteToken(ctx context.Context, address string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("address = ?", strings.TrimSpace(address)).
		Delete(&models.Token{}).Error
}

// --- Orders -----------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOrdersByToken(ctx context.Context, address string) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("token_address = ?", strings.TrimSpace(address)).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrdersByToken(ctx context.Context, address string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("token_address = ?", strings.TrimSpace(address)).
		Count(&total).Error
	return total, err
}

func (s *Store) DeleteOrder(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Order{}, "id = ?", id).Error
}

// --- Trades -----------------------------------------------------------------

func (s *Store) InsertTrade(ctx context.Context, item *models.Trade) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.tradesQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Trade
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.tradesQuery(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) tradesQuery(ctx context.Context, params repository.ListTradesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if params.TokenAddress != nil && strings.TrimSpace(*params.TokenAddress) != "" {
		query = query.Where("token_address = ?", strings.TrimSpace(*params.TokenAddress))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

// --- Portfolio snapshots ----------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "snapshot_at"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"native_balance",
			"token_value_native",
			"grand_total_native",
			"native_price_usd",
			"grand_total_usd",
		}),
	}).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("snapshot_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("snapshot_at <= ?", *params.Until)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.PortfolioSnapshot
	if err := query.Order("snapshot_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
