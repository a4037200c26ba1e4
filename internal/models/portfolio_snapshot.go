package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PortfolioSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	NativeBalance    decimal.Decimal `gorm:"type:numeric(40,18);not null;default:0"`
	TokenValueNative decimal.Decimal `gorm:"type:numeric(40,18);not null;default:0"`
	GrandTotalNative decimal.Decimal `gorm:"type:numeric(40,18);not null;default:0"`
	NativePriceUSD   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0"`
	GrandTotalUSD    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	SnapshotAt time.Time `gorm:"type:timestamptz;not null;uniqueIndex"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
