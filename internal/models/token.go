package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Token struct {
	Address  string `gorm:"primaryKey;type:char(42)"`
	Symbol   string `gorm:"type:varchar(32);not null;index"`
	Icon     string `gorm:"type:varchar(16)"`
	Decimals int    `gorm:"not null"`

	DefaultSlippagePercent decimal.Decimal `gorm:"type:numeric(7,4);not null"`

	// Weighted-average cost basis in BNB per token unit, set only by
	// completed buy orders. Nil until the first tracked buy.
	EffectiveBuyPrice *decimal.Decimal `gorm:"type:numeric(40,18)"`

	// Whether the router is approved to spend this token (needed to sell).
	Approved bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Token) TableName() string {
	return "tokens"
}
