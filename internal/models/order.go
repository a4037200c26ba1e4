package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	TokenAddress string `gorm:"type:char(42);not null;index"`

	Direction  string `gorm:"type:varchar(4);not null"`
	Comparison string `gorm:"type:varchar(5);not null"`

	// Nil means market order: the condition is satisfied on the first tick.
	LimitPrice *decimal.Decimal `gorm:"type:numeric(40,18)"`

	// Callback percent; presence switches the order into trailing mode.
	TrailingStopPercent *int `gorm:"type:smallint"`

	// Integer amount in the smallest unit of the currency being spent:
	// wei of BNB for buys, token base units for sells.
	Amount decimal.Decimal `gorm:"type:numeric(78,0);not null"`

	SlippagePercent decimal.Decimal `gorm:"type:numeric(7,4);not null"`

	// Absolute gas price in wei, or "+N" gwei offset from the network
	// default. Nil means network default.
	GasPrice *string `gorm:"type:varchar(32)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Order) TableName() string {
	return "orders"
}
