package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TradeStatusConfirmed = "confirmed"
	TradeStatusFailed    = "failed"
)

// Trade records the terminal outcome of a fired order, success or failure.
// Orders are deleted once they fire; trades are the durable audit trail.
type Trade struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID      uint64 `gorm:"not null;index"`
	TokenAddress string `gorm:"type:char(42);not null;index"`

	Direction string `gorm:"type:varchar(4);not null"`

	AmountIn       decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	AmountOut      decimal.Decimal `gorm:"type:numeric(40,18);not null;default:0"`
	EffectivePrice decimal.Decimal `gorm:"type:numeric(40,18);not null;default:0"`

	TxHash        string `gorm:"type:char(66)"`
	Status        string `gorm:"type:varchar(10);not null;index"`
	FailureReason string `gorm:"type:text"`

	Detail datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Trade) TableName() string {
	return "trades"
}

// TradeDetail holds the extra sell-side figures shown to the user.
type TradeDetail struct {
	SoldProportionPercent string `json:"sold_proportion_percent,omitempty"`
	USDValue              string `json:"usd_value,omitempty"`
}

func (d TradeDetail) JSON() datatypes.JSON {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return raw
}
