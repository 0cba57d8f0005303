package models

import "gorm.io/gorm"

// Order sides as reported by the exchange.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Transaction is an immutable trade fact recorded after an order fills.
// The (order_id, side) pair is unique, so re-inserting the same broker
// response is a no-op and recording stays idempotent under retries.
type Transaction struct {
	gorm.Model
	Symbol          string  `gorm:"index;not null" json:"symbol"`
	OrderID         string  `gorm:"uniqueIndex:idx_order_side;not null" json:"order_id"`
	Side            string  `gorm:"uniqueIndex:idx_order_side;not null" json:"side"`
	Price           float64 `gorm:"not null" json:"price"`
	Quantity        float64 `gorm:"not null" json:"quantity"`
	Commission      float64 `json:"commission"`
	CommissionAsset string  `json:"commission_asset"`
	// TransactTime is the exchange-reported execution time in epoch milliseconds.
	TransactTime int64 `gorm:"index" json:"transact_time"`
}
