package models

import (
	"time"

	"gorm.io/gorm"
)

// ExitOrder kinds. A bracket order is a profit-leg/stop-leg pair that
// mutually cancel; a plain order is a single take-profit limit placed when
// the exchange rejects the bracket.
const (
	KindBracket = "BRACKET"
	KindPlain   = "PLAIN"
)

// ExitOrder statuses. ACTIVE is the only non-terminal state; transitions
// are one-way and a terminal row is never re-evaluated.
const (
	StatusActive            = "ACTIVE"
	StatusProfitFilled      = "PROFIT_FILLED"
	StatusStopFilled        = "STOP_FILLED"
	StatusExpiredOrCanceled = "EXPIRED_OR_CANCELED"
	StatusUnknownExecuted   = "UNKNOWN_EXECUTED"
)

// Leg types recorded on execution.
const (
	LegProfit  = "PROFIT"
	LegStop    = "STOP"
	LegUnknown = "UNKNOWN"
)

// ExitOrder tracks the pending disposal of one buy's proceeds: either a
// bracket (profit + stop leg under one group id) or a plain limit sell.
// QuantityToSell + QuantityKept equals the bought quantity net of lot-step
// rounding; the kept remainder is profit retained in kind.
type ExitOrder struct {
	gorm.Model
	Symbol string `gorm:"index;not null" json:"symbol"`
	Kind   string `gorm:"not null" json:"kind"`

	// GroupID is the broker-assigned bracket group id; OrderID is the single
	// order id for the plain kind. ProfitOrderID/StopOrderID are the bracket
	// leg ids.
	GroupID       string `gorm:"index" json:"group_id"`
	OrderID       string `gorm:"index" json:"order_id"`
	ProfitOrderID string `json:"profit_order_id"`
	StopOrderID   string `json:"stop_order_id"`

	// BuyTransactionID links back to the originating BUY Transaction. Nil
	// when the linkage lookup failed after the buy.
	BuyTransactionID *uint `json:"buy_transaction_id"`

	TargetPrice    float64 `gorm:"not null" json:"target_price"`
	StopPrice      float64 `json:"stop_price"`
	QuantityToSell float64 `gorm:"not null" json:"quantity_to_sell"`
	QuantityKept   float64 `json:"quantity_kept"`

	Status string `gorm:"index;default:ACTIVE" json:"status"`

	ExecutionPrice float64    `json:"execution_price"`
	ExecutionQty   float64    `json:"execution_qty"`
	ExecutionLeg   string     `json:"execution_leg"`
	ExecutedAt     *time.Time `json:"executed_at"`
}

// Terminal reports whether the order has reached a final status.
func (o *ExitOrder) Terminal() bool {
	return o.Status != StatusActive
}
