package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向，取值与交易所一致。
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce 表示订单有效方式。
type TimeInForce string

const (
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceGTC TimeInForce = "GTC"
)

// Instrument 是交易所返回的原始交易规则，保持文本形式以便精确换算小数位。
type Instrument struct {
	Symbol   string
	TickSize string
	QtyStep  string
	MinQty   string
	MaxQty   string
}

// OrderParams 为一次下单请求的线上参数。
type OrderParams struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// PlacedOrder 为交易所受理后的订单回执。
type PlacedOrder struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

// Position 为交易所持仓原始数据。
type Position struct {
	Symbol        string
	Side          string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// Order 为交易所未成交订单原始数据。
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64
	Status        string
	CreatedAt     time.Time
}
