package position

import "time"

// Position 表示单个有效持仓，只读，每次刷新重新计算。
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PnLPercent    float64 `json:"pnl_percent"`
}

// Notional 返回按标记价计算的持仓价值。
func (p Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// OpenOrder 表示一笔未成交委托。
type OpenOrder struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance 为钱包余额。Fallback 为 true 表示查询失败，使用了配置中的默认余额。
type Balance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Fallback bool    `json:"fallback"`
}

// CancelReport 汇总一次全量撤单。
type CancelReport struct {
	Cancelled []string `json:"cancelled"`
	Failed    []string `json:"failed"`
}

// Snapshot 为面板展示所需的账户快照。
type Snapshot struct {
	Balance            Balance     `json:"balance"`
	Positions          []Position  `json:"positions"`
	Orders             []OpenOrder `json:"orders"`
	TotalUnrealizedPnL float64     `json:"total_unrealized_pnl"`
	Warnings           []string    `json:"warnings,omitempty"`
	RefreshedAt        time.Time   `json:"refreshed_at"`
}
