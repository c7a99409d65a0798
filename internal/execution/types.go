package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perp-panel/internal/exchange"
)

// Direction 表示持仓方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// ParseDirection 解析 long/short，大小写不敏感。
func ParseDirection(text string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(text))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("%w: 未知方向 %q", ErrInvalidIntent, text)
	}
}

// EntrySide 返回开仓方向对应的委托方向。
func (d Direction) EntrySide() exchange.Side {
	if d == DirectionShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// ExitSide 返回平仓方向对应的委托方向。
func (d Direction) ExitSide() exchange.Side {
	return d.EntrySide().Opposite()
}

// Action 区分开仓与平仓计划。
type Action string

const (
	ActionEntry Action = "entry"
	ActionExit  Action = "exit"
)

// StepKind 标识计划中每一步的类型。
type StepKind string

const (
	StepMarket  StepKind = "market"
	StepLimit   StepKind = "limit"
	StepCancel  StepKind = "cancel"
	StepNothing StepKind = "noop"
)

// Tier 为分批开仓中的一档。Share 为占总分配比例的百分数，Offset 为相对参考价的偏移。
type Tier struct {
	Kind   StepKind
	Share  decimal.Decimal
	Offset decimal.Decimal
}

// EntryTiers 返回固定的开仓分档：市价 45%，再以 2%/3%/4% 偏移挂 20%/20%/15% 限价。
func EntryTiers() []Tier {
	return []Tier{
		{Kind: StepMarket, Share: decimal.NewFromInt(45)},
		{Kind: StepLimit, Share: decimal.NewFromInt(20), Offset: decimal.RequireFromString("0.02")},
		{Kind: StepLimit, Share: decimal.NewFromInt(20), Offset: decimal.RequireFromString("0.03")},
		{Kind: StepLimit, Share: decimal.NewFromInt(15), Offset: decimal.RequireFromString("0.04")},
	}
}

// LimitPrice 计算该档挂单价：做多低于参考价，做空高于参考价。
func (t Tier) LimitPrice(reference decimal.Decimal, direction Direction) decimal.Decimal {
	if direction == DirectionShort {
		return reference.Mul(decimal.NewFromInt(1).Add(t.Offset))
	}
	return reference.Mul(decimal.NewFromInt(1).Sub(t.Offset))
}

// OrderRequest 为量化完成、可直接提交的委托。
type OrderRequest struct {
	Symbol        string               `json:"symbol"`
	Side          exchange.Side        `json:"side"`
	Type          exchange.OrderType   `json:"type"`
	Quantity      decimal.Decimal      `json:"quantity"`
	Price         decimal.Decimal      `json:"price"`
	Notional      decimal.Decimal      `json:"notional"`
	TimeInForce   exchange.TimeInForce `json:"time_in_force"`
	ReduceOnly    bool                 `json:"reduce_only"`
	ClientOrderID string               `json:"client_order_id"`
}

// Params 转换为交易所下单参数。市价单不携带价格。
func (r OrderRequest) Params() exchange.OrderParams {
	params := exchange.OrderParams{
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		Quantity:      r.Quantity,
		TimeInForce:   r.TimeInForce,
		ReduceOnly:    r.ReduceOnly,
		ClientOrderID: r.ClientOrderID,
	}
	if r.Type == exchange.OrderTypeLimit {
		params.Price = r.Price
	}
	return params
}

// Placement 为一次成功提交的结果。
type Placement struct {
	Request OrderRequest         `json:"request"`
	Order   exchange.PlacedOrder `json:"order"`
}

// Message 返回面向操作员的成功描述。
func (p Placement) Message() string {
	kind := "市价单"
	if p.Request.Type == exchange.OrderTypeLimit {
		kind = "限价单"
	}
	prefix := ""
	if p.Order.DryRun {
		prefix = "[dry-run] "
	}
	return fmt.Sprintf("%s%s提交成功: %s %s@%s = %s USDT",
		prefix,
		kind,
		p.Request.Side,
		p.Request.Quantity.String(),
		p.Request.Price.StringFixed(4),
		p.Request.Notional.StringFixed(2),
	)
}

// TierOutcome 记录计划中单个步骤的结果，各步骤互不影响。
type TierOutcome struct {
	Index          int             `json:"index"`
	Kind           StepKind        `json:"kind"`
	Side           exchange.Side   `json:"side,omitempty"`
	AllocationPct  decimal.Decimal `json:"allocation_pct"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Success        bool            `json:"success"`
	Skipped        bool            `json:"skipped,omitempty"`
	Message        string          `json:"message"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
}

// PlanResult 汇总一次开仓或平仓计划。计划本身没有整体失败状态。
type PlanResult struct {
	Symbol     string        `json:"symbol"`
	Direction  Direction     `json:"direction"`
	Action     Action        `json:"action"`
	Outcomes   []TierOutcome `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Succeeded 返回成功步骤数量。
func (r PlanResult) Succeeded() int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Success {
			count++
		}
	}
	return count
}

// Orders 返回实际提交成功的委托数量。
func (r PlanResult) Orders() int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Success && (outcome.Kind == StepMarket || outcome.Kind == StepLimit) {
			count++
		}
	}
	return count
}

// Summary 按顺序拼接各步骤信息。
func (r PlanResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s: %d/%d", r.Symbol, r.Direction, r.Action, r.Succeeded(), len(r.Outcomes))
	for _, outcome := range r.Outcomes {
		mark := "✅"
		switch {
		case outcome.Skipped:
			mark = "⏭"
		case !outcome.Success:
			mark = "❌"
		}
		fmt.Fprintf(&b, "\n%s #%d %s: %s", mark, outcome.Index, outcome.Kind, outcome.Message)
	}
	return b.String()
}
