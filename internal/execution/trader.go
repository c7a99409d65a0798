package execution

import (
	"context"

	"github.com/shopspring/decimal"
)

// Trader 抽象分批执行接口，方便上层替换为模拟实现。
type Trader interface {
	PlanEntry(ctx context.Context, symbol string, direction Direction, referencePrice, allocationPct, balance decimal.Decimal) (PlanResult, error)
	PlanExit(ctx context.Context, symbol string, direction Direction) (PlanResult, error)
}

var _ Trader = (*Planner)(nil)
