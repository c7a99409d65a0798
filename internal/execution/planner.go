package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perp-panel/internal/config"
	"perp-panel/internal/exchange"
	"perp-panel/internal/position"
)

type orderComposer interface {
	ComposeMarketOrder(ctx context.Context, symbol string, side exchange.Side, allocationPct, balance decimal.Decimal) (Placement, error)
	ComposeLimitOrder(ctx context.Context, symbol string, side exchange.Side, allocationPct, price, balance decimal.Decimal) (Placement, error)
}

type exitQuerier interface {
	CancelAllOrders(ctx context.Context, symbol string) bool
	ListPositions(ctx context.Context, symbol string) ([]position.Position, error)
}

// Planner 将一次开仓/平仓意图拆成有序步骤并逐一执行。
// 默认任何一步失败都不影响后续步骤，abort_on_failure 打开时剩余步骤标记为跳过。
type Planner struct {
	composer       orderComposer
	query          exitQuerier
	logger         *zap.Logger
	abortOnFailure bool
	now            func() time.Time
}

// NewPlanner 创建分批执行器。
func NewPlanner(composer orderComposer, query exitQuerier, cfg config.ExecutionConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		composer:       composer,
		query:          query,
		logger:         logger,
		abortOnFailure: cfg.AbortOnFailure,
		now:            time.Now,
	}
}

// PlanEntry 先以 45% 市价开仓，再按 2%/3%/4% 偏移挂三档限价。
func (p *Planner) PlanEntry(ctx context.Context, symbol string, direction Direction, referencePrice, allocationPct, balance decimal.Decimal) (PlanResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return PlanResult{}, fmt.Errorf("%w: symbol 不能为空", ErrInvalidIntent)
	}
	if direction != DirectionLong && direction != DirectionShort {
		return PlanResult{}, fmt.Errorf("%w: 未知方向 %q", ErrInvalidIntent, direction)
	}
	if !referencePrice.IsPositive() {
		return PlanResult{}, fmt.Errorf("%w: 参考价必须大于0", ErrInvalidIntent)
	}
	if !allocationPct.IsPositive() {
		return PlanResult{}, fmt.Errorf("%w: 分配比例必须大于0", ErrInvalidIntent)
	}

	result := PlanResult{
		Symbol:    symbol,
		Direction: direction,
		Action:    ActionEntry,
		StartedAt: p.now().UTC(),
	}
	side := direction.EntrySide()
	aborted := false

	for i, tier := range EntryTiers() {
		outcome := TierOutcome{
			Index:         i + 1,
			Kind:          tier.Kind,
			Side:          side,
			AllocationPct: allocationPct.Mul(tier.Share).Div(hundred),
		}
		if tier.Kind == StepLimit {
			outcome.RequestedPrice = tier.LimitPrice(referencePrice, direction)
		}

		if aborted {
			outcome.Skipped = true
			outcome.Message = "skipped: 前序步骤失败，计划已中止"
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		var (
			placement Placement
			err       error
		)
		switch tier.Kind {
		case StepMarket:
			placement, err = p.composer.ComposeMarketOrder(ctx, symbol, side, outcome.AllocationPct, balance)
		default:
			placement, err = p.composer.ComposeLimitOrder(ctx, symbol, side, outcome.AllocationPct, outcome.RequestedPrice, balance)
		}
		applyPlacement(&outcome, placement, err)
		p.logOutcome(result, outcome)
		result.Outcomes = append(result.Outcomes, outcome)

		if err != nil && p.abortOnFailure {
			aborted = true
		}
	}

	result.FinishedAt = p.now().UTC()
	return result, nil
}

// PlanExit 撤销该合约全部委托，再以市价平掉同方向的每个持仓。
func (p *Planner) PlanExit(ctx context.Context, symbol string, direction Direction) (PlanResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return PlanResult{}, fmt.Errorf("%w: symbol 不能为空", ErrInvalidIntent)
	}
	if direction != DirectionLong && direction != DirectionShort {
		return PlanResult{}, fmt.Errorf("%w: 未知方向 %q", ErrInvalidIntent, direction)
	}

	result := PlanResult{
		Symbol:    symbol,
		Direction: direction,
		Action:    ActionExit,
		StartedAt: p.now().UTC(),
	}

	cancel := TierOutcome{Index: 1, Kind: StepCancel}
	if p.query.CancelAllOrders(ctx, symbol) {
		cancel.Success = true
		cancel.Message = fmt.Sprintf("已撤销 %s 全部委托", symbol)
	} else {
		cancel.ErrorKind = KindUpstreamUnavailable
		cancel.Message = fmt.Sprintf("撤销 %s 委托失败，继续平仓", symbol)
	}
	p.logOutcome(result, cancel)
	result.Outcomes = append(result.Outcomes, cancel)

	positions, err := p.query.ListPositions(ctx, symbol)
	if err != nil {
		outcome := TierOutcome{
			Index:     2,
			Kind:      StepNothing,
			ErrorKind: KindOf(err),
			Message:   err.Error(),
		}
		p.logOutcome(result, outcome)
		result.Outcomes = append(result.Outcomes, outcome)
		result.FinishedAt = p.now().UTC()
		return result, nil
	}

	side := direction.ExitSide()
	closed := 0
	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Side != string(direction) || pos.Size <= 0 {
			continue
		}
		notional := decimal.NewFromFloat(pos.Notional())
		outcome := TierOutcome{
			Index:         len(result.Outcomes) + 1,
			Kind:          StepMarket,
			Side:          side,
			AllocationPct: hundred,
		}
		placement, err := p.composer.ComposeMarketOrder(ctx, symbol, side, hundred, notional)
		applyPlacement(&outcome, placement, err)
		p.logOutcome(result, outcome)
		result.Outcomes = append(result.Outcomes, outcome)
		closed++
	}

	if closed == 0 {
		result.Outcomes = append(result.Outcomes, TierOutcome{
			Index:   len(result.Outcomes) + 1,
			Kind:    StepNothing,
			Success: true,
			Message: fmt.Sprintf("nothing to close: 没有 %s %s 持仓", symbol, direction),
		})
	}

	result.FinishedAt = p.now().UTC()
	return result, nil
}

func applyPlacement(outcome *TierOutcome, placement Placement, err error) {
	outcome.Quantity = placement.Request.Quantity
	if err != nil {
		outcome.ErrorKind = KindOf(err)
		outcome.Message = outcomeMessage(err)
		return
	}
	outcome.Success = true
	outcome.OrderID = placement.Order.OrderID
	outcome.Message = placement.Message()
}

func (p *Planner) logOutcome(result PlanResult, outcome TierOutcome) {
	fields := []zap.Field{
		zap.String("symbol", result.Symbol),
		zap.String("direction", string(result.Direction)),
		zap.String("action", string(result.Action)),
		zap.Int("step", outcome.Index),
		zap.String("kind", string(outcome.Kind)),
		zap.String("message", outcome.Message),
	}
	if outcome.Success {
		p.logger.Info("计划步骤完成", fields...)
		return
	}
	p.logger.Warn("计划步骤失败", append(fields, zap.String("error_kind", string(outcome.ErrorKind)))...)
}
