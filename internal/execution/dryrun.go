package execution

import (
	"context"

	"go.uber.org/zap"

	"perp-panel/internal/exchange"
)

// DryRunPlacer 只记录委托，不向交易所提交。
type DryRunPlacer struct {
	logger *zap.Logger
}

// NewDryRunPlacer 创建模拟下单器。
func NewDryRunPlacer(logger *zap.Logger) *DryRunPlacer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunPlacer{logger: logger}
}

// PlaceOrder 记录委托并返回模拟回执。
func (p *DryRunPlacer) PlaceOrder(_ context.Context, params exchange.OrderParams) (exchange.PlacedOrder, error) {
	p.logger.Info("dry-run 模式，跳过下单",
		zap.String("symbol", params.Symbol),
		zap.String("side", string(params.Side)),
		zap.String("type", string(params.Type)),
		zap.String("qty", params.Quantity.String()),
		zap.String("price", params.Price.String()),
		zap.String("tif", string(params.TimeInForce)),
	)
	return exchange.PlacedOrder{
		OrderID:       "dry-" + params.ClientOrderID,
		ClientOrderID: params.ClientOrderID,
		Status:        "simulated",
		DryRun:        true,
	}, nil
}
