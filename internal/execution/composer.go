package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perp-panel/internal/config"
	"perp-panel/internal/exchange"
	"perp-panel/internal/instrument"
)

type priceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

type rulesSource interface {
	Resolve(ctx context.Context, symbol string) instrument.Rules
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, params exchange.OrderParams) (exchange.PlacedOrder, error)
}

var hundred = decimal.NewFromInt(100)

// Composer 将单笔下单意图转为符合交易规则的委托并提交。
// 每次调用最多提交一次，不做重试。
type Composer struct {
	prices priceSource
	rules  rulesSource
	placer orderPlacer
	logger *zap.Logger

	minNotional       decimal.Decimal
	checkLimitBalance bool
	newClientID       func() string
}

// NewComposer 创建下单组装器。
func NewComposer(prices priceSource, rules rulesSource, placer orderPlacer, cfg config.ExecutionConfig, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	minNotional := decimal.NewFromFloat(cfg.MinNotional)
	if !minNotional.IsPositive() {
		minNotional = decimal.NewFromInt(5)
	}
	return &Composer{
		prices:            prices,
		rules:             rules,
		placer:            placer,
		logger:            logger,
		minNotional:       minNotional,
		checkLimitBalance: cfg.CheckLimitBalance,
		newClientID:       func() string { return uuid.New().String() },
	}
}

// ComposeMarketOrder 以最新价按余额比例计算数量并提交 IOC 市价单。
func (c *Composer) ComposeMarketOrder(ctx context.Context, symbol string, side exchange.Side, allocationPct, balance decimal.Decimal) (Placement, error) {
	symbol, err := validateIntent(symbol, side, allocationPct)
	if err != nil {
		return Placement{}, err
	}

	last, err := c.prices.LastPrice(ctx, symbol)
	if err != nil {
		return Placement{}, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	price := decimal.NewFromFloat(last)
	if !price.IsPositive() {
		return Placement{}, fmt.Errorf("%w: %s 最新价为 %s", ErrPriceUnavailable, symbol, price)
	}

	rules := c.rules.Resolve(ctx, symbol)
	qty := instrument.QuantizeQuantity(rawQuantity(balance, allocationPct, price), rules)
	notional := qty.Mul(price)

	if err := c.checkNotional(notional); err != nil {
		return Placement{}, err
	}
	if notional.GreaterThan(balance) {
		return Placement{}, fmt.Errorf("%w: 需要 %s USDT，余额 %s USDT",
			ErrInsufficientBalance, notional.StringFixed(2), balance.StringFixed(2))
	}

	return c.submit(ctx, OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeMarket,
		Quantity:    qty,
		Price:       price,
		Notional:    notional,
		TimeInForce: exchange.TimeInForceIOC,
	})
}

// ComposeLimitOrder 以给定价格计算数量并提交 GTC 限价单。
// 默认只校验最小名义价值，余额校验由 check_limit_balance 控制。
func (c *Composer) ComposeLimitOrder(ctx context.Context, symbol string, side exchange.Side, allocationPct, price, balance decimal.Decimal) (Placement, error) {
	symbol, err := validateIntent(symbol, side, allocationPct)
	if err != nil {
		return Placement{}, err
	}
	if !price.IsPositive() {
		return Placement{}, fmt.Errorf("%w: 限价必须大于0", ErrInvalidIntent)
	}

	rules := c.rules.Resolve(ctx, symbol)
	qty := instrument.QuantizeQuantity(rawQuantity(balance, allocationPct, price), rules)
	limitPrice := instrument.QuantizePrice(price, rules)
	notional := qty.Mul(limitPrice)

	if err := c.checkNotional(notional); err != nil {
		return Placement{}, err
	}
	if c.checkLimitBalance && notional.GreaterThan(balance) {
		return Placement{}, fmt.Errorf("%w: 需要 %s USDT，余额 %s USDT",
			ErrInsufficientBalance, notional.StringFixed(2), balance.StringFixed(2))
	}

	return c.submit(ctx, OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeLimit,
		Quantity:    qty,
		Price:       limitPrice,
		Notional:    notional,
		TimeInForce: exchange.TimeInForceGTC,
	})
}

func (c *Composer) checkNotional(notional decimal.Decimal) error {
	if notional.LessThan(c.minNotional) {
		return fmt.Errorf("%w: 需要 %s USDT，计算得 %s USDT",
			ErrBelowMinNotional, c.minNotional.String(), notional.StringFixed(2))
	}
	return nil
}

func (c *Composer) submit(ctx context.Context, req OrderRequest) (Placement, error) {
	req.ClientOrderID = c.newClientID()

	placed, err := c.placer.PlaceOrder(ctx, req.Params())
	if err != nil {
		kind := ErrUpstreamUnavailable
		if KindOf(err) == KindExchangeRejected {
			kind = ErrExchangeRejected
		}
		c.logger.Warn("下单失败",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("type", string(req.Type)),
			zap.String("qty", req.Quantity.String()),
			zap.Error(err),
		)
		return Placement{Request: req}, fmt.Errorf("%w: %w", kind, err)
	}

	return Placement{Request: req, Order: placed}, nil
}

func validateIntent(symbol string, side exchange.Side, allocationPct decimal.Decimal) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol 不能为空", ErrInvalidIntent)
	}
	if side != exchange.SideBuy && side != exchange.SideSell {
		return "", fmt.Errorf("%w: 未知委托方向 %q", ErrInvalidIntent, side)
	}
	if !allocationPct.IsPositive() {
		return "", fmt.Errorf("%w: 分配比例必须大于0", ErrInvalidIntent)
	}
	return symbol, nil
}

func rawQuantity(balance, allocationPct, price decimal.Decimal) decimal.Decimal {
	return balance.Mul(allocationPct).Div(hundred).Div(price)
}
