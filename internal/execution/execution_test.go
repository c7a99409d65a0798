package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-panel/internal/config"
	"perp-panel/internal/exchange"
	"perp-panel/internal/instrument"
	"perp-panel/internal/position"
)

type mockPrices struct {
	price float64
	err   error
}

func (m mockPrices) LastPrice(context.Context, string) (float64, error) {
	return m.price, m.err
}

type mockRules struct {
	rules instrument.Rules
}

func (m mockRules) Resolve(_ context.Context, symbol string) instrument.Rules {
	r := m.rules
	r.Symbol = symbol
	return r
}

type mockPlacer struct {
	orders []exchange.OrderParams
	errs   []error
}

func (m *mockPlacer) PlaceOrder(_ context.Context, params exchange.OrderParams) (exchange.PlacedOrder, error) {
	idx := len(m.orders)
	m.orders = append(m.orders, params)
	if idx < len(m.errs) && m.errs[idx] != nil {
		return exchange.PlacedOrder{}, m.errs[idx]
	}
	return exchange.PlacedOrder{OrderID: fmt.Sprintf("order-%d", idx+1), ClientOrderID: params.ClientOrderID}, nil
}

type mockQuery struct {
	cancelOK  bool
	positions []position.Position
	err       error
	cancelled []string
}

func (m *mockQuery) CancelAllOrders(_ context.Context, symbol string) bool {
	m.cancelled = append(m.cancelled, symbol)
	return m.cancelOK
}

func (m *mockQuery) ListPositions(context.Context, string) ([]position.Position, error) {
	return m.positions, m.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func btcRules() instrument.Rules {
	return instrument.Rules{
		TickSize:      dec("0.1"),
		QtyStep:       dec("0.001"),
		MinQty:        dec("0.001"),
		MaxQty:        dec("100"),
		PriceDecimals: 2,
	}
}

func fineRules() instrument.Rules {
	return instrument.Rules{
		TickSize:      dec("0.01"),
		QtyStep:       dec("0.00001"),
		MinQty:        dec("0.00001"),
		MaxQty:        dec("1000"),
		PriceDecimals: 2,
	}
}

func newTestComposer(price float64, rules instrument.Rules, placer *mockPlacer, cfg config.ExecutionConfig) *Composer {
	c := NewComposer(mockPrices{price: price}, mockRules{rules: rules}, placer, cfg, nil)
	seq := 0
	c.newClientID = func() string {
		seq++
		return fmt.Sprintf("cid-%d", seq)
	}
	return c
}

func defaultExecution() config.ExecutionConfig {
	return config.ExecutionConfig{MinNotional: 5}
}

func TestComposeMarketOrder_Success(t *testing.T) {
	placer := &mockPlacer{}
	c := newTestComposer(40000, btcRules(), placer, defaultExecution())

	placement, err := c.ComposeMarketOrder(context.Background(), "btcusdt", exchange.SideBuy, dec("10"), dec("1000"))
	require.NoError(t, err)

	require.Len(t, placer.orders, 1)
	sent := placer.orders[0]
	assert.Equal(t, "BTCUSDT", sent.Symbol)
	assert.Equal(t, exchange.OrderTypeMarket, sent.Type)
	assert.Equal(t, exchange.TimeInForceIOC, sent.TimeInForce)
	assert.False(t, sent.ReduceOnly)
	assert.True(t, sent.Quantity.Equal(dec("0.002")), "qty=%s", sent.Quantity)
	assert.True(t, sent.Price.IsZero(), "market orders carry no price")
	assert.Equal(t, "cid-1", sent.ClientOrderID)

	assert.True(t, placement.Request.Notional.Equal(dec("80")))
	assert.Equal(t, "order-1", placement.Order.OrderID)
	assert.Contains(t, placement.Message(), "Buy 0.002@40000.0000 = 80.00 USDT")
}

func TestComposeMarketOrder_BelowMinNotional(t *testing.T) {
	placer := &mockPlacer{}
	c := newTestComposer(40000, fineRules(), placer, defaultExecution())

	_, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("1"), dec("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBelowMinNotional)
	assert.Contains(t, err.Error(), "below minimum notional")
	assert.Equal(t, KindRuleViolation, KindOf(err))
	assert.Empty(t, placer.orders)
}

func TestComposeMarketOrder_InsufficientBalance(t *testing.T) {
	placer := &mockPlacer{}
	c := newTestComposer(40000, btcRules(), placer, defaultExecution())

	_, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideSell, dec("200"), dec("100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Empty(t, placer.orders)
}

func TestComposeMarketOrder_PriceUnavailable(t *testing.T) {
	placer := &mockPlacer{}
	c := NewComposer(mockPrices{price: 0}, mockRules{rules: btcRules()}, placer, defaultExecution(), nil)

	_, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("10"), dec("1000"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))

	c = NewComposer(mockPrices{err: exchange.ErrUnavailable}, mockRules{rules: btcRules()}, placer, defaultExecution(), nil)
	_, err = c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("10"), dec("1000"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.ErrorIs(t, err, exchange.ErrUnavailable)
	assert.Empty(t, placer.orders)
}

func TestComposeMarketOrder_InvalidIntent(t *testing.T) {
	c := newTestComposer(40000, btcRules(), &mockPlacer{}, defaultExecution())

	_, err := c.ComposeMarketOrder(context.Background(), "", exchange.SideBuy, dec("10"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
	_, err = c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.Side("Hold"), dec("10"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
	_, err = c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("0"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestComposeMarketOrder_ExchangeRejectedVerbatim(t *testing.T) {
	placer := &mockPlacer{errs: []error{&exchange.RejectedError{Message: "ab not enough for new order"}}}
	c := newTestComposer(40000, btcRules(), placer, defaultExecution())

	_, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("10"), dec("1000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExchangeRejected)
	assert.Equal(t, KindExchangeRejected, KindOf(err))
	assert.Equal(t, "ab not enough for new order", outcomeMessage(err))
	assert.Len(t, placer.orders, 1, "rejections are never retried")
}

func TestComposeMarketOrder_TransportFailure(t *testing.T) {
	placer := &mockPlacer{errs: []error{fmt.Errorf("%w: dial tcp", exchange.ErrUnavailable)}}
	c := newTestComposer(40000, btcRules(), placer, defaultExecution())

	_, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("10"), dec("1000"))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
	assert.Len(t, placer.orders, 1)
}

func TestComposeLimitOrder_QuantizesPriceAndSkipsBalanceCheck(t *testing.T) {
	placer := &mockPlacer{}
	c := newTestComposer(0, btcRules(), placer, defaultExecution())

	placement, err := c.ComposeLimitOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("200"), dec("48999.96"), dec("100"))
	require.NoError(t, err)

	sent := placer.orders[0]
	assert.Equal(t, exchange.OrderTypeLimit, sent.Type)
	assert.Equal(t, exchange.TimeInForceGTC, sent.TimeInForce)
	assert.True(t, sent.Price.Equal(dec("49000")), "price=%s", sent.Price)
	assert.True(t, sent.Quantity.Equal(dec("0.004")), "qty=%s", sent.Quantity)
	assert.True(t, placement.Request.Notional.GreaterThan(dec("100")))
}

func TestComposeLimitOrder_BalanceCheckFlag(t *testing.T) {
	placer := &mockPlacer{}
	cfg := defaultExecution()
	cfg.CheckLimitBalance = true
	c := newTestComposer(0, btcRules(), placer, cfg)

	_, err := c.ComposeLimitOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("200"), dec("49000"), dec("100"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, placer.orders)
}

func TestComposeLimitOrder_BelowMinNotional(t *testing.T) {
	placer := &mockPlacer{}
	c := newTestComposer(0, fineRules(), placer, defaultExecution())

	_, err := c.ComposeLimitOrder(context.Background(), "BTCUSDT", exchange.SideSell, dec("1"), dec("40000"), dec("10"))
	assert.ErrorIs(t, err, ErrBelowMinNotional)
	assert.Empty(t, placer.orders)
}

func TestComposeLimitOrder_NotionalUsesQuantizedPrice(t *testing.T) {
	rules := instrument.Rules{
		TickSize:      dec("1"),
		QtyStep:       dec("0.001"),
		MinQty:        dec("0.001"),
		MaxQty:        dec("100"),
		PriceDecimals: 0,
	}

	// 4999.6 取整到 5000: 0.001 * 5000 = 5 达到最小名义价值。
	placer := &mockPlacer{}
	c := newTestComposer(0, rules, placer, defaultExecution())
	placement, err := c.ComposeLimitOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("100"), dec("4999.6"), dec("5"))
	require.NoError(t, err)
	require.Len(t, placer.orders, 1)
	assert.True(t, placer.orders[0].Price.Equal(dec("5000")), "price=%s", placer.orders[0].Price)
	assert.True(t, placement.Request.Notional.Equal(dec("5")), "notional=%s", placement.Request.Notional)

	// 1666.7 取整到 1666.5: 0.003 * 1666.5 = 4.9995 低于最小名义价值。
	rules.TickSize = dec("0.5")
	rules.PriceDecimals = 1
	placer = &mockPlacer{}
	c = newTestComposer(0, rules, placer, defaultExecution())
	_, err = c.ComposeLimitOrder(context.Background(), "BTCUSDT", exchange.SideSell, dec("100"), dec("1666.7"), dec("5.5"))
	assert.ErrorIs(t, err, ErrBelowMinNotional)
	assert.Empty(t, placer.orders)
}

func TestPlanEntry_LongTiers(t *testing.T) {
	placer := &mockPlacer{}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), &mockQuery{}, defaultExecution(), nil)

	result, err := planner.PlanEntry(context.Background(), "BTCUSDT", DirectionLong, dec("50000"), dec("100"), dec("1000"))
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 4)

	wantPct := []string{"45", "20", "20", "15"}
	wantPrice := []string{"0", "49000", "48500", "48000"}
	for i, outcome := range result.Outcomes {
		assert.Equal(t, i+1, outcome.Index)
		assert.True(t, outcome.AllocationPct.Equal(dec(wantPct[i])), "tier %d pct=%s", i+1, outcome.AllocationPct)
		assert.True(t, outcome.RequestedPrice.Equal(dec(wantPrice[i])), "tier %d price=%s", i+1, outcome.RequestedPrice)
		assert.Equal(t, exchange.SideBuy, outcome.Side)
		assert.True(t, outcome.Success, outcome.Message)
	}
	assert.Equal(t, StepMarket, result.Outcomes[0].Kind)

	require.Len(t, placer.orders, 4)
	assert.Equal(t, exchange.OrderTypeMarket, placer.orders[0].Type)
	for i, want := range []string{"49000", "48500", "48000"} {
		sent := placer.orders[i+1]
		assert.Equal(t, exchange.OrderTypeLimit, sent.Type)
		assert.True(t, sent.Price.Equal(dec(want)), "limit %d price=%s", i+1, sent.Price)
	}
	assert.Equal(t, 4, result.Orders())
}

func TestPlanEntry_ShortPricesAboveReference(t *testing.T) {
	placer := &mockPlacer{}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), &mockQuery{}, defaultExecution(), nil)

	result, err := planner.PlanEntry(context.Background(), "BTCUSDT", DirectionShort, dec("50000"), dec("100"), dec("1000"))
	require.NoError(t, err)

	for i, want := range []string{"51000", "51500", "52000"} {
		outcome := result.Outcomes[i+1]
		assert.True(t, outcome.RequestedPrice.Equal(dec(want)), "tier %d price=%s", i+2, outcome.RequestedPrice)
		assert.True(t, outcome.RequestedPrice.GreaterThan(dec("50000")))
		assert.Equal(t, exchange.SideSell, outcome.Side)
	}
}

func TestPlanEntry_FailedMarketLegDoesNotBlockLimits(t *testing.T) {
	placer := &mockPlacer{errs: []error{&exchange.RejectedError{Message: "Insufficient margin"}}}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), &mockQuery{}, defaultExecution(), nil)

	result, err := planner.PlanEntry(context.Background(), "BTCUSDT", DirectionLong, dec("50000"), dec("100"), dec("1000"))
	require.NoError(t, err)

	assert.False(t, result.Outcomes[0].Success)
	assert.Equal(t, KindExchangeRejected, result.Outcomes[0].ErrorKind)
	assert.Equal(t, "Insufficient margin", result.Outcomes[0].Message)
	for _, outcome := range result.Outcomes[1:] {
		assert.True(t, outcome.Success)
	}
	assert.Len(t, placer.orders, 4)
	assert.Equal(t, 3, result.Succeeded())
	assert.Contains(t, result.Summary(), "❌ #1 market: Insufficient margin")
}

func TestPlanEntry_AbortOnFailure(t *testing.T) {
	cfg := defaultExecution()
	cfg.AbortOnFailure = true
	placer := &mockPlacer{errs: []error{nil, exchange.ErrUnavailable}}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, cfg), &mockQuery{}, cfg, nil)

	result, err := planner.PlanEntry(context.Background(), "BTCUSDT", DirectionLong, dec("50000"), dec("100"), dec("1000"))
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 4)

	assert.True(t, result.Outcomes[0].Success)
	assert.False(t, result.Outcomes[1].Success)
	assert.True(t, result.Outcomes[2].Skipped)
	assert.True(t, result.Outcomes[3].Skipped)
	assert.Len(t, placer.orders, 2)
}

func TestPlanEntry_InvalidIntent(t *testing.T) {
	planner := NewPlanner(newTestComposer(50000, btcRules(), &mockPlacer{}, defaultExecution()), &mockQuery{}, defaultExecution(), nil)

	_, err := planner.PlanEntry(context.Background(), " ", DirectionLong, dec("50000"), dec("100"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
	_, err = planner.PlanEntry(context.Background(), "BTCUSDT", DirectionLong, dec("0"), dec("100"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
	_, err = planner.PlanEntry(context.Background(), "BTCUSDT", Direction("flat"), dec("50000"), dec("100"), dec("1000"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestPlanExit_NothingToClose(t *testing.T) {
	placer := &mockPlacer{}
	query := &mockQuery{
		cancelOK: true,
		positions: []position.Position{
			{Symbol: "BTCUSDT", Side: "short", Size: 0.01, MarkPrice: 50000},
		},
	}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), query, defaultExecution(), nil)

	result, err := planner.PlanExit(context.Background(), "btcusdt", DirectionLong)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, StepCancel, result.Outcomes[0].Kind)
	assert.True(t, result.Outcomes[0].Success)
	assert.Equal(t, StepNothing, result.Outcomes[1].Kind)
	assert.Contains(t, result.Outcomes[1].Message, "nothing to close")
	assert.Empty(t, placer.orders)
	assert.Equal(t, []string{"BTCUSDT"}, query.cancelled)
}

func TestPlanExit_ClosesMatchingPositions(t *testing.T) {
	placer := &mockPlacer{}
	query := &mockQuery{
		cancelOK: false,
		positions: []position.Position{
			{Symbol: "BTCUSDT", Side: "long", Size: 0.02, MarkPrice: 50000},
			{Symbol: "BTCUSDT", Side: "short", Size: 0.01, MarkPrice: 50000},
		},
	}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), query, defaultExecution(), nil)

	result, err := planner.PlanExit(context.Background(), "BTCUSDT", DirectionLong)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.False(t, result.Outcomes[0].Success, "cancel failure is reported")
	assert.True(t, result.Outcomes[1].Success)

	require.Len(t, placer.orders, 1)
	sent := placer.orders[0]
	assert.Equal(t, exchange.SideSell, sent.Side)
	assert.Equal(t, exchange.OrderTypeMarket, sent.Type)
	assert.True(t, sent.Quantity.Equal(dec("0.02")), "qty=%s", sent.Quantity)
}

func TestPlanExit_PositionQueryFailure(t *testing.T) {
	placer := &mockPlacer{}
	query := &mockQuery{cancelOK: true, err: fmt.Errorf("position: 获取持仓失败: %w", exchange.ErrUnavailable)}
	planner := NewPlanner(newTestComposer(50000, btcRules(), placer, defaultExecution()), query, defaultExecution(), nil)

	result, err := planner.PlanExit(context.Background(), "BTCUSDT", DirectionShort)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, KindUpstreamUnavailable, result.Outcomes[1].ErrorKind)
	assert.Empty(t, placer.orders)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" LONG ")
	require.NoError(t, err)
	assert.Equal(t, DirectionLong, d)
	assert.Equal(t, exchange.SideBuy, d.EntrySide())
	assert.Equal(t, exchange.SideSell, d.ExitSide())

	d, err = ParseDirection("short")
	require.NoError(t, err)
	assert.Equal(t, exchange.SideSell, d.EntrySide())

	_, err = ParseDirection("up")
	assert.True(t, errors.Is(err, ErrInvalidIntent))
}

func TestDryRunPlacer(t *testing.T) {
	c := newTestComposer(40000, btcRules(), nil, defaultExecution())
	c.placer = NewDryRunPlacer(nil)

	placement, err := c.ComposeMarketOrder(context.Background(), "BTCUSDT", exchange.SideBuy, dec("10"), dec("1000"))
	require.NoError(t, err)
	assert.True(t, placement.Order.DryRun)
	assert.Equal(t, "dry-cid-1", placement.Order.OrderID)
	assert.Contains(t, placement.Message(), "[dry-run]")
}
