package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"perp-panel/internal/config"
)

// Client 负责与 Bybit USDT 永续合约接口交互。
// 只读查询按 retry 配置重试，下单与撤单只调用一次。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Bybit

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Bybit 线性合约客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Name, "bybit") {
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"timeout":         timeout.Milliseconds(),
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "swap",
			"defaultSubType":          "linear",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBybit(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Instrument 获取合约的价格与数量规则。
func (c *Client) Instrument(ctx context.Context, symbol string) (Instrument, error) {
	unified := UnifiedSymbol(symbol)

	var market map[string]interface{}
	err := c.callWithRetry(ctx, "instrument_info", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		raw, ok := c.exchange.Market(unified).(map[string]interface{})
		if !ok || raw == nil {
			return fmt.Errorf("exchange: 未找到合约 %s", unified)
		}
		market = raw
		return nil
	})
	if err != nil {
		return Instrument{}, err
	}

	return instrumentFromMarket(MarketID(symbol), market)
}

// LastPrice 返回最新成交价。
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	unified := UnifiedSymbol(symbol)

	var last float64
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		ticker, err := c.exchange.FetchTicker(unified)
		if err != nil {
			return err
		}
		last = derefFloat(ticker.Last)
		if last <= 0 && ticker.Info != nil {
			last = parseNumeric(ticker.Info["lastPrice"])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Balance 返回指定币种的钱包余额。
func (c *Client) Balance(ctx context.Context, currency string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))

	var balances ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	if balances.Total != nil {
		if total, ok := balances.Total[code]; ok && total != nil {
			return *total, nil
		}
	}
	return 0, fmt.Errorf("exchange: 账户中未找到 %s 余额", code)
}

// Positions 返回持仓列表，symbol 为空时返回全部合约。
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	want := MarketID(symbol)
	positions := make([]Position, 0, len(raw))
	for _, rawPos := range raw {
		pos := convertPosition(rawPos)
		if pos.Symbol == "" {
			continue
		}
		if want != "" && pos.Symbol != want {
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// OpenOrders 返回未成交订单，symbol 为空时返回全部合约。
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		var opts []ccxt.FetchOpenOrdersOptions
		if symbol != "" {
			opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(UnifiedSymbol(symbol)))
		}
		result, err := c.exchange.FetchOpenOrders(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, item := range raw {
		orders = append(orders, convertOrder(item))
	}
	return orders, nil
}

// CancelAll 撤销指定合约的全部未成交订单。
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	unified := UnifiedSymbol(symbol)
	return c.callOnce(ctx, "cancel_all_orders", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		_, err := c.exchange.CancelAllOrders(ccxt.WithCancelAllOrdersSymbol(unified))
		return err
	})
}

// PlaceOrder 提交单笔订单，不做任何重试。
func (c *Client) PlaceOrder(ctx context.Context, params OrderParams) (PlacedOrder, error) {
	unified := UnifiedSymbol(params.Symbol)
	side := strings.ToLower(string(params.Side))
	amount := params.Quantity.InexactFloat64()

	extra := map[string]interface{}{
		"timeInForce": string(params.TimeInForce),
		"reduceOnly":  params.ReduceOnly,
	}
	if params.ClientOrderID != "" {
		extra["clientOrderId"] = params.ClientOrderID
	}

	var order ccxt.Order
	err := c.callOnce(ctx, "place_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		var (
			result ccxt.Order
			err    error
		)
		switch params.Type {
		case OrderTypeMarket:
			result, err = c.exchange.CreateMarketOrder(unified, side, amount,
				ccxt.WithCreateMarketOrderParams(extra))
		case OrderTypeLimit:
			result, err = c.exchange.CreateLimitOrder(unified, side, amount, params.Price.InexactFloat64(),
				ccxt.WithCreateLimitOrderParams(extra))
		default:
			return fmt.Errorf("exchange: 不支持的订单类型 %s", params.Type)
		}
		if err != nil {
			return err
		}
		order = result
		return nil
	})
	if err != nil {
		return PlacedOrder{}, err
	}

	placed := PlacedOrder{
		OrderID:       derefString(order.Id),
		ClientOrderID: derefString(order.ClientOrderId),
		Status:        derefString(order.Status),
	}
	if placed.ClientOrderID == "" {
		placed.ClientOrderID = params.ClientOrderID
	}

	c.logger.Info("订单已提交",
		zap.String("symbol", params.Symbol),
		zap.String("side", string(params.Side)),
		zap.String("type", string(params.Type)),
		zap.String("qty", params.Quantity.String()),
		zap.String("price", params.Price.String()),
		zap.String("order_id", placed.OrderID),
	)
	return placed, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := safeCall(func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	}); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

// callOnce 用于写操作：不重试，只归一错误。
func (c *Client) callOnce(ctx context.Context, operation string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}

	start := time.Now()
	err := safeCall(fn)
	if err == nil {
		return nil
	}

	normalized := Classify(err)
	c.logger.Error("交易所调用失败",
		zap.String("operation", operation),
		zap.Duration("latency", time.Since(start)),
		zap.Error(normalized),
	)
	return normalized
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Classify(ctxErr)
		}

		attempt++
		start := time.Now()
		err := safeCall(fn)
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Classify(ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// safeCall 将 SDK 内部 panic 转为错误。
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("exchange: sdk panic: %v", r)
		}
	}()
	return fn()
}
