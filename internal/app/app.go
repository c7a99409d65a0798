package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perp-panel/internal/config"
	"perp-panel/internal/exchange"
	"perp-panel/internal/execution"
	"perp-panel/internal/instrument"
	"perp-panel/internal/notify"
	"perp-panel/internal/position"
)

// CancelAllSymbols 表示撤销全部合约的委托。
const CancelAllSymbols = "ALL"

type priceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

type accountQuery interface {
	GetBalance(ctx context.Context) position.Balance
	ListPositions(ctx context.Context, symbol string) ([]position.Position, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]position.OpenOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) bool
	CancelEverything(ctx context.Context) (position.CancelReport, error)
}

// EntryRequest 描述一次分批开仓操作。Price 为0时使用最新价，Pct 为0时使用 max_position_pct。
type EntryRequest struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	Pct       float64 `json:"pct"`
}

// ExitRequest 描述一次平仓操作。
type ExitRequest struct {
	Symbol    string `json:"symbol"`
	Direction string `json:"direction"`
}

// Settings 为当前会话设置。杠杆仅用于展示，不会下发到交易所。
type Settings struct {
	MaxPositionPct float64 `json:"max_position_pct"`
	Leverage       float64 `json:"leverage"`
	Testnet        bool    `json:"testnet"`
	DryRun         bool    `json:"dry_run"`
	Notify         bool    `json:"notify"`
}

// CheckResult 为连接测试结果。
type CheckResult struct {
	OK        bool             `json:"ok"`
	Balance   position.Balance `json:"balance"`
	Positions int              `json:"positions"`
	Message   string           `json:"message"`
}

type deps struct {
	prices    priceSource
	query     accountQuery
	trader    execution.Trader
	snapshots *position.Snapshotter
	notifier  notify.Notifier
}

// App 聚合查询层、分批执行器与通知器，CLI 与 HTTP 接口共用。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	prices    priceSource
	query     accountQuery
	trader    execution.Trader
	snapshots *position.Snapshotter
	notifier  notify.Notifier

	// 同一时间只执行一个计划。
	planMu sync.Mutex
}

// New 根据配置构造全部依赖。缺少交易所凭证时直接返回错误。
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Exchange.HasCredentials() {
		return nil, errors.New("app: 未配置交易所 API 凭证 (exchange.api_key / exchange.api_secret)")
	}

	client, err := exchange.NewClient(cfg.Exchange, logger.Named("exchange"))
	if err != nil {
		return nil, fmt.Errorf("app: 初始化交易所客户端失败: %w", err)
	}

	resolver := instrument.NewResolver(client, cfg.Execution.RulesCacheTTL, logger.Named("instrument"))

	var composer *execution.Composer
	if cfg.Execution.DryRun {
		logger.Warn("dry-run 模式已开启，所有委托只记录不提交")
		composer = execution.NewComposer(client, resolver, execution.NewDryRunPlacer(logger.Named("dry-run")), cfg.Execution, logger.Named("composer"))
	} else {
		composer = execution.NewComposer(client, resolver, client, cfg.Execution, logger.Named("composer"))
	}

	query := position.NewManager(client, cfg.Account, logger.Named("position"))

	return newApp(cfg, logger, deps{
		prices:    client,
		query:     query,
		trader:    execution.NewPlanner(composer, query, cfg.Execution, logger.Named("planner")),
		snapshots: position.NewSnapshotter(query, cfg.Account.RefreshInterval, logger.Named("snapshot")),
		notifier:  notify.New(cfg.Notify, logger.Named("notify")),
	}), nil
}

func newApp(cfg *config.Config, logger *zap.Logger, d deps) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	return &App{
		cfg:       cfg,
		logger:    logger,
		prices:    d.prices,
		query:     d.query,
		trader:    d.trader,
		snapshots: d.snapshots,
		notifier:  d.notifier,
	}
}

// Settings 返回当前会话设置。
func (a *App) Settings() Settings {
	return Settings{
		MaxPositionPct: a.cfg.Execution.MaxPositionPct,
		Leverage:       a.cfg.Execution.Leverage,
		Testnet:        a.cfg.Exchange.UseSandbox,
		DryRun:         a.cfg.Execution.DryRun,
		Notify:         a.notifier.Enabled(),
	}
}

// Snapshot 返回账户快照，force 为 true 时忽略缓存。
func (a *App) Snapshot(ctx context.Context, force bool) position.Snapshot {
	return a.snapshots.Refresh(ctx, force)
}

// Balance 返回钱包余额。
func (a *App) Balance(ctx context.Context) position.Balance {
	return a.query.GetBalance(ctx)
}

// Positions 返回持仓。
func (a *App) Positions(ctx context.Context, symbol string) ([]position.Position, error) {
	return a.query.ListPositions(ctx, symbol)
}

// Orders 返回未成交委托。
func (a *App) Orders(ctx context.Context, symbol string) ([]position.OpenOrder, error) {
	return a.query.ListOpenOrders(ctx, symbol)
}

// Check 测试交易所连接：查询余额与持仓数量。
func (a *App) Check(ctx context.Context) CheckResult {
	balance := a.query.GetBalance(ctx)
	positions, err := a.query.ListPositions(ctx, "")
	if err != nil {
		return CheckResult{Balance: balance, Message: err.Error()}
	}
	if balance.Fallback {
		return CheckResult{Balance: balance, Positions: len(positions), Message: "余额查询失败"}
	}
	return CheckResult{
		OK:        true,
		Balance:   balance,
		Positions: len(positions),
		Message:   fmt.Sprintf("连接成功: 余额 %.2f %s，持仓 %d", balance.Amount, balance.Currency, len(positions)),
	}
}

// Enter 执行分批开仓，使用会话快照中的余额。
func (a *App) Enter(ctx context.Context, req EntryRequest) (execution.PlanResult, error) {
	direction, err := execution.ParseDirection(req.Direction)
	if err != nil {
		return execution.PlanResult{}, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return execution.PlanResult{}, fmt.Errorf("%w: symbol 不能为空", execution.ErrInvalidIntent)
	}

	pct := req.Pct
	if pct == 0 {
		pct = a.cfg.Execution.MaxPositionPct
	}
	if pct <= 0 || pct > 100 {
		return execution.PlanResult{}, fmt.Errorf("%w: 仓位比例必须位于(0,100]", execution.ErrInvalidIntent)
	}

	a.planMu.Lock()
	defer a.planMu.Unlock()

	ctx, err = detach(ctx)
	if err != nil {
		return execution.PlanResult{}, err
	}

	reference := req.Price
	if reference == 0 {
		last, err := a.prices.LastPrice(ctx, symbol)
		if err != nil {
			return execution.PlanResult{}, fmt.Errorf("%w: %w", execution.ErrPriceUnavailable, err)
		}
		reference = last
	}

	balance := a.snapshots.Refresh(ctx, false).Balance
	a.logger.Info("开始分批开仓",
		zap.String("symbol", symbol),
		zap.String("direction", string(direction)),
		zap.Float64("reference", reference),
		zap.Float64("pct", pct),
		zap.Float64("balance", balance.Amount),
		zap.Bool("fallback_balance", balance.Fallback),
	)

	result, err := a.trader.PlanEntry(ctx, symbol, direction,
		decimal.NewFromFloat(reference), decimal.NewFromFloat(pct), decimal.NewFromFloat(balance.Amount))
	if err != nil {
		return execution.PlanResult{}, err
	}

	a.snapshots.Invalidate()
	a.notifier.Send(ctx, notify.EntryComplete(symbol, direction == execution.DirectionLong, result.Succeeded(), len(result.Outcomes)))
	return result, nil
}

// Exit 执行平仓。
func (a *App) Exit(ctx context.Context, req ExitRequest) (execution.PlanResult, error) {
	direction, err := execution.ParseDirection(req.Direction)
	if err != nil {
		return execution.PlanResult{}, err
	}

	a.planMu.Lock()
	defer a.planMu.Unlock()

	ctx, err = detach(ctx)
	if err != nil {
		return execution.PlanResult{}, err
	}

	result, err := a.trader.PlanExit(ctx, req.Symbol, direction)
	if err != nil {
		return execution.PlanResult{}, err
	}

	a.snapshots.Invalidate()
	a.notifier.Send(ctx, notify.ExitComplete(result.Symbol, direction == execution.DirectionLong, result.Succeeded(), len(result.Outcomes)))
	return result, nil
}

// detach 在计划开始前检查调用方是否已取消，之后计划不再受调用方取消影响，
// 每次网络调用仍受各自的超时约束。
func detach(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return ctx, err
	}
	return context.WithoutCancel(ctx), nil
}

// Cancel 撤销指定合约的全部委托，symbol 为 ALL 时撤销所有合约。
func (a *App) Cancel(ctx context.Context, symbol string) (position.CancelReport, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return position.CancelReport{}, fmt.Errorf("%w: symbol 不能为空", execution.ErrInvalidIntent)
	}

	a.planMu.Lock()
	defer a.planMu.Unlock()
	defer a.snapshots.Invalidate()

	if symbol == CancelAllSymbols {
		return a.query.CancelEverything(ctx)
	}

	report := position.CancelReport{Cancelled: []string{}, Failed: []string{}}
	if a.query.CancelAllOrders(ctx, symbol) {
		report.Cancelled = append(report.Cancelled, symbol)
	} else {
		report.Failed = append(report.Failed, symbol)
	}
	return report, nil
}

// Notify 发送一条通知，未配置时返回 false。
func (a *App) Notify(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		text = notify.TestMessage
	}
	return a.notifier.Send(ctx, text)
}
