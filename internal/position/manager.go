package position

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"perp-panel/internal/config"
	"perp-panel/internal/exchange"
)

type accountClient interface {
	Balance(ctx context.Context, currency string) (float64, error)
	Positions(ctx context.Context, symbol string) ([]exchange.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error)
	CancelAll(ctx context.Context, symbol string) error
}

// Manager 提供持仓、委托与余额查询，以及按合约撤单。内部不做重试。
type Manager struct {
	client   accountClient
	currency string
	fallback float64
	logger   *zap.Logger
}

// NewManager 创建查询层。
func NewManager(client accountClient, cfg config.AccountConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.QuoteCurrency))
	if currency == "" {
		currency = "USDT"
	}
	return &Manager{
		client:   client,
		currency: currency,
		fallback: cfg.FallbackBalance,
		logger:   logger,
	}
}

// ListPositions 返回 size > 0 的持仓，symbol 为空时返回全部。
func (m *Manager) ListPositions(ctx context.Context, symbol string) ([]Position, error) {
	raw, err := m.client.Positions(ctx, normalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, item := range raw {
		if item.Size <= 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:        item.Symbol,
			Side:          item.Side,
			Size:          item.Size,
			EntryPrice:    item.EntryPrice,
			MarkPrice:     item.MarkPrice,
			UnrealizedPnL: item.UnrealizedPnL,
			PnLPercent:    pnlPercent(item.UnrealizedPnL, item.EntryPrice, item.Size),
		})
	}
	return positions, nil
}

// ListOpenOrders 返回未成交委托，symbol 为空时返回全部。
func (m *Manager) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	raw, err := m.client.OpenOrders(ctx, normalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("position: 获取未成交委托失败: %w", err)
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, item := range raw {
		orders = append(orders, OpenOrder{
			OrderID:       item.OrderID,
			ClientOrderID: item.ClientOrderID,
			Symbol:        item.Symbol,
			Side:          item.Side,
			Type:          item.Type,
			Quantity:      item.Quantity,
			Price:         item.Price,
			Status:        item.Status,
			CreatedAt:     item.CreatedAt,
		})
	}
	return orders, nil
}

// GetBalance 返回钱包余额。查询失败时返回配置的默认余额并标记 Fallback。
func (m *Manager) GetBalance(ctx context.Context) Balance {
	amount, err := m.client.Balance(ctx, m.currency)
	if err != nil {
		m.logger.Warn("余额查询失败，使用默认余额",
			zap.String("currency", m.currency),
			zap.Float64("fallback", m.fallback),
			zap.Error(err),
		)
		return Balance{Currency: m.currency, Amount: m.fallback, Fallback: true}
	}
	return Balance{Currency: m.currency, Amount: amount}
}

// CancelAllOrders 撤销指定合约的全部委托，成功返回 true。
func (m *Manager) CancelAllOrders(ctx context.Context, symbol string) bool {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return false
	}
	if err := m.client.CancelAll(ctx, symbol); err != nil {
		m.logger.Warn("撤单失败",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return false
	}
	m.logger.Info("已撤销全部委托", zap.String("symbol", symbol))
	return true
}

// CancelEverything 按未成交委托涉及的合约逐个撤单。
func (m *Manager) CancelEverything(ctx context.Context) (CancelReport, error) {
	orders, err := m.ListOpenOrders(ctx, "")
	if err != nil {
		return CancelReport{}, err
	}

	seen := make(map[string]struct{})
	symbols := make([]string, 0)
	for _, order := range orders {
		if order.Symbol == "" {
			continue
		}
		if _, ok := seen[order.Symbol]; ok {
			continue
		}
		seen[order.Symbol] = struct{}{}
		symbols = append(symbols, order.Symbol)
	}
	sort.Strings(symbols)

	report := CancelReport{Cancelled: []string{}, Failed: []string{}}
	for _, symbol := range symbols {
		if m.CancelAllOrders(ctx, symbol) {
			report.Cancelled = append(report.Cancelled, symbol)
		} else {
			report.Failed = append(report.Failed, symbol)
		}
	}
	return report, nil
}

func pnlPercent(unrealized, entry, size float64) float64 {
	if entry <= 0 || size <= 0 {
		return 0
	}
	return unrealized / (entry * size) * 100
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
