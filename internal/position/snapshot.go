package position

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type snapshotSource interface {
	GetBalance(ctx context.Context) Balance
	ListPositions(ctx context.Context, symbol string) ([]Position, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}

// Snapshotter 缓存账户快照，在刷新间隔内直接返回缓存，force 时强制刷新。
type Snapshotter struct {
	source   snapshotSource
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	current  Snapshot
	hasValue bool
}

// NewSnapshotter 创建快照缓存。
func NewSnapshotter(source snapshotSource, interval time.Duration, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Snapshotter{
		source:   source,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Refresh 返回账户快照。查询失败的部分以空结果代替并记录到 Warnings。
func (s *Snapshotter) Refresh(ctx context.Context, force bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.hasValue && s.now().Sub(s.current.RefreshedAt) < s.interval {
		return s.current
	}

	var (
		balance   Balance
		positions []Position
		orders    []OpenOrder
		posErr    error
		orderErr  error
	)

	// 各部分相互独立，单项失败不取消其余查询。
	var g errgroup.Group
	g.Go(func() error {
		balance = s.source.GetBalance(ctx)
		return nil
	})
	g.Go(func() error {
		positions, posErr = s.source.ListPositions(ctx, "")
		return posErr
	})
	g.Go(func() error {
		orders, orderErr = s.source.ListOpenOrders(ctx, "")
		return orderErr
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("账户快照部分刷新失败", zap.Error(multierr.Combine(posErr, orderErr)))
	}

	snapshot := Snapshot{
		Balance:     balance,
		Positions:   positions,
		Orders:      orders,
		RefreshedAt: s.now(),
	}
	if balance.Fallback {
		snapshot.Warnings = append(snapshot.Warnings, "余额查询失败，显示默认余额")
	}
	if posErr != nil {
		snapshot.Warnings = append(snapshot.Warnings, posErr.Error())
	}
	if orderErr != nil {
		snapshot.Warnings = append(snapshot.Warnings, orderErr.Error())
	}
	if snapshot.Positions == nil {
		snapshot.Positions = []Position{}
	}
	if snapshot.Orders == nil {
		snapshot.Orders = []OpenOrder{}
	}
	for _, p := range snapshot.Positions {
		snapshot.TotalUnrealizedPnL += p.UnrealizedPnL
	}

	s.current = snapshot
	s.hasValue = true
	return snapshot
}

// Invalidate 使缓存失效，下次 Refresh 会重新查询。
func (s *Snapshotter) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasValue = false
}

// LastRefresh 返回最近一次刷新时间，尚未刷新时为零值。
func (s *Snapshotter) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasValue {
		return time.Time{}
	}
	return s.current.RefreshedAt
}
