package instrument

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-panel/internal/exchange"
)

type instrumentSource interface {
	Instrument(ctx context.Context, symbol string) (exchange.Instrument, error)
}

type cachedRules struct {
	rules     Rules
	expiresAt time.Time
}

// Resolver 按合约解析交易规则。默认每次下单都重新查询；
// ttl > 0 时启用短期缓存，降级得到的默认规则不会进入缓存。
type Resolver struct {
	source instrumentSource
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRules
}

// NewResolver 创建规则解析器。
func NewResolver(source instrumentSource, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedRules),
	}
}

// Resolve 返回合约规则，上游失败时返回 FallbackRules 而不是错误。
func (r *Resolver) Resolve(ctx context.Context, symbol string) Rules {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if rules, ok := r.cached(symbol); ok {
		return rules
	}

	inst, err := r.source.Instrument(ctx, symbol)
	if err != nil {
		r.logger.Warn("合约规则查询失败，使用默认规则",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return FallbackRules(symbol)
	}

	rules, err := FromInstrument(inst)
	if err != nil {
		r.logger.Warn("合约规则无效，使用默认规则",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return FallbackRules(symbol)
	}

	r.store(symbol, rules)
	return rules
}

// Invalidate 清除指定合约的缓存，symbol 为空时清空全部。
func (r *Resolver) Invalidate(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if symbol == "" {
		r.cache = make(map[string]cachedRules)
		return
	}
	delete(r.cache, strings.ToUpper(strings.TrimSpace(symbol)))
}

func (r *Resolver) cached(symbol string) (Rules, bool) {
	if r.ttl <= 0 {
		return Rules{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[symbol]
	if !ok || !r.now().Before(entry.expiresAt) {
		return Rules{}, false
	}
	return entry.rules, true
}

func (r *Resolver) store(symbol string, rules Rules) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[symbol] = cachedRules{rules: rules, expiresAt: r.now().Add(r.ttl)}
}
