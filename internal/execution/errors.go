package execution

import (
	"errors"

	"perp-panel/internal/exchange"
)

var (
	// ErrPriceUnavailable 表示无法获取有效的最新价。
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrBelowMinNotional 表示量化后的名义价值低于最小下单金额。
	ErrBelowMinNotional = errors.New("below minimum notional")
	// ErrInsufficientBalance 表示名义价值超过可用余额。
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidIntent 表示操作参数不合法。
	ErrInvalidIntent = errors.New("invalid order intent")
	// ErrExchangeRejected 表示交易所拒绝了已提交的委托。
	ErrExchangeRejected = errors.New("exchange rejected order")
	// ErrUpstreamUnavailable 表示交易所网络或接口异常。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ErrorKind 是面向操作员的错误分类。
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindRuleViolation       ErrorKind = "rule_violation"
	KindExchangeRejected    ErrorKind = "exchange_rejected"
)

// KindOf 将错误归入三类之一。
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBelowMinNotional),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidIntent):
		return KindRuleViolation
	case errors.Is(err, ErrExchangeRejected), errors.Is(err, exchange.ErrRejected):
		return KindExchangeRejected
	default:
		return KindUpstreamUnavailable
	}
}

// outcomeMessage 交易所拒单时原样返回交易所信息，其余返回完整错误文本。
func outcomeMessage(err error) string {
	var rejected *exchange.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message
	}
	return err.Error()
}
