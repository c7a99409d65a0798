package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"perp-panel/internal/exchange"
)

// Rules 描述单个合约的下单约束。
type Rules struct {
	Symbol        string
	TickSize      decimal.Decimal
	QtyStep       decimal.Decimal
	MinQty        decimal.Decimal
	MaxQty        decimal.Decimal
	PriceDecimals int32
	// Fallback 为 true 表示上游查询失败，使用了内置默认规则。
	Fallback bool
}

// FallbackRules 返回上游不可用时使用的默认规则。
func FallbackRules(symbol string) Rules {
	return Rules{
		Symbol:        symbol,
		TickSize:      decimal.RequireFromString("0.01"),
		QtyStep:       decimal.RequireFromString("0.001"),
		MinQty:        decimal.RequireFromString("0.001"),
		MaxQty:        decimal.NewFromInt(10000),
		PriceDecimals: 2,
		Fallback:      true,
	}
}

// FromInstrument 将交易所原始规则解析为 Rules。
func FromInstrument(inst exchange.Instrument) (Rules, error) {
	var (
		rules = Rules{Symbol: inst.Symbol}
		err   error
	)

	parse := func(field, text string) decimal.Decimal {
		d, parseErr := decimal.NewFromString(strings.TrimSpace(text))
		if parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s=%q: %w", field, text, parseErr))
		}
		return d
	}

	rules.TickSize = parse("tickSize", inst.TickSize)
	rules.QtyStep = parse("qtyStep", inst.QtyStep)
	rules.MinQty = parse("minOrderQty", inst.MinQty)
	rules.MaxQty = parse("maxOrderQty", inst.MaxQty)
	if err != nil {
		return Rules{}, fmt.Errorf("instrument: 解析 %s 交易规则失败: %w", inst.Symbol, err)
	}

	rules.PriceDecimals = textDecimals(inst.TickSize)

	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate 检查规则不变式。
func (r Rules) Validate() error {
	var err error
	if !r.TickSize.IsPositive() {
		err = multierr.Append(err, errors.New("tickSize 必须大于0"))
	}
	if !r.QtyStep.IsPositive() {
		err = multierr.Append(err, errors.New("qtyStep 必须大于0"))
	}
	if r.MinQty.GreaterThan(r.MaxQty) {
		err = multierr.Append(err, errors.New("minQty 不能大于 maxQty"))
	}
	if err != nil {
		return fmt.Errorf("instrument: %s 规则无效: %w", r.Symbol, err)
	}
	return nil
}

// QtyDecimals 返回数量步长的小数位数。
func (r Rules) QtyDecimals() int32 {
	return decimalPlaces(r.QtyStep)
}

// textDecimals 统计文本中小数点后的位数，无小数部分时为0。
func textDecimals(text string) int32 {
	s := strings.TrimSpace(text)
	idx := strings.Index(s, ".")
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}

func decimalPlaces(d decimal.Decimal) int32 {
	return textDecimals(d.String())
}
