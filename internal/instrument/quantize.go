package instrument

import "github.com/shopspring/decimal"

// QuantizeQuantity 将原始数量向下取整到步长，并限制在 [MinQty, MaxQty]。
// 取整后低于 MinQty 时强制抬升到 MinQty。
func QuantizeQuantity(raw decimal.Decimal, rules Rules) decimal.Decimal {
	capped := decimal.Min(raw, rules.MaxQty)
	floored := capped.Div(rules.QtyStep).Floor().Mul(rules.QtyStep)
	qty := decimal.Max(rules.MinQty, floored)
	return qty.Round(rules.QtyDecimals())
}

// QuantizePrice 将价格取到最近的 tick，再按价格小数位舍入。
func QuantizePrice(raw decimal.Decimal, rules Rules) decimal.Decimal {
	ticks := raw.Div(rules.TickSize).RoundBank(0)
	return ticks.Mul(rules.TickSize).RoundBank(rules.PriceDecimals)
}
