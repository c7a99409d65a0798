package exchange

import "strings"

var settleCurrencies = []string{"USDT", "USDC"}

// UnifiedSymbol 将 BTCUSDT 形式的合约代码转换为 ccxt 统一符号 BTC/USDT:USDT。
func UnifiedSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	for _, quote := range settleCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			base := strings.TrimSuffix(s, quote)
			return base + "/" + quote + ":" + quote
		}
	}
	return s
}

// MarketID 将 ccxt 统一符号还原为交易所合约代码。
func MarketID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}
