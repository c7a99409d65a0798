package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// instrumentFromMarket 优先读取交易所原始 priceFilter / lotSizeFilter 文本，
// 缺失时退回 ccxt 统一的 precision / limits 字段。
func instrumentFromMarket(symbol string, market map[string]interface{}) (Instrument, error) {
	inst := Instrument{Symbol: symbol}

	if info, ok := market["info"].(map[string]interface{}); ok {
		if pf, ok := info["priceFilter"].(map[string]interface{}); ok {
			inst.TickSize = numericText(pf["tickSize"])
		}
		if lf, ok := info["lotSizeFilter"].(map[string]interface{}); ok {
			inst.MinQty = numericText(lf["minOrderQty"])
			inst.MaxQty = numericText(lf["maxOrderQty"])
			inst.QtyStep = numericText(lf["qtyStep"])
		}
	}

	if precision, ok := market["precision"].(map[string]interface{}); ok {
		if inst.TickSize == "" {
			inst.TickSize = numericText(precision["price"])
		}
		if inst.QtyStep == "" {
			inst.QtyStep = numericText(precision["amount"])
		}
	}
	if limits, ok := market["limits"].(map[string]interface{}); ok {
		if amount, ok := limits["amount"].(map[string]interface{}); ok {
			if inst.MinQty == "" {
				inst.MinQty = numericText(amount["min"])
			}
			if inst.MaxQty == "" {
				inst.MaxQty = numericText(amount["max"])
			}
		}
	}

	if inst.QtyStep == "" {
		inst.QtyStep = inst.MinQty
	}

	if inst.TickSize == "" || inst.QtyStep == "" || inst.MinQty == "" || inst.MaxQty == "" {
		return inst, fmt.Errorf("exchange: 合约 %s 交易规则不完整", symbol)
	}
	return inst, nil
}

func convertPosition(raw ccxt.Position) Position {
	pos := Position{
		Symbol:        MarketID(derefString(raw.Symbol)),
		Side:          strings.ToLower(strings.TrimSpace(derefString(raw.Side))),
		Size:          derefFloat(raw.Contracts),
		EntryPrice:    derefFloat(raw.EntryPrice),
		MarkPrice:     derefFloat(raw.MarkPrice),
		UnrealizedPnL: derefFloat(raw.UnrealizedPnl),
	}

	if raw.Info != nil {
		if pos.Size == 0 {
			pos.Size = parseNumeric(raw.Info["size"])
		}
		if pos.EntryPrice == 0 {
			pos.EntryPrice = parseNumeric(raw.Info["avgPrice"])
		}
		if pos.MarkPrice == 0 {
			pos.MarkPrice = parseNumeric(raw.Info["markPrice"])
		}
		if pos.UnrealizedPnL == 0 {
			pos.UnrealizedPnL = parseNumeric(raw.Info["unrealisedPnl"])
		}
		if pos.Side == "" {
			switch derefInfoString(raw.Info, "side") {
			case "Buy":
				pos.Side = "long"
			case "Sell":
				pos.Side = "short"
			}
		}
	}
	return pos
}

func convertOrder(raw ccxt.Order) Order {
	order := Order{
		OrderID:       derefString(raw.Id),
		ClientOrderID: derefString(raw.ClientOrderId),
		Symbol:        MarketID(derefString(raw.Symbol)),
		Side:          derefString(raw.Side),
		Type:          derefString(raw.Type),
		Quantity:      derefFloat(raw.Amount),
		Price:         derefFloat(raw.Price),
		Status:        derefString(raw.Status),
	}
	if raw.Timestamp != nil {
		order.CreatedAt = time.UnixMilli(*raw.Timestamp).UTC()
	}
	return order
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInfoString(info map[string]interface{}, key string) string {
	s, _ := info[key].(string)
	return strings.TrimSpace(s)
}

// numericText 将数值转为不带多余精度的文本，保留字符串原样。
func numericText(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		if v <= 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *float64:
		if v == nil || *v <= 0 {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
