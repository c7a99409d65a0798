package exchange

import (
	"context"
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolConversion(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":       "BTC/USDT:USDT",
		" ethusdt ":     "ETH/USDT:USDT",
		"SOLUSDC":       "SOL/USDC:USDC",
		"BTC/USDT:USDT": "BTC/USDT:USDT",
		"USDT":          "USDT",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, UnifiedSymbol(in), "UnifiedSymbol(%q)", in)
	}

	assert.Equal(t, "BTCUSDT", MarketID("BTC/USDT:USDT"))
	assert.Equal(t, "BTCUSDT", MarketID("btcusdt"))
}

func TestInstrumentFromMarket_PrefersRawFilters(t *testing.T) {
	market := map[string]interface{}{
		"info": map[string]interface{}{
			"priceFilter": map[string]interface{}{"tickSize": "0.10"},
			"lotSizeFilter": map[string]interface{}{
				"minOrderQty": "0.001",
				"maxOrderQty": "1190.000",
				"qtyStep":     "0.001",
			},
		},
		"precision": map[string]interface{}{"price": 0.5, "amount": 0.01},
	}

	inst, err := instrumentFromMarket("BTCUSDT", market)
	require.NoError(t, err)
	assert.Equal(t, Instrument{
		Symbol:   "BTCUSDT",
		TickSize: "0.10",
		QtyStep:  "0.001",
		MinQty:   "0.001",
		MaxQty:   "1190.000",
	}, inst)
}

func TestInstrumentFromMarket_UnifiedFallback(t *testing.T) {
	market := map[string]interface{}{
		"precision": map[string]interface{}{"price": 0.0001},
		"limits": map[string]interface{}{
			"amount": map[string]interface{}{"min": 1.0, "max": 50000.0},
		},
	}

	inst, err := instrumentFromMarket("XRPUSDT", market)
	require.NoError(t, err)
	assert.Equal(t, "0.0001", inst.TickSize)
	assert.Equal(t, "1", inst.MinQty)
	assert.Equal(t, "1", inst.QtyStep, "qty step defaults to min qty")
	assert.Equal(t, "50000", inst.MaxQty)

	_, err = instrumentFromMarket("XRPUSDT", map[string]interface{}{})
	require.Error(t, err)
}

func TestConvertPosition_UsesInfoFallbacks(t *testing.T) {
	symbol := "BTC/USDT:USDT"
	pos := convertPosition(ccxt.Position{
		Symbol: &symbol,
		Info: map[string]interface{}{
			"side":          "Sell",
			"size":          "0.015",
			"avgPrice":      "51000",
			"markPrice":     "50500.5",
			"unrealisedPnl": "7.49",
		},
	})

	assert.Equal(t, Position{
		Symbol:        "BTCUSDT",
		Side:          "short",
		Size:          0.015,
		EntryPrice:    51000,
		MarkPrice:     50500.5,
		UnrealizedPnL: 7.49,
	}, pos)
}

func TestClassify(t *testing.T) {
	network := Classify(&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "socket hang up"})
	assert.ErrorIs(t, network, ErrUnavailable)
	_, retry := classifyError(&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"})
	assert.True(t, retry)

	maintenance := Classify(&ccxt.Error{Type: ccxt.OnMaintenanceErrType})
	assert.ErrorIs(t, maintenance, ErrMaintenance)
	assert.ErrorIs(t, maintenance, ErrUnavailable)

	rejected := Classify(&ccxt.Error{Type: ccxt.InvalidOrderErrType, Message: `bybit {"retCode":110007,"retMsg":"ab not enough for new order"}`})
	assert.ErrorIs(t, rejected, ErrRejected)
	assert.Equal(t, `bybit {"retCode":110007,"retMsg":"ab not enough for new order"}`, rejected.Error())
	_, retry = classifyError(rejected)
	assert.False(t, retry)

	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrUnavailable)
	assert.ErrorIs(t, Classify(errors.New("boom")), ErrUnavailable)
	assert.NoError(t, Classify(nil))
}

func TestSafeCall_RecoversPanic(t *testing.T) {
	err := safeCall(func() error { panic("bad symbol") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad symbol")
}
