package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-panel/internal/exchange"
)

type stubSource struct {
	inst  exchange.Instrument
	err   error
	calls int
}

func (s *stubSource) Instrument(_ context.Context, symbol string) (exchange.Instrument, error) {
	s.calls++
	if s.err != nil {
		return exchange.Instrument{}, s.err
	}
	inst := s.inst
	inst.Symbol = symbol
	return inst, nil
}

func btcInstrument() exchange.Instrument {
	return exchange.Instrument{TickSize: "0.10", QtyStep: "0.001", MinQty: "0.001", MaxQty: "100"}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFromInstrument(t *testing.T) {
	rules, err := FromInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: "0.10", QtyStep: "0.001", MinQty: "0.001", MaxQty: "1190"})
	require.NoError(t, err)
	assert.True(t, rules.TickSize.Equal(d("0.1")))
	assert.Equal(t, int32(2), rules.PriceDecimals)
	assert.Equal(t, int32(3), rules.QtyDecimals())
	assert.False(t, rules.Fallback)

	rules, err = FromInstrument(exchange.Instrument{Symbol: "DOGEUSDT", TickSize: "1", QtyStep: "1", MinQty: "1", MaxQty: "100"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), rules.PriceDecimals)
	assert.Equal(t, int32(0), rules.QtyDecimals())
}

func TestFromInstrument_Invalid(t *testing.T) {
	_, err := FromInstrument(exchange.Instrument{Symbol: "X", TickSize: "abc", QtyStep: "0.1", MinQty: "1", MaxQty: "2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tickSize")

	_, err = FromInstrument(exchange.Instrument{Symbol: "X", TickSize: "0", QtyStep: "0.1", MinQty: "5", MaxQty: "2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tickSize 必须大于0")
	assert.Contains(t, err.Error(), "minQty 不能大于 maxQty")
}

func TestResolve_FallbackOnUpstreamError(t *testing.T) {
	src := &stubSource{err: exchange.ErrUnavailable}
	rules := NewResolver(src, 0, nil).Resolve(context.Background(), "btcusdt")

	assert.True(t, rules.Fallback)
	assert.Equal(t, "BTCUSDT", rules.Symbol)
	assert.True(t, rules.MinQty.Equal(d("0.001")))
	assert.True(t, rules.MaxQty.Equal(d("10000")))
	assert.True(t, rules.QtyStep.Equal(d("0.001")))
	assert.True(t, rules.TickSize.Equal(d("0.01")))
	assert.Equal(t, int32(2), rules.PriceDecimals)
}

func TestResolve_FallbackOnInvalidRules(t *testing.T) {
	src := &stubSource{inst: exchange.Instrument{TickSize: "0", QtyStep: "0.001", MinQty: "0.001", MaxQty: "1"}}
	rules := NewResolver(src, 0, nil).Resolve(context.Background(), "BTCUSDT")
	assert.True(t, rules.Fallback)
}

func TestResolve_NoCacheByDefault(t *testing.T) {
	src := &stubSource{inst: btcInstrument()}
	r := NewResolver(src, 0, nil)

	r.Resolve(context.Background(), "BTCUSDT")
	r.Resolve(context.Background(), "BTCUSDT")
	assert.Equal(t, 2, src.calls)
}

func TestResolve_TTLCache(t *testing.T) {
	src := &stubSource{inst: btcInstrument()}
	r := NewResolver(src, time.Minute, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Resolve(context.Background(), "BTCUSDT")
	r.Resolve(context.Background(), "BTCUSDT")
	assert.Equal(t, 1, src.calls)

	now = now.Add(2 * time.Minute)
	r.Resolve(context.Background(), "BTCUSDT")
	assert.Equal(t, 2, src.calls)

	r.Invalidate("btcusdt")
	r.Resolve(context.Background(), "BTCUSDT")
	assert.Equal(t, 3, src.calls)
}

func TestResolve_FallbackNotCached(t *testing.T) {
	src := &stubSource{err: errors.New("down")}
	r := NewResolver(src, time.Minute, nil)

	r.Resolve(context.Background(), "BTCUSDT")
	src.err = nil
	src.inst = btcInstrument()
	rules := r.Resolve(context.Background(), "BTCUSDT")

	assert.False(t, rules.Fallback)
	assert.Equal(t, 2, src.calls)
}

func TestQuantizeQuantity(t *testing.T) {
	rules := FallbackRules("BTCUSDT")
	rules.MaxQty = d("5")

	cases := []struct {
		raw  string
		want string
	}{
		{"0.0123456", "0.012"},
		{"0.0009", "0.001"},
		{"0", "0.001"},
		{"-3", "0.001"},
		{"7.5", "5"},
		{"5", "5"},
		{"1.9999", "1.999"},
	}
	for _, tc := range cases {
		got := QuantizeQuantity(d(tc.raw), rules)
		assert.True(t, got.Equal(d(tc.want)), "raw=%s got=%s want=%s", tc.raw, got, tc.want)
	}
}

func TestQuantizeQuantity_Properties(t *testing.T) {
	steps := []Rules{
		FallbackRules("A"),
		{Symbol: "B", TickSize: d("0.5"), QtyStep: d("0.1"), MinQty: d("0.1"), MaxQty: d("250"), PriceDecimals: 1},
		{Symbol: "C", TickSize: d("1"), QtyStep: d("10"), MinQty: d("10"), MaxQty: d("1000000")},
	}
	raws := []string{"0", "0.00001", "0.333333", "1", "12.3456", "999.99", "123456.789", "99999999"}

	for _, rules := range steps {
		for _, raw := range raws {
			q := QuantizeQuantity(d(raw), rules)
			assert.True(t, q.Mod(rules.QtyStep).IsZero(), "%s raw=%s q=%s not multiple of %s", rules.Symbol, raw, q, rules.QtyStep)
			assert.False(t, q.LessThan(rules.MinQty), "%s raw=%s below min", rules.Symbol, raw)
			assert.False(t, q.GreaterThan(rules.MaxQty), "%s raw=%s above max", rules.Symbol, raw)
		}
	}
}

func TestQuantizePrice(t *testing.T) {
	rules := Rules{Symbol: "BTCUSDT", TickSize: d("0.5"), QtyStep: d("0.001"), MinQty: d("0.001"), MaxQty: d("100"), PriceDecimals: 1}

	assert.True(t, QuantizePrice(d("48999.74"), rules).Equal(d("48999.5")))
	assert.True(t, QuantizePrice(d("48999.76"), rules).Equal(d("49000")))
	assert.True(t, QuantizePrice(d("49000"), rules).Equal(d("49000")))
}

func TestQuantizePrice_Properties(t *testing.T) {
	grid := []Rules{
		FallbackRules("A"),
		{Symbol: "B", TickSize: d("0.0001"), QtyStep: d("1"), MinQty: d("1"), MaxQty: d("10"), PriceDecimals: 4},
		{Symbol: "C", TickSize: d("0.10"), QtyStep: d("0.001"), MinQty: d("0.001"), MaxQty: d("10"), PriceDecimals: 2},
		{Symbol: "D", TickSize: d("5"), QtyStep: d("0.001"), MinQty: d("0.001"), MaxQty: d("10")},
	}
	raws := []string{"0.123456", "1.00005", "48999.999", "50000", "61234.5678"}

	for _, rules := range grid {
		for _, raw := range raws {
			p := QuantizePrice(d(raw), rules)
			assert.True(t, p.Mod(rules.TickSize).IsZero(), "%s raw=%s p=%s not multiple of %s", rules.Symbol, raw, p, rules.TickSize)
			assert.LessOrEqual(t, decimalPlaces(p), rules.PriceDecimals, "%s raw=%s p=%s", rules.Symbol, raw, p)
		}
	}
}
