package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTypesExist(t *testing.T) {
	candle := Candle{}
	if !candle.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Candle")
	}
	if candle.Open != 0 || candle.High != 0 || candle.Low != 0 || candle.Close != 0 || candle.Volume != 0 {
		t.Error("expected zero OHLCV values for zero-value Candle")
	}

	if ActionBuy != "buy" || ActionSell != "sell" || ActionHold != "hold" {
		t.Error("ActionType constants have unexpected values")
	}
	if ActionType("short").Valid() {
		t.Error("ActionType(short).Valid() = true, want false")
	}
	if !MatchCompleted.Terminal() || !MatchFailed.Terminal() || MatchRunning.Terminal() || MatchPending.Terminal() {
		t.Error("MatchStatus.Terminal returned unexpected values")
	}
}

func TestBaseAsset(t *testing.T) {
	tests := []struct {
		pair string
		want string
	}{
		{"ETH/USDC", "ETH"},
		{"btc-usd", "BTC"},
		{"SOL", "SOL"},
		{" eth/usd ", "ETH"},
	}
	for _, tt := range tests {
		got := MatchConfig{TradingPair: tt.pair}.BaseAsset()
		if got != tt.want {
			t.Errorf("BaseAsset(%q) = %q, want %q", tt.pair, got, tt.want)
		}
	}
}

func TestNewPortfolio(t *testing.T) {
	p := NewPortfolio("s1", 10000)
	assert.Equal(t, 10000.0, p.Cash)
	assert.Equal(t, 10000.0, p.TotalValue)
	assert.Empty(t, p.Positions)
}

func TestUpdateValue(t *testing.T) {
	p := NewPortfolio("s1", 500)
	p.Positions["ETH"] = 2
	p.Positions["BTC"] = 1

	// BTC has no mark price and is valued at zero.
	got := p.UpdateValue(map[string]float64{"ETH": 100})
	assert.Equal(t, 700.0, got)
	assert.Equal(t, 700.0, p.TotalValue)
}

func TestUpdateValueIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cash := rapid.Float64Range(0, 1e6).Draw(t, "cash")
		qty := rapid.Float64Range(0, 1e3).Draw(t, "qty")
		price := rapid.Float64Range(0.01, 1e5).Draw(t, "price")

		p := NewPortfolio("s1", cash)
		p.Positions["ETH"] = qty
		prices := map[string]float64{"ETH": price}

		first := p.UpdateValue(prices)
		second := p.UpdateValue(prices)
		if first != second {
			t.Fatalf("UpdateValue not idempotent: %v != %v", first, second)
		}
	})
}

func TestPortfolioViewIsDetached(t *testing.T) {
	p := NewPortfolio("s1", 100)
	p.Positions["ETH"] = 1

	v := p.View()
	p.Positions["ETH"] = 5
	p.Cash = 0

	require.Equal(t, 1.0, v.Quantity("ETH"))
	require.Equal(t, 100.0, v.Cash())

	positions := v.Positions()
	positions["ETH"] = 42
	require.Equal(t, 1.0, v.Quantity("ETH"))
}
