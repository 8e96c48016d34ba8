package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterora/agent-arena/internal/domain"
)

var end = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSyntheticDeterministic(t *testing.T) {
	s := NewSynthetic()
	for _, kind := range s.Kinds() {
		req := Request{Symbol: "ETH/USDC", Timeframe: "5m", Steps: 50, Kind: kind, Seed: 42, End: end}
		a, err := s.Candles(context.Background(), req)
		require.NoError(t, err)
		b, err := s.Candles(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, a, b, kind)
		require.Len(t, a, 50)

		req.Seed = 43
		c, err := s.Candles(context.Background(), req)
		require.NoError(t, err)
		assert.NotEqual(t, a, c, kind)
	}
}

func TestSyntheticShape(t *testing.T) {
	s := NewSynthetic()
	candles, err := s.Candles(context.Background(), Request{Symbol: "ETH", Timeframe: "5m", Steps: 300, Seed: 7, End: end})
	require.NoError(t, err)

	assert.Equal(t, DefaultStartPrice, candles[0].Close)
	assert.Equal(t, end, candles[len(candles)-1].Timestamp)
	for i, c := range candles {
		assert.GreaterOrEqual(t, c.Close, PriceFloor)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		if i > 0 {
			assert.Equal(t, 5*time.Minute, c.Timestamp.Sub(candles[i-1].Timestamp))
		}
	}
}

func TestSyntheticRangingStaysInBand(t *testing.T) {
	s := NewSynthetic()
	candles, err := s.Candles(context.Background(), Request{Symbol: "ETH", Steps: 200, Kind: KindRanging, Seed: 1, End: end})
	require.NoError(t, err)
	for _, c := range candles {
		assert.InDelta(t, DefaultStartPrice, c.Close, DefaultStartPrice*rangingWidth)
	}
}

func TestSyntheticRejectsBadRequests(t *testing.T) {
	s := NewSynthetic()
	ctx := context.Background()
	_, err := s.Candles(ctx, Request{Symbol: "ETH", Steps: 10, Kind: "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = s.Candles(ctx, Request{Symbol: "ETH", Steps: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = s.Candles(ctx, Request{Steps: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = s.Candles(ctx, Request{Symbol: "ETH", Steps: 10, Timeframe: "soon"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSources(t *testing.T) {
	srcs := NewSources(NewSynthetic())
	src, err := srcs.Get("synthetic")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", src.Name())
	_, err = srcs.Get("bloomberg")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, []string{"synthetic"}, srcs.Names())
}

// memCache is an in-memory CandleCache.
type memCache struct {
	candles map[string][]domain.Candle
	written map[string]time.Time
	failErr error
}

func newMemCache() *memCache {
	return &memCache{candles: map[string][]domain.Candle{}, written: map[string]time.Time{}}
}

func (m *memCache) LoadCandles(_ context.Context, source, symbol, tf string) ([]domain.Candle, time.Time, error) {
	if m.failErr != nil {
		return nil, time.Time{}, m.failErr
	}
	k := source + "|" + symbol + "|" + tf
	return m.candles[k], m.written[k], nil
}

func (m *memCache) SaveCandles(_ context.Context, source, symbol, tf string, candles []domain.Candle) error {
	k := source + "|" + symbol + "|" + tf
	m.candles[k] = candles
	m.written[k] = time.Now()
	return nil
}

func (m *memCache) ListSymbols(_ context.Context, source string) ([]string, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []string
	for k := range m.candles {
		parts := strings.SplitN(k, "|", 3)
		if parts[0] == source && !slices.Contains(out, parts[1]) {
			out = append(out, parts[1])
		}
	}
	sort.Strings(out)
	return out, nil
}

type countingSource struct {
	inner Source
	calls atomic.Int32
}

func (c *countingSource) Name() string { return "counting" }
func (c *countingSource) Candles(ctx context.Context, req Request) ([]domain.Candle, error) {
	c.calls.Add(1)
	req.Seed = 9
	return c.inner.Candles(ctx, req)
}

func TestCachedServesFreshEntries(t *testing.T) {
	up := &countingSource{inner: NewSynthetic()}
	cache := newMemCache()
	src := NewCached(up, cache, time.Minute)
	ctx := context.Background()

	first, err := src.Candles(ctx, Request{Symbol: "ETH", Timeframe: "5m", Steps: 20})
	require.NoError(t, err)
	assert.EqualValues(t, 1, up.calls.Load())

	shorter, err := src.Candles(ctx, Request{Symbol: "ETH", Timeframe: "5m", Steps: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, up.calls.Load(), "served from cache")
	assert.Equal(t, first[10:], shorter)

	_, err = src.Candles(ctx, Request{Symbol: "ETH", Timeframe: "5m", Steps: 30})
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.calls.Load(), "too short cache entry refreshed")

	src.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = src.Candles(ctx, Request{Symbol: "ETH", Timeframe: "5m", Steps: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, up.calls.Load(), "stale entry refreshed")

	cache.failErr = errors.New("disk gone")
	_, err = src.Candles(ctx, Request{Symbol: "ETH", Timeframe: "5m", Steps: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 4, up.calls.Load(), "read failures fall through")
}

func TestSourcesCachedSymbols(t *testing.T) {
	cache := newMemCache()
	up := &countingSource{inner: NewSynthetic()}
	srcs := NewSources(NewSynthetic(), NewCached(up, cache, time.Minute))
	ctx := context.Background()

	got, err := srcs.CachedSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"counting": {}}, got, "uncached sources are omitted")

	cached, err := srcs.Get("counting")
	require.NoError(t, err)
	for _, sym := range []string{"ETH/USD", "BTC/USD", "ETH/USD"} {
		_, err = cached.Candles(ctx, Request{Symbol: sym, Timeframe: "5m", Steps: 5})
		require.NoError(t, err)
	}
	got, err = srcs.CachedSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"counting": {"BTC/USD", "ETH/USD"}}, got)

	cache.failErr = errors.New("disk gone")
	_, err = srcs.CachedSymbols(ctx)
	assert.ErrorContains(t, err, "disk gone")
}

func barsJSON(symbol string, start time.Time, n int) string {
	var parts []string
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 5 * time.Minute).Format(time.RFC3339)
		p := 3000 + float64(i)
		parts = append(parts, fmt.Sprintf(`{"t":%q,"o":%v,"h":%v,"l":%v,"c":%v,"v":1.5,"n":3,"vw":%v}`, ts, p, p+1, p-1, p, p))
	}
	return fmt.Sprintf(`{"bars":{%q:[%s]},"next_page_token":null}`, symbol, strings.Join(parts, ","))
}

func TestAlpacaCandles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, barsJSON("ETH/USD", end.Add(-time.Hour), 12))
	}))
	defer srv.Close()

	a := NewAlpaca(AlpacaOptions{DataURL: srv.URL, RetryAttempts: 1})
	candles, err := a.Candles(context.Background(), Request{Symbol: "eth-usd", Timeframe: "5m", Steps: 10, End: end})
	require.NoError(t, err)
	require.Len(t, candles, 10)
	assert.Positive(t, hits.Load())
	assert.Equal(t, 3011.0, candles[9].Close)
	assert.Equal(t, 3002.0, candles[0].Close)

	_, err = a.Candles(context.Background(), Request{Symbol: "ETH/USD", Timeframe: "5m", Steps: 50, End: end})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestAlpacaCandlesAcceptsShortWarmup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, barsJSON("ETH/USD", end.Add(-time.Hour), 12))
	}))
	defer srv.Close()

	a := NewAlpaca(AlpacaOptions{DataURL: srv.URL, RetryAttempts: 1})
	ctx := context.Background()

	candles, err := a.Candles(ctx, Request{Symbol: "ETH/USD", Timeframe: "5m", Steps: 30, MinSteps: 10, End: end})
	require.NoError(t, err)
	require.Len(t, candles, 12)
	assert.Equal(t, 3000.0, candles[0].Close)
	assert.Equal(t, 3011.0, candles[11].Close)

	candles, err = a.Candles(ctx, Request{Symbol: "ETH/USD", Timeframe: "5m", Steps: 8, MinSteps: 4, End: end})
	require.NoError(t, err)
	require.Len(t, candles, 8, "capped at Steps")

	_, err = a.Candles(ctx, Request{Symbol: "ETH/USD", Timeframe: "5m", Steps: 30, MinSteps: 13, End: end})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestAlpacaRetries(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantHits int32
	}{
		{"client error is permanent", http.StatusUnprocessableEntity, 1},
		{"not found is permanent", http.StatusNotFound, 1},
		{"unavailable is retried", http.StatusServiceUnavailable, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"code":42210000,"message":"invalid symbol"}`)
			}))
			defer srv.Close()

			a := NewAlpaca(AlpacaOptions{DataURL: srv.URL, RetryAttempts: 3, RetryDelay: time.Millisecond})
			_, err := a.Candles(context.Background(), Request{Symbol: "NOPE/USD", Timeframe: "5m", Steps: 5, End: end})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid symbol")
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestRequestValidateMinSteps(t *testing.T) {
	assert.NoError(t, Request{Symbol: "ETH", Steps: 10, MinSteps: 10}.Validate())
	assert.ErrorIs(t, Request{Symbol: "ETH", Steps: 10, MinSteps: 11}.Validate(), domain.ErrInvalidConfig)
	assert.ErrorIs(t, Request{Symbol: "ETH", Steps: 10, MinSteps: -1}.Validate(), domain.ErrInvalidConfig)
}

func TestCryptoSymbol(t *testing.T) {
	assert.Equal(t, "ETH/USD", CryptoSymbol(" eth-usd "))
	assert.Equal(t, "BTC/USDC", CryptoSymbol("BTC/USDC"))
}

func TestAlpacaTimeFrame(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5m", "5Min"},
		{"15m", "15Min"},
		{"1h", "1Hour"},
		{"4h", "4Hour"},
		{"1d", "1Day"},
		{"1w", "1Week"},
	}
	for _, tt := range tests {
		tf, _, err := alpacaTimeFrame(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, tf.String(), tt.in)
	}
	_, _, err := alpacaTimeFrame("3x")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
