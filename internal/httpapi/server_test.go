package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/market"
	"github.com/Masterora/agent-arena/internal/store"
	"github.com/Masterora/agent-arena/internal/strategy/builtins"
	"github.com/Masterora/agent-arena/internal/util"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "arena.db"), util.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sources := market.NewSources(market.NewSynthetic())
	svc := arena.NewService(st, st, builtins.NewRegistry(builtins.DefaultScriptTimeout), sources, arena.DefaultOptions(), util.Discard())
	t.Cleanup(svc.Close)

	ts := httptest.NewServer(NewServer(svc, sources.Names(), "test", util.Discard()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var h HealthResponse
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/health", nil, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, []string{"synthetic"}, h.Sources)
	assert.Contains(t, h.Strategies, "momentum")
}

func TestStrategyCRUD(t *testing.T) {
	ts := newTestServer(t)

	var created domain.StrategySpec
	status := do(t, "POST", ts.URL+"/api/strategies", arena.StrategyInput{Name: "mr", Type: "mean_reversion"}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 20, created.Params.LookbackPeriod)

	var list []domain.StrategySpec
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/strategies", nil, &list))
	require.Len(t, list, 1)

	var updated domain.StrategySpec
	status = do(t, "PUT", ts.URL+"/api/strategies/"+created.ID,
		arena.StrategyInput{Name: "mr2", Type: "mean_reversion", Params: domain.StrategyParams{LookbackPeriod: 30}}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 30, updated.Params.LookbackPeriod)

	require.Equal(t, http.StatusNoContent, do(t, "DELETE", ts.URL+"/api/strategies/"+created.ID, nil, nil))

	var e ErrorResponse
	require.Equal(t, http.StatusNotFound, do(t, "GET", ts.URL+"/api/strategies/"+created.ID, nil, &e))
	assert.Contains(t, e.Error, "not found")
}

func TestStrategyErrors(t *testing.T) {
	ts := newTestServer(t)

	var e ErrorResponse
	status := do(t, "POST", ts.URL+"/api/strategies", arena.StrategyInput{Name: "x", Type: "grid"}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, e.Error, "unsupported strategy type")

	resp, err := http.Post(ts.URL+"/api/strategies", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStrategyTypes(t *testing.T) {
	ts := newTestServer(t)
	var types []arena.TypeInfo
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/strategies/types", nil, &types))
	require.Len(t, types, 4)
	assert.Equal(t, "dca", types[0].Type)
}

func TestRunMatchAndPoll(t *testing.T) {
	ts := newTestServer(t)

	var a, b domain.StrategySpec
	require.Equal(t, http.StatusCreated, do(t, "POST", ts.URL+"/api/strategies", arena.StrategyInput{Name: "a", Type: "momentum"}, &a))
	require.Equal(t, http.StatusCreated, do(t, "POST", ts.URL+"/api/strategies", arena.StrategyInput{Name: "b", Type: "dca"}, &b))

	var pending domain.Match
	status := do(t, "POST", ts.URL+"/api/matches/run", arena.RunRequest{
		StrategyIDs:   []string{a.ID, b.ID},
		DurationSteps: 30,
		Seed:          11,
	}, &pending)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, domain.MatchPending, pending.Status)

	var final domain.Match
	deadline := time.Now().Add(10 * time.Second)
	for {
		final = domain.Match{}
		require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/matches/"+pending.ID+"?include_logs=true", nil, &final))
		if final.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("match %s still %s", pending.ID, final.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, domain.MatchCompleted, final.Status)
	assert.Len(t, final.Results, 2)
	assert.Len(t, final.Log, 60)

	var hist ValueHistoryResponse
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/matches/"+pending.ID+"/values/"+a.ID, nil, &hist))
	assert.Len(t, hist.Values, 31)

	var matches []domain.Match
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/matches?limit=5", nil, &matches))
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].Log)
}

func TestRunMatchBadRequest(t *testing.T) {
	ts := newTestServer(t)
	var e ErrorResponse
	status := do(t, "POST", ts.URL+"/api/matches/run", arena.RunRequest{StrategyIDs: []string{"ghost"}}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, e.Error)

	status = do(t, "GET", ts.URL+"/api/matches?limit=-1", nil, &e)
	assert.Equal(t, http.StatusBadRequest, status)

	status = do(t, "GET", ts.URL+"/api/matches/ghost", nil, &e)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCandles(t *testing.T) {
	ts := newTestServer(t)
	var resp CandlesResponse
	status := do(t, "GET", ts.URL+"/api/market/candles?kind=ranging&steps=25&seed=4", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "synthetic", resp.Source)
	assert.Equal(t, "ETH/USDC", resp.Symbol)
	assert.Equal(t, "5m", resp.Timeframe)
	assert.Len(t, resp.Candles, 25)

	var e ErrorResponse
	status = do(t, "GET", ts.URL+"/api/market/candles?source=bloomberg", nil, &e)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/strategies", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrInsufficientData))
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrDuplicateStrategy))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(arena.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}

// renamed serves another source under a different name.
type renamed struct {
	market.Source
	name string
}

func (r renamed) Name() string { return r.name }

func TestCachedSymbols(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "arena.db"), util.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cache := store.NewParquetStore(dir)
	candles, err := market.NewSynthetic().Candles(t.Context(), market.Request{Symbol: "ETH/USD", Steps: 5, Seed: 3})
	require.NoError(t, err)
	require.NoError(t, cache.SaveCandles(t.Context(), "replay", "ETH/USD", "5m", candles))

	sources := market.NewSources(
		market.NewSynthetic(),
		market.NewCached(renamed{Source: market.NewSynthetic(), name: "replay"}, cache, time.Minute),
	)
	svc := arena.NewService(st, st, builtins.NewRegistry(builtins.DefaultScriptTimeout), sources, arena.DefaultOptions(), util.Discard())
	t.Cleanup(svc.Close)
	ts := httptest.NewServer(NewServer(svc, sources.Names(), "test", util.Discard()).Handler())
	t.Cleanup(ts.Close)

	var got SymbolsResponse
	require.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/api/market/symbols", nil, &got))
	assert.Equal(t, map[string][]string{"replay": {"ETH-USD"}}, got.Sources)
}
