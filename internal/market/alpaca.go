package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/util"
)

// Compile-time interface check.
var _ Source = (*Alpaca)(nil)

// AlpacaOptions configures the Alpaca crypto bars source.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	RateLimitPerMin int
	RetryAttempts   int
	RetryDelay      time.Duration
}

// Alpaca fetches crypto bars from the Alpaca market-data API.
type Alpaca struct {
	client     *marketdata.Client
	limiter    *util.RateLimiter
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewAlpaca creates an Alpaca source. Crypto bars do not require
// credentials; when set they raise the rate limit.
func NewAlpaca(opts AlpacaOptions) *Alpaca {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 4
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return &Alpaca{
		client:     marketdata.NewClient(clientOpts),
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		attempts:   attempts,
		retryDelay: delay,
		now:        time.Now,
		log:        slog.Default().With("source", "alpaca"),
	}
}

// Name returns "alpaca".
func (a *Alpaca) Name() string { return "alpaca" }

// Candles returns the last req.Steps bars ending at req.End (now when zero).
func (a *Alpaca) Candles(ctx context.Context, req Request) ([]domain.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tf, step, err := alpacaTimeFrame(req.Timeframe)
	if err != nil {
		return nil, err
	}
	symbol := CryptoSymbol(req.Symbol)

	end := req.End
	if end.IsZero() {
		end = a.now()
	}
	// Pad the window so gaps in the venue's bar history do not starve the match.
	start := end.Add(-time.Duration(req.Steps*3/2+2) * step)

	var bars []marketdata.CryptoBar
	err = util.Retry(ctx, a.attempts, a.retryDelay, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		bars, ferr = a.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
		})
		if ferr != nil {
			a.log.Warn("crypto bars request failed", "symbol", symbol, "error", ferr)
			if permanentAPIError(ferr) {
				return util.Permanent(ferr)
			}
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	a.log.Debug("fetched crypto bars", "symbol", symbol, "timeframe", req.Timeframe, "bars", len(candles))
	return tail(candles, req)
}

// permanentAPIError reports whether err is a client error (bad symbol,
// timeframe or credentials) that a retry cannot fix. 429 is retried.
func permanentAPIError(err error) bool {
	var apiErr *alpacaapi.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= http.StatusBadRequest &&
		apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusTooManyRequests
}

// CryptoSymbol normalizes "eth-usd" or "ETH/USD" to Alpaca's "ETH/USD".
func CryptoSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "-", "/"))
}

func alpacaTimeFrame(tf string) (marketdata.TimeFrame, time.Duration, error) {
	if tf == "" {
		tf = "5m"
	}
	d, err := util.ParseTimeframe(tf)
	if err != nil {
		return marketdata.TimeFrame{}, 0, fmt.Errorf("%v: %w", err, domain.ErrInvalidConfig)
	}
	switch {
	case d%(7*24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(7*24*time.Hour)), marketdata.Week), d, nil
	case d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day), d, nil
	case d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour), d, nil
	default:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min), d, nil
	}
}
