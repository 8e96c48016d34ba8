// Package analytics computes post-match performance metrics from recorded
// portfolio value histories.
package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Masterora/agent-arena/internal/domain"
)

// Round rounds v half away from zero to places decimals. Non-finite values
// are returned as 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// MaxDrawdown returns the largest peak-to-trough decline of values as a
// percentage rounded to 2 decimals. Sequences shorter than two samples
// report 0.
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	if maxDD > 1 {
		maxDD = 1
	}
	return Round(maxDD*100, 2)
}

// SharpeRatio returns the annualized Sharpe ratio of the step-over-step
// returns of values, rounded to 4 decimals. Steps whose prior value is not
// positive are skipped; fewer than two returns or a zero standard deviation
// report 0.
func SharpeRatio(values []float64, stepsPerYear float64) float64 {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev <= 0 {
			continue
		}
		returns = append(returns, (values[i]-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)))
	// Identical returns can leave a residue of a few ulps.
	if std <= 1e-12*math.Max(1, math.Abs(mean)) {
		return 0
	}
	return Round(mean/std*math.Sqrt(stepsPerYear), 4)
}

// ReturnPct is the percentage change from initial to final, rounded to 2
// decimals.
func ReturnPct(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return Round((final-initial)/initial*100, 2)
}

// WinRate returns wins/total, or 0 when there were no trades.
func WinRate(wins, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round(float64(wins)/float64(total), 4)
}

// Rank orders results by descending return and assigns ranks starting at 1.
// Ties keep their incoming order.
func Rank(results []domain.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ReturnPct > results[j].ReturnPct
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

// Accumulate folds one match result into a strategy's career stats.
func Accumulate(s domain.StrategyStats, r domain.MatchResult) domain.StrategyStats {
	prev := float64(s.TotalMatches)
	s.TotalMatches++
	n := float64(s.TotalMatches)
	if r.Rank == 1 {
		s.Wins++
	}
	s.WinRate = Round(float64(s.Wins)/n, 4)
	s.AvgReturn = Round((s.AvgReturn*prev+r.ReturnPct)/n, 4)
	s.SharpeRatio = Round((s.SharpeRatio*prev+r.SharpeRatio)/n, 4)
	if r.MaxDrawdown > s.MaxDrawdown {
		s.MaxDrawdown = r.MaxDrawdown
	}
	return s
}
