package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Masterora/agent-arena/internal/analytics"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/engine"
	"github.com/Masterora/agent-arena/internal/market"
	"github.com/Masterora/agent-arena/internal/strategy"
	"github.com/Masterora/agent-arena/internal/strategy/builtins"
	"github.com/Masterora/agent-arena/internal/util"
	arenaclient "github.com/Masterora/agent-arena/pkg/arena"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: arena-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version       Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  types         List built-in strategy types and their defaults\n")
		fmt.Fprintf(os.Stderr, "  run           Run a local match on synthetic data\n")
		fmt.Fprintf(os.Stderr, "  strategies    List strategies on the server\n")
		fmt.Fprintf(os.Stderr, "  matches       List recent matches on the server\n")
		fmt.Fprintf(os.Stderr, "  match <id>    Show one match from the server\n")
		fmt.Fprintf(os.Stderr, "\nRemote commands use ARENA_SERVER (default http://localhost:8080).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("arena-cli %s\n", version)
	case "types":
		printTypes()
	case "run":
		err = runLocal(ctx, os.Args[2:])
	case "strategies":
		err = listStrategies(ctx)
	case "matches":
		err = listMatches(ctx, os.Args[2:])
	case "match":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "usage: arena-cli match <id>\n")
			os.Exit(1)
		}
		err = showMatch(ctx, os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printTypes() {
	reg := builtins.NewRegistry(builtins.DefaultScriptTimeout)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tLOOKBACK\tBUY\tSELL\tSIZE\tMAX POS")
	for _, typ := range reg.List() {
		d, _ := reg.Defaults(typ)
		d = strategy.WithDefaults(d, d)
		fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%g\t%g\n", typ, d.LookbackPeriod, d.BuyThreshold, d.SellThreshold, d.PositionSize, d.MaxPositionPct)
	}
	tw.Flush()
}

// runLocal plays a match in-process, one participant per listed type.
func runLocal(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	types := fs.String("strategies", "mean_reversion,momentum,dca", "comma-separated strategy types")
	script := fs.String("script", "", "path to a JavaScript strategy to add")
	steps := fs.Int("steps", 100, "match duration in steps")
	capital := fs.Float64("capital", 10000, "initial capital per strategy")
	pair := fs.String("pair", "ETH/USDC", "trading pair")
	timeframe := fs.String("timeframe", engine.DefaultTimeframe, "bar interval")
	kind := fs.String("kind", market.KindRandom, "synthetic market: random, trending or ranging")
	seed := fs.Int64("seed", 0, "synthetic seed (0 = random)")
	stopLoss := fs.Float64("stop-loss", 0, "stop-loss fraction applied to every strategy (0 = off)")
	takeProfit := fs.Float64("take-profit", 0, "take-profit multiple applied to every strategy (0 = off)")
	verbose := fs.Bool("v", false, "log engine activity")
	fs.Parse(args)

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := util.NewLogger(level, "text")

	reg := builtins.NewRegistry(builtins.DefaultScriptTimeout)
	var specs []domain.StrategySpec
	for i, typ := range strings.Split(*types, ",") {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			continue
		}
		specs = append(specs, domain.StrategySpec{ID: fmt.Sprintf("%s-%d", typ, i+1), Name: typ, Type: typ})
	}
	if *script != "" {
		code, err := os.ReadFile(*script)
		if err != nil {
			return err
		}
		specs = append(specs, domain.StrategySpec{ID: "script", Name: *script, Type: builtins.TypeScript, Code: string(code)})
	}

	warmup := 0
	for i := range specs {
		if *stopLoss > 0 {
			specs[i].Params.StopLoss = stopLoss
		}
		if *takeProfit > 0 {
			specs[i].Params.TakeProfit = takeProfit
		}
		params, err := reg.Resolve(specs[i])
		if err != nil {
			return fmt.Errorf("strategy %s: %w", specs[i].ID, err)
		}
		warmup = max(warmup, params.LookbackPeriod)
	}

	eng, err := engine.NewEngine(domain.MatchConfig{
		InitialCapital: *capital,
		TradingPair:    *pair,
		Timeframe:      *timeframe,
		DurationSteps:  *steps,
		FeeRate:        0.002,
		SlippageRate:   0.001,
	}, reg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	if _, err := eng.Initialize(specs); err != nil {
		return err
	}

	candles, err := market.NewSynthetic().Candles(ctx, market.Request{
		Symbol:    *pair,
		Timeframe: *timeframe,
		Steps:     *steps + warmup,
		Kind:      *kind,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}
	start := time.Now()
	results, err := eng.Run(ctx, candles)
	if err != nil {
		return err
	}

	first, last := candles[warmup].Close, candles[len(candles)-1].Close
	fmt.Printf("%s %s x %d steps (%s market), price %.2f -> %.2f (%+.2f%%), %s\n\n",
		*pair, *timeframe, *steps, *kind, first, last, analytics.ReturnPct(first, last), time.Since(start).Round(time.Millisecond))
	printResults(results)
	return nil
}

func printResults(results []domain.MatchResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tSTRATEGY\tFINAL\tRETURN %\tTRADES\tWIN RATE\tMAX DD %\tSHARPE\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%d\t%.2f\t%.2f\t%.4f\t\n",
			r.Rank, r.StrategyID, r.FinalValue, r.ReturnPct, r.TotalTrades, r.WinRate, r.MaxDrawdown, r.SharpeRatio)
	}
	tw.Flush()
}

func client() *arenaclient.Client {
	addr := os.Getenv("ARENA_SERVER")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	return arenaclient.NewClient(addr)
}

func listStrategies(ctx context.Context) error {
	list, err := client().ListStrategies(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMATCHES\tWINS\tAVG RETURN")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.2f\n", s.ID, s.Name, s.Type, s.Stats.TotalMatches, s.Stats.Wins, s.Stats.AvgReturn)
	}
	return tw.Flush()
}

func listMatches(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum matches to list")
	fs.Parse(args)

	matches, err := client().ListMatches(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPAIR\tSTEPS\tSTRATEGIES\tCREATED")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", m.ID, m.Status, m.Config.TradingPair, m.Config.DurationSteps,
			len(m.StrategyIDs), m.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func showMatch(ctx context.Context, id string) error {
	m, err := client().GetMatch(ctx, id, false)
	if err != nil {
		return err
	}
	fmt.Printf("match %s: %s\n", m.ID, m.Status)
	fmt.Printf("  %s %s x %d steps, capital %.2f, source %s\n",
		m.Config.TradingPair, m.Config.Timeframe, m.Config.DurationSteps, m.Config.InitialCapital, m.MarketSource)
	if m.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", m.ErrorMessage)
	}
	if len(m.Results) > 0 {
		fmt.Println()
		printResults(m.Results)
	}
	return nil
}
