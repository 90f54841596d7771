package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/analyzer"
	"github.com/tokenscope/tokenscope/internal/chain"
	"github.com/tokenscope/tokenscope/internal/config"
	"github.com/tokenscope/tokenscope/internal/diag"
	"github.com/tokenscope/tokenscope/internal/export"
	"github.com/tokenscope/tokenscope/internal/logger"
	"github.com/tokenscope/tokenscope/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tokenscope: %v\n", err)
		os.Exit(1)
	}
}

// run owns the whole lifecycle so every failure path unwinds through the
// deferred bus drain and log flush before the process exits.
func run(args []string) error {
	flags := flag.NewFlagSet("tokenscope", flag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "path to config file (optional)")
		tokenAddr  = flags.String("token", "", "token contract address")
		network    = flags.String("network", "ethereum", "network to analyze on")
		price      = flags.Float64("price", 0, "reference price in USD (optional)")
		lookback   = flags.Int("lookback", 0, "lookback window in days (0 = config default)")
		exportFmt  = flags.String("export", "", "export format: csv or json (optional)")
		outputDir  = flags.String("out", "exports", "export output directory")
		debug      = flags.Bool("debug", false, "enable debug logging")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *tokenAddr == "" {
		return fmt.Errorf("missing -token flag; usage: tokenscope -token <address> [-network <name>] [-price <usd>]")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = *debug
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := diag.NewBus(log, 64)
	defer bus.Close()
	bus.Subscribe(diag.StageAny, func(event diag.Event) {
		if event.Severity != diag.SeverityInfo {
			log.Warn("Pipeline diagnostic",
				zap.String("stage", string(event.Stage)),
				zap.String("severity", string(event.Severity)),
				zap.String("message", event.Message))
		}
	})

	a := analyzer.New(analyzer.Options{
		Config:   cfg,
		Selector: chain.NewSelector(cfg.Networks, log),
		Bus:      bus,
		Logger:   log,
	})

	result, err := a.Analyze(ctx, types.Request{
		Address:        *tokenAddr,
		Network:        *network,
		ReferencePrice: *price,
		LookbackDays:   *lookback,
	})
	if err != nil {
		log.Error("Analysis failed", zap.Error(err))
		return err
	}

	printSummary(result)

	if *exportFmt != "" {
		exporter := export.NewResultExporter(log)
		path, err := exporter.Export(result, export.Options{
			Format:    export.Format(*exportFmt),
			OutputDir: *outputDir,
		})
		if err != nil {
			log.Error("Export failed", zap.Error(err))
			return err
		}
		fmt.Printf("exported: %s\n", path)
	}

	return nil
}

func printSummary(result *types.TokenMetrics) {
	fmt.Printf("%s (%s) on %s\n", result.Token.Name, result.Token.Symbol, result.Token.Network)
	fmt.Printf("  total supply: %s (decimals %d)\n", result.Token.TotalSupply, result.Token.Decimals)
	fmt.Printf("  scanned blocks %d..%d\n", result.FromBlock, result.ToBlock)
	fmt.Printf("  transfers: %d (%d large)\n", len(result.Transfers), len(result.LargeTransfers))

	if m := result.Market; m != nil {
		fmt.Printf("  market cap: %.2f USD, fully diluted: %.2f USD\n", m.MarketCap, m.FullyDilutedCap)
		fmt.Printf("  off-market volume: %.2f USD above / %.2f USD below reference\n",
			m.AboveReferenceUSD, m.BelowReferenceUSD)
	}

	for _, event := range result.Diagnostics {
		if event.Severity != diag.SeverityInfo {
			fmt.Printf("  [%s] %s: %s\n", event.Severity, event.Stage, event.Message)
		}
	}
}
