// Command gridbotd is the grid trading daemon's process entry point:
// it loads configuration, builds every capability collaborator, wires
// the trading components, and runs them as parallel worker tasks under
// an errgroup with signal-driven graceful shutdown. This is the only
// place environment variables and CLI flags are read (spec §6
// Environment Inputs); everything downstream of here is library-shaped.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"gridbot/internal/bot"
	"gridbot/internal/clock"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/exchange/binancespot"
	"gridbot/internal/exchange/paper"
	"gridbot/internal/logging"
	"gridbot/internal/notify"
	"gridbot/internal/orchestrator"
	"gridbot/internal/risk"
	"gridbot/internal/scheduler"
	"gridbot/internal/store"
	"gridbot/internal/telemetry"
)

func main() {
	configPath := "gridbot.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath); err != nil {
		log.Fatalf("gridbotd: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel, zapcore.AddSync(os.Stdout))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	tel, err := telemetry.New(telemetry.Config{
		Directory:  cfg.Telemetry.Directory,
		MaxSizeMB:  cfg.Telemetry.MaxSizeMB,
		MaxBackups: cfg.Telemetry.MaxBackups,
		MaxAgeDays: cfg.Telemetry.MaxAgeDays,
		Compress:   cfg.Telemetry.Compress,
	})
	if err != nil {
		return fmt.Errorf("build telemetry: %w", err)
	}
	defer tel.Close()

	var kv core.KeyValueStore
	switch cfg.Store.Driver {
	case "sqlite":
		kv, err = store.NewSQLiteStore(cfg.Store.Path)
	default:
		kv, err = store.NewFileStore(cfg.Store.Path)
	}
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	notifier := buildNotifier(cfg, logger)

	wallClock := clock.Real{}

	var exchange core.ExchangeClient
	if cfg.Exchange.Driver == "binance_spot" {
		exchange = binancespot.New(string(cfg.Exchange.APIKey), string(cfg.Exchange.SecretKey), cfg.Exchange.Testnet, logger)
	} else {
		exchange = paper.New(wallClock)
	}

	stops := risk.New(wallClock, kv, logger)
	if err := stops.LoadActive(context.Background()); err != nil {
		return fmt.Errorf("load stop loss registry: %w", err)
	}
	sizer := noopSizer{}
	alloc := noopAllocation{cashReserveFloorPct: decimal.NewFromFloat(cfg.Risk.CashReserveFloorPct)}
	guard := risk.NewGuard(stops, sizer, alloc, logger)

	gridCfgFor := func(symbol string) bot.Config {
		sc := symbolConfig(cfg, symbol)
		price, err := exchange.GetCurrentPrice(context.Background(), symbol)
		if err != nil || !price.IsPositive() {
			price = decimal.NewFromInt(1)
		}
		rangePct := decimal.NewFromFloat(sc.RangePercent)
		lower := price.Mul(decimal.NewFromInt(1).Sub(rangePct))
		upper := price.Mul(decimal.NewFromInt(1).Add(rangePct))
		return bot.Config{
			Symbol:             symbol,
			Investment:         decimal.NewFromFloat(sc.Investment),
			GridCount:          sc.GridCount,
			LowerPrice:         lower,
			UpperPrice:         upper,
			Testnet:            cfg.Exchange.Testnet,
			BuyStopLossPercent: decimal.NewFromFloat(sc.StopLossPercent),
		}
	}

	orch := orchestrator.New(exchange, stops, guard, notifier, kv, logger, gridCfgFor)
	orch.SetTradeRecorder(tel)
	orch.SetRegimeSource(noopRegimeSource{})

	for _, sc := range cfg.Symbols {
		orch.AddSymbol(wallClock, sc.Symbol, core.ModeGrid, decimal.NewFromFloat(sc.AllocationUSD))
	}

	sched := scheduler.New(wallClock, logger, time.Duration(cfg.Scheduler.GranularitySeconds)*time.Second)

	sched.Register(&scheduler.Job{
		Name:    "orchestrator_tick",
		Trigger: scheduler.EveryInterval{Interval: time.Duration(cfg.Scheduler.OrchestratorTickSeconds) * time.Second},
		Run: func(ctx context.Context) {
			portfolioValue := estimatePortfolioValue(ctx, exchange, cfg)
			if halted, reason := stops.CheckPortfolioDrawdown(portfolioValue); halted {
				logger.Warn("portfolio drawdown halt active", "reason", reason)
			}
			if err := orch.Tick(ctx, portfolioValue); err != nil {
				logger.Error("orchestrator tick failed", "error", err.Error())
			}
			if orch.ShouldShutDown() {
				notifier.Send(ctx, "CRITICAL: orchestrator hit consecutive-error ceiling, shutting down", true)
			}
			_ = orch.SaveState(ctx)
		},
	})

	sched.Register(&scheduler.Job{
		Name:    "daily_drawdown_reset",
		Trigger: scheduler.DailyAt{Hour: 0, Minute: 0},
		Run: func(ctx context.Context) {
			portfolioValue := estimatePortfolioValue(ctx, exchange, cfg)
			stops.ResetDaily(portfolioValue)
		},
	})

	sched.Register(&scheduler.Job{
		Name:    "mode_transition_evaluate",
		Trigger: scheduler.EveryInterval{Interval: time.Hour},
		Run: func(ctx context.Context) {
			orch.EvaluateModeTransitions(ctx)
		},
	})

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	tel.LogSystem("startup", fmt.Sprintf("gridbotd starting, cohort=%s", cfg.App.Cohort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	logger.Info("gridbotd started", "symbols", len(cfg.Symbols), "exchange", cfg.Exchange.Driver)
	if err := g.Wait(); err != nil {
		logger.Error("gridbotd stopped with error", "error", err.Error())
	}

	sched.Shutdown()
	orch.Shutdown()
	tel.LogSystem("shutdown", "gridbotd shut down gracefully")
	logger.Info("gridbotd shut down gracefully")
	return nil
}

func buildNotifier(cfg *config.Config, logger core.ILogger) *notify.Manager {
	m := notify.New(logger)
	if cfg.Notify.SlackWebhookURL != "" {
		m.AddChannel(notify.NewSlackChannel(string(cfg.Notify.SlackWebhookURL)))
	}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		m.AddChannel(notify.NewTelegramChannel(string(cfg.Notify.TelegramBotToken), cfg.Notify.TelegramChatID))
	}
	return m
}

func symbolConfig(cfg *config.Config, symbol string) config.SymbolConfig {
	for _, sc := range cfg.Symbols {
		if sc.Symbol == symbol {
			return sc
		}
	}
	return config.SymbolConfig{Symbol: symbol}
}

func estimatePortfolioValue(ctx context.Context, exchange core.ExchangeClient, cfg *config.Config) decimal.Decimal {
	total := decimal.Zero
	quote, err := exchange.GetAccountBalance(ctx, cfg.App.QuoteAsset)
	if err == nil {
		total = total.Add(quote)
	}
	for _, sc := range cfg.Symbols {
		price, err := exchange.GetCurrentPrice(ctx, sc.Symbol)
		if err != nil {
			continue
		}
		base := baseAssetOf(sc.Symbol, cfg.App.QuoteAsset)
		bal, err := exchange.GetAccountBalance(ctx, base)
		if err != nil {
			continue
		}
		total = total.Add(bal.Mul(price))
	}
	return total
}

func baseAssetOf(symbol, quote string) string {
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}

// noopSizer is the default PositionSizer when no CVaR-based sidecar is
// configured: its only cap is the portfolio value passed in, so a BUY's
// notional is capped at that value.
type noopSizer struct{}

func (noopSizer) MaxPosition(ctx context.Context, symbol string, portfolioValue decimal.Decimal, signalConfidence float64) (decimal.Decimal, error) {
	return portfolioValue, nil
}

// noopAllocation enforces only the configured cash-reserve floor; it
// has no per-symbol target beyond that.
type noopAllocation struct {
	cashReserveFloorPct decimal.Decimal
}

func (a noopAllocation) AvailableCapital(ctx context.Context, totalCapital, currentInvested decimal.Decimal) (decimal.Decimal, error) {
	reserve := totalCapital.Mul(a.cashReserveFloorPct)
	available := totalCapital.Sub(reserve).Sub(currentInvested)
	return available, nil
}

// noopRegimeSource is the default core.RegimeSource when no regime
// detection sidecar is configured: it always errors, which
// Orchestrator.EvaluateModeTransitions treats as "leave the mode
// unchanged". Swap in a real sidecar client to drive GRID/CASH/HOLD
// switching (spec §4.6); until then every symbol stays in its
// AddSymbol starting mode.
type noopRegimeSource struct{}

func (noopRegimeSource) CurrentRegime(ctx context.Context, symbol string) (string, float64, time.Time, error) {
	return "", 0, time.Time{}, fmt.Errorf("no regime source configured for %s", symbol)
}
