// Package telemetry implements the structured, rotated, append-only
// logs of spec §2 L5: one physical log stream per category — error,
// trade, decision, performance, system, api — each size-rotated
// independently so a burst in one category never evicts another's
// history. The category loggers are zap cores over lumberjack writers,
// grounded on the teacher's zap setup; the category methods themselves
// (LogTrade, LogDecision, ...) follow the domain-logging helpers shown
// in the wider pack's trading-bot loggers, adapted to zap.
package telemetry

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category names the six append-only log streams of spec §2 L5.
type Category string

const (
	CategoryError       Category = "error"
	CategoryTrade       Category = "trade"
	CategoryDecision    Category = "decision"
	CategoryPerformance Category = "performance"
	CategorySystem      Category = "system"
	CategoryAPI         Category = "api"
)

var allCategories = []Category{
	CategoryError, CategoryTrade, CategoryDecision,
	CategoryPerformance, CategorySystem, CategoryAPI,
}

// Config controls where and how big each category's rotated file gets.
type Config struct {
	Directory  string // base directory; one file per category is created beneath it
	MaxSizeMB  int    // rotate once a category file exceeds this size
	MaxBackups int    // old rotated files to retain per category
	MaxAgeDays int    // days to retain old rotated files
	Compress   bool   // gzip rotated files
}

// DefaultConfig matches the teacher's conservative rotation defaults.
func DefaultConfig(directory string) Config {
	return Config{
		Directory:  directory,
		MaxSizeMB:  50,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Telemetry fans structured events out to one append-only, size-rotated
// JSON log file per category. It is constructed once at process start
// and injected into every component that needs to record an event; it
// holds no package-level state.
type Telemetry struct {
	loggers map[Category]*zap.Logger
}

// New builds a Telemetry instance with one lumberjack-backed zap core
// per category, rooted at cfg.Directory.
func New(cfg Config) (*Telemetry, error) {
	loggers := make(map[Category]*zap.Logger, len(allCategories))

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	for _, cat := range allCategories {
		writer := &lumberjack.Logger{
			Filename:   cfg.Directory + "/" + string(cat) + ".log",
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		core := zapcore.NewCore(encoder, zapcore.AddSync(writer), zap.InfoLevel)
		loggers[cat] = zap.New(core).With(zap.String("category", string(cat)))
	}

	return &Telemetry{loggers: loggers}, nil
}

// Close flushes every category's buffered writer.
func (t *Telemetry) Close() error {
	var firstErr error
	for _, l := range t.loggers {
		if err := l.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Telemetry) logger(cat Category) *zap.Logger {
	return t.loggers[cat]
}

// LogTrade records an executed fill.
func (t *Telemetry) LogTrade(symbol, side string, quantity, price decimal.Decimal) {
	t.logger(CategoryTrade).Info("trade executed",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("notional", quantity.Mul(price).String()),
	)
}

// LogDecision records a strategy or mode decision: a follow-up order
// placed, a grid level skipped, a mode-switch evaluated.
func (t *Telemetry) LogDecision(symbol, action, reason string) {
	t.logger(CategoryDecision).Info("decision",
		zap.String("symbol", symbol),
		zap.String("action", action),
		zap.String("reason", reason),
	)
}

// LogModeTransition records a HOLD/GRID/CASH transition (spec §4.7).
func (t *Telemetry) LogModeTransition(symbol, from, to, reason string) {
	t.logger(CategoryDecision).Info("mode transition",
		zap.String("symbol", symbol),
		zap.String("from_mode", from),
		zap.String("to_mode", to),
		zap.String("reason", reason),
	)
}

// LogRisk records a risk-gate veto or stop-loss lifecycle event.
func (t *Telemetry) LogRisk(symbol, riskType, outcome string) {
	t.logger(CategoryDecision).Warn("risk event",
		zap.String("symbol", symbol),
		zap.String("risk_type", riskType),
		zap.String("outcome", outcome),
	)
}

// LogPerformance records a periodic portfolio-performance snapshot.
func (t *Telemetry) LogPerformance(symbol string, realizedPnL, unrealizedPnL decimal.Decimal, tradeCount int) {
	t.logger(CategoryPerformance).Info("performance snapshot",
		zap.String("symbol", symbol),
		zap.String("realized_pnl", realizedPnL.String()),
		zap.String("unrealized_pnl", unrealizedPnL.String()),
		zap.Int("trade_count", tradeCount),
	)
}

// LogSystem records a lifecycle event: boot, shutdown, reconciliation,
// scheduler task start/stop.
func (t *Telemetry) LogSystem(event, message string) {
	t.logger(CategorySystem).Info(message, zap.String("event", event))
}

// LogAPI records an outbound exchange call's latency and outcome.
func (t *Telemetry) LogAPI(method, symbol string, latency time.Duration, err error) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("symbol", symbol),
		zap.Duration("latency", latency),
	}
	if err != nil {
		fields = append(fields, zap.String("error", err.Error()))
		t.logger(CategoryAPI).Warn("exchange call failed", fields...)
		return
	}
	t.logger(CategoryAPI).Info("exchange call", fields...)
}

// LogError records an operational error with its originating component.
func (t *Telemetry) LogError(component, operation string, err error) {
	t.logger(CategoryError).Error("operation failed",
		zap.String("component", component),
		zap.String("operation", operation),
		zap.Error(err),
	)
}
