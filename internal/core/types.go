package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus mirrors the exchange convention of spec §6.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
)

// SymbolInfo is per-trading-pair metadata (spec §3).
type SymbolInfo struct {
	BaseAsset     string
	QuoteAsset    string
	MinQty        decimal.Decimal
	StepSize      decimal.Decimal
	MinNotional   decimal.Decimal
	TickSize      decimal.Decimal
	PriceDecimals int32
	QtyDecimals   int32
}

// OrderResult is the outcome of a place-order call.
type OrderResult struct {
	Success bool
	Order   Order
	Err     error
}

// Order follows the exchange order-record shape of spec §6.
type Order struct {
	OrderID            string
	Symbol             string
	Side               Side
	Type               string
	OrigQty            decimal.Decimal
	ExecutedQty        decimal.Decimal
	Price              decimal.Decimal
	Status             OrderStatus
	CumulativeQuoteQty decimal.Decimal
	CreatedAt          time.Time
	UpdateTime         time.Time
}

// GridLevel is an ordered position in a grid (spec §3, §4.1).
type GridLevel struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Valid    bool
	Filled   bool
}

// FollowUpActionType is the kind of follow-up order a fill produces.
type FollowUpActionType string

const (
	FollowUpNone       FollowUpActionType = "NONE"
	FollowUpPlaceBuy   FollowUpActionType = "PLACE_BUY"
	FollowUpPlaceSell  FollowUpActionType = "PLACE_SELL"
)

// FollowUpAction is the result of GridStrategy.OnBuyFilled / OnSellFilled.
type FollowUpAction struct {
	Type     FollowUpActionType
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// FailedFollowUp records a follow-up order that could not be placed
// and is pending retry (spec §3, §4.2).
type FailedFollowUp struct {
	IntendedAction FollowUpAction
	RetryCount     int
	NextRetryAt    time.Time
}

// ActiveOrder is the in-memory / persisted active order record (spec §3).
type ActiveOrder struct {
	ExchangeOrderID string
	Side            Side
	PriceLimit      decimal.Decimal
	Quantity        decimal.Decimal
	CreatedAt       time.Time
	ExecutedQty     decimal.Decimal
	FailedFollowUp  *FailedFollowUp
}

// StopLossType enumerates the supported stop-loss flavors (spec §4.3).
type StopLossType string

const (
	StopLossFixed     StopLossType = "FIXED"
	StopLossTrailing  StopLossType = "TRAILING"
	StopLossATR       StopLossType = "ATR"
	StopLossBreakEven StopLossType = "BREAK_EVEN"
)

// StopLossState is the stop-loss lifecycle state (spec §3).
type StopLossState string

const (
	StopLossCreated        StopLossState = "CREATED"
	StopLossActive         StopLossState = "ACTIVE"
	StopLossTriggerPending StopLossState = "TRIGGER_PENDING"
	StopLossClosed         StopLossState = "CLOSED"
)

// StopLossRecord is a stop-loss order's full lifecycle record (spec §3, §4.3).
type StopLossRecord struct {
	ID                string
	Symbol            string
	EntryPrice        decimal.Decimal
	Quantity          decimal.Decimal
	Type              StopLossType
	Percent           decimal.Decimal
	TrailingDistance  decimal.Decimal
	CurrentStopPrice  decimal.Decimal
	HighestSeenPrice  decimal.Decimal
	State             StopLossState
	Active            bool
	TriggerTimestamp  time.Time
	TriggerPrice      decimal.Decimal
	ResultPnLPercent  decimal.Decimal
	CreatedAt         time.Time
}

// TradingMode is the orchestrator's top-level per-symbol mode (spec §2, §4.6).
type TradingMode string

const (
	ModeHold TradingMode = "HOLD"
	ModeGrid TradingMode = "GRID"
	ModeCash TradingMode = "CASH"
)

// Regime is the market-regime signal consumed by ModeManager (spec §4.6).
type Regime string

const (
	RegimeBull       Regime = "BULL"
	RegimeSideways   Regime = "SIDEWAYS"
	RegimeBear       Regime = "BEAR"
	RegimeTransition Regime = "TRANSITION"
	RegimeUnknown    Regime = "UNKNOWN"
)

// ModeState is the mode-manager-level tracking record (spec §3).
type ModeState struct {
	CurrentMode        TradingMode
	PreviousMode       TradingMode
	ModeSince          time.Time
	LastRegime         Regime
	RegimeProbability  float64
	RegimeSince        time.Time
	Transitions24h     int
	Transitions48h     int
	LastTransitionAt   time.Time
	FlapLockedUntil    time.Time
}

// TransitionEvent is an append-only log entry of a mode transition (spec §3).
type TransitionEvent struct {
	From        TradingMode
	To          TradingMode
	Timestamp   time.Time
	Regime      Regime
	Probability float64
	Reason      string
}

// SymbolState is the orchestrator's per-symbol bookkeeping (spec §3).
type SymbolState struct {
	Symbol             string
	Mode               TradingMode
	HoldEntryPrice     decimal.Decimal
	HoldQuantity       decimal.Decimal
	HoldStopID         string
	AllocatedCapital   decimal.Decimal
	CashExitStartedAt  time.Time
}

// BotConfigSnapshot is the configuration recorded alongside persisted
// bot state, used to detect configuration mismatch on boot (spec §3).
type BotConfigSnapshot struct {
	Symbol       string          `json:"symbol"`
	Investment   decimal.Decimal `json:"investment"`
	GridCount    int             `json:"grid_count"`
	RangePercent decimal.Decimal `json:"range_percent"`
	Testnet      bool            `json:"testnet"`
}

// PersistedActiveOrder is the JSON-shaped wire form of ActiveOrder.
type PersistedActiveOrder struct {
	ExchangeOrderID string          `json:"exchange_order_id"`
	Side            Side            `json:"side"`
	PriceLimit      decimal.Decimal `json:"price_limit"`
	Quantity        decimal.Decimal `json:"quantity"`
	CreatedAt       time.Time       `json:"created_at"`
	ExecutedQty     decimal.Decimal `json:"executed_qty"`
	IntendedAction  *FollowUpAction `json:"intended_action,omitempty"`
	RetryCount      int             `json:"retry_count,omitempty"`
	NextRetryAt     time.Time       `json:"next_retry_at,omitempty"`
}

// PersistedBotState is the schema-versioned on-disk shape written by a
// GridBot (spec §3, §6). Version is bumped whenever the shape changes;
// unrecognised versions are rejected rather than silently coerced
// (spec §9 "Dynamic typing of persisted records").
type PersistedBotState struct {
	Version      int                             `json:"version"`
	Timestamp    time.Time                       `json:"timestamp"`
	Symbol       string                          `json:"symbol"`
	ActiveOrders map[string]PersistedActiveOrder `json:"active_orders"`
	Config       BotConfigSnapshot               `json:"config"`
}

// CurrentBotStateVersion is the schema version PersistedBotState is written at.
const CurrentBotStateVersion = 1

// PersistedSymbolState is the per-symbol slice of orchestrator state.
type PersistedSymbolState struct {
	Mode              TradingMode     `json:"mode"`
	HoldEntryPrice    decimal.Decimal `json:"hold_entry_price"`
	HoldQuantity      decimal.Decimal `json:"hold_quantity"`
	HoldStopID        string          `json:"hold_stop_id"`
	AllocatedCapital  decimal.Decimal `json:"allocated_capital"`
	CashExitStartedAt time.Time       `json:"cash_exit_started_at"`
}

// PersistedOrchestratorState is the orchestrator-level on-disk shape (spec §3, §6).
type PersistedOrchestratorState struct {
	Version        int                              `json:"version"`
	Timestamp      time.Time                        `json:"timestamp"`
	CurrentMode    TradingMode                       `json:"current_mode"`
	ModeSince      time.Time                         `json:"mode_since"`
	Symbols        map[string]PersistedSymbolState   `json:"symbols"`
	LastRebalance  time.Time                         `json:"last_rebalance"`
}

// CurrentOrchestratorStateVersion is the schema version
// PersistedOrchestratorState is written at.
const CurrentOrchestratorStateVersion = 1
