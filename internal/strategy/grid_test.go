package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

func testSymbolInfo() core.SymbolInfo {
	return core.SymbolInfo{
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		MinQty:        decimal.NewFromFloat(0.0001),
		StepSize:      decimal.NewFromFloat(0.0001),
		MinNotional:   decimal.NewFromInt(10),
		TickSize:      decimal.NewFromFloat(0.01),
		PriceDecimals: 2,
		QtyDecimals:   4,
	}
}

func newTestGrid(t *testing.T) *GridStrategy {
	t.Helper()
	g, err := New(Config{
		Symbol:          "BTCUSDT",
		LowerPrice:      decimal.NewFromInt(45000),
		UpperPrice:      decimal.NewFromInt(55000),
		GridCount:       10,
		TotalInvestment: decimal.NewFromInt(10000),
		SymbolInfo:      testSymbolInfo(),
	})
	require.NoError(t, err)
	return g
}

func TestNew_ProducesGridCountPlusOneLevels(t *testing.T) {
	g := newTestGrid(t)
	assert.Len(t, g.Levels(), 11)
}

func TestNew_RejectsInvertedBand(t *testing.T) {
	_, err := New(Config{
		Symbol:          "BTCUSDT",
		LowerPrice:      decimal.NewFromInt(55000),
		UpperPrice:      decimal.NewFromInt(45000),
		GridCount:       10,
		TotalInvestment: decimal.NewFromInt(10000),
		SymbolInfo:      testSymbolInfo(),
	})
	assert.Error(t, err)
}

func TestNew_RejectsFewerThanTwoValidLevels(t *testing.T) {
	_, err := New(Config{
		Symbol:          "BTCUSDT",
		LowerPrice:      decimal.NewFromInt(45000),
		UpperPrice:      decimal.NewFromInt(55000),
		GridCount:       10,
		TotalInvestment: decimal.NewFromFloat(0.001), // far too little to clear minNotional anywhere
		SymbolInfo:      testSymbolInfo(),
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientLevels)
}

func TestInitialOrders_PartitionsAroundCurrentPrice(t *testing.T) {
	g := newTestGrid(t)
	buys, sells := g.InitialOrders(decimal.NewFromInt(50000))

	for _, b := range buys {
		assert.True(t, b.Price.LessThanOrEqual(decimal.NewFromInt(50000)))
	}
	for _, s := range sells {
		assert.True(t, s.Price.GreaterThan(decimal.NewFromInt(50000)))
	}
	assert.Len(t, buys, 5) // levels at 45000..49000, step 1000; the 50000 level gets neither side
	assert.Len(t, sells, 5)
}

func TestOnBuyFilled_ReturnsSellAtNextHigherLevel(t *testing.T) {
	g := newTestGrid(t)
	action := g.OnBuyFilled(decimal.NewFromInt(46000))

	require.Equal(t, core.FollowUpPlaceSell, action.Type)
	assert.True(t, action.Price.Equal(decimal.NewFromInt(47000)))
}

func TestOnBuyFilled_TopmostLevelYieldsNoFollowUp(t *testing.T) {
	g := newTestGrid(t)
	action := g.OnBuyFilled(decimal.NewFromInt(55000))

	assert.Equal(t, core.FollowUpNone, action.Type)
}

func TestOnSellFilled_ReturnsBuyAtNextLowerLevel(t *testing.T) {
	g := newTestGrid(t)
	action := g.OnSellFilled(decimal.NewFromInt(54000))

	require.Equal(t, core.FollowUpPlaceBuy, action.Type)
	assert.True(t, action.Price.Equal(decimal.NewFromInt(53000)))
}

func TestOnSellFilled_BottommostLevelYieldsNoFollowUp(t *testing.T) {
	g := newTestGrid(t)
	action := g.OnSellFilled(decimal.NewFromInt(45000))

	assert.Equal(t, core.FollowUpNone, action.Type)
}

func TestFindLevel_MatchesWithinTickTolerance(t *testing.T) {
	g := newTestGrid(t)
	// 46000.001 is within half a tick (0.005) of 46000.00? No - use a
	// genuinely sub-tolerance offset.
	action := g.OnBuyFilled(decimal.NewFromFloat(46000.001))
	assert.Equal(t, core.FollowUpPlaceSell, action.Type)
}

func TestOnBuyFilled_UnknownPriceYieldsNoFollowUp(t *testing.T) {
	g := newTestGrid(t)
	action := g.OnBuyFilled(decimal.NewFromInt(999999))
	assert.Equal(t, core.FollowUpNone, action.Type)
}
