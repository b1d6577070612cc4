// Package binancespot implements core.ExchangeClient against Binance's
// spot REST API via the adshao/go-binance/v2 SDK, grounded on the
// construction and service-call shape of the legacy futures adapter
// (archive exchange/binance/adapter.go) but targeting the spot client
// and spot order/account services instead of futures.
package binancespot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

// Client implements core.ExchangeClient over one Binance spot account.
type Client struct {
	sdk     *binance.Client
	logger  core.ILogger
	testnet bool
}

// New constructs a Client. When testnet is true, requests are routed
// against Binance's spot testnet base URL.
func New(apiKey, secretKey string, testnet bool, logger core.ILogger) *Client {
	sdk := binance.NewClient(apiKey, secretKey)
	if testnet {
		sdk.BaseURL = "https://testnet.binance.vision"
	}
	return &Client{sdk: sdk, logger: logger.WithField("component", "binance_spot"), testnet: testnet}
}

func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := c.sdk.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, translateError(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, apperrors.ErrInvalidSymbol
	}
	return decimal.NewFromString(prices[0].Price)
}

func (c *Client) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := c.sdk.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, translateError(err)
	}
	for _, bal := range account.Balances {
		if bal.Asset == asset {
			return decimal.NewFromString(bal.Free)
		}
	}
	return decimal.Zero, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	info, err := c.sdk.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return core.SymbolInfo{}, translateError(err)
	}
	if len(info.Symbols) == 0 {
		return core.SymbolInfo{}, apperrors.ErrInvalidSymbol
	}
	s := info.Symbols[0]

	result := core.SymbolInfo{
		BaseAsset:     s.BaseAsset,
		QuoteAsset:    s.QuoteAsset,
		PriceDecimals: int32(s.QuotePrecision),
		QtyDecimals:   int32(s.BaseAssetPrecision),
	}
	for _, f := range s.Filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			result.MinQty, _ = decimal.NewFromString(fmt.Sprintf("%v", f["minQty"]))
			result.StepSize, _ = decimal.NewFromString(fmt.Sprintf("%v", f["stepSize"]))
		case "PRICE_FILTER":
			result.TickSize, _ = decimal.NewFromString(fmt.Sprintf("%v", f["tickSize"]))
		case "MIN_NOTIONAL", "NOTIONAL":
			if v, ok := f["minNotional"]; ok {
				result.MinNotional, _ = decimal.NewFromString(fmt.Sprintf("%v", v))
			}
		}
	}
	return result, nil
}

func (c *Client) PlaceLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (core.OrderResult, error) {
	return c.placeLimit(ctx, symbol, binance.SideTypeBuy, qty, price)
}

func (c *Client) PlaceLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (core.OrderResult, error) {
	return c.placeLimit(ctx, symbol, binance.SideTypeSell, qty, price)
}

func (c *Client) placeLimit(ctx context.Context, symbol string, side binance.SideType, qty, price decimal.Decimal) (core.OrderResult, error) {
	resp, err := c.sdk.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return core.OrderResult{Success: false, Err: translateError(err)}, translateError(err)
	}
	return core.OrderResult{Success: true, Order: orderFromCreateResponse(resp)}, nil
}

func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteQuantity decimal.Decimal) (core.OrderResult, error) {
	resp, err := c.sdk.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteQuantity.String()).
		Do(ctx)
	if err != nil {
		return core.OrderResult{Success: false, Err: translateError(err)}, translateError(err)
	}
	return core.OrderResult{Success: true, Order: orderFromCreateResponse(resp)}, nil
}

func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (core.OrderResult, error) {
	resp, err := c.sdk.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(baseQuantity.String()).
		Do(ctx)
	if err != nil {
		return core.OrderResult{Success: false, Err: translateError(err)}, translateError(err)
	}
	return core.OrderResult{Success: true, Order: orderFromCreateResponse(resp)}, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	orders, err := c.sdk.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]core.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderFromSDK(o))
	}
	return out, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, symbol string, orderID string) (core.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.Order{}, fmt.Errorf("parse order id %q: %w", orderID, err)
	}
	o, err := c.sdk.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return core.Order{}, translateError(err)
	}
	return orderFromSDK(o), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse order id %q: %w", orderID, err)
	}
	if _, err := c.sdk.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		if apperrors.IsTransient(translateError(err)) {
			return false, translateError(err)
		}
		// An already-filled or already-canceled order is not a cancel
		// failure from the caller's perspective.
		return false, nil
	}
	return true, nil
}
