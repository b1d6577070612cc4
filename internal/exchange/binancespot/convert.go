package binancespot

import (
	"errors"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

func formatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// translateError maps a Binance API error code to one of the package's
// sentinel errors, the same switch the legacy futures adapter used for
// its own error family.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return apperrors.ErrNetwork
	}
	switch apiErr.Code {
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -1013, -1111, -1100, -1102:
		return apperrors.ErrInvalidOrderParameter
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -2011, -2013:
		return apperrors.ErrOrderNotFound
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	case -1016:
		return apperrors.ErrExchangeMaintenance
	default:
		return apperrors.ErrOrderRejected
	}
}

func statusFromSDK(s binance.OrderStatusType) core.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return core.OrderStatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return core.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case binance.OrderStatusTypeCanceled:
		return core.OrderStatusCanceled
	case binance.OrderStatusTypeExpired:
		return core.OrderStatusExpired
	case binance.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	case binance.OrderStatusTypePendingCancel:
		return core.OrderStatusPendingCancel
	default:
		return core.OrderStatusNew
	}
}

func orderFromSDK(o *binance.Order) core.Order {
	price, _ := decimal.NewFromString(o.Price)
	origQty, _ := decimal.NewFromString(o.OrigQuantity)
	execQty, _ := decimal.NewFromString(o.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)

	return core.Order{
		OrderID:            formatOrderID(o.OrderID),
		Symbol:             o.Symbol,
		Side:               core.Side(o.Side),
		Type:               string(o.Type),
		Price:              price,
		OrigQty:            origQty,
		ExecutedQty:        execQty,
		CumulativeQuoteQty: cumQuote,
		Status:             statusFromSDK(o.Status),
		CreatedAt:          msToTime(o.Time),
		UpdateTime:         msToTime(o.UpdateTime),
	}
}

func orderFromCreateResponse(o *binance.CreateOrderResponse) core.Order {
	price, _ := decimal.NewFromString(o.Price)
	origQty, _ := decimal.NewFromString(o.OrigQuantity)
	execQty, _ := decimal.NewFromString(o.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)

	return core.Order{
		OrderID:            formatOrderID(o.OrderID),
		Symbol:             o.Symbol,
		Side:               core.Side(o.Side),
		Type:               string(o.Type),
		Price:              price,
		OrigQty:            origQty,
		ExecutedQty:        execQty,
		CumulativeQuoteQty: cumQuote,
		Status:             statusFromSDK(o.Status),
		CreatedAt:          msToTime(o.TransactTime),
		UpdateTime:         msToTime(o.TransactTime),
	}
}
