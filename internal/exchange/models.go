package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// restResponse is the OKX v5 REST envelope. Code "0" means success;
// anything else is a business error.
type restResponse[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// placeOrderRequest is the POST /api/v5/trade/order body.
type placeOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdID string `json:"clOrdId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
}

// placeOrderResult is one element of the place-order response data.
type placeOrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// cancelOrderRequest is the POST /api/v5/trade/cancel-order body.
type cancelOrderRequest struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

// orderDetails is one element of the GET /api/v5/trade/order response.
type orderDetails struct {
	OrdID     string `json:"ordId"`
	InstID    string `json:"instId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

// okxOrderType maps internal order types to OKX ordType values.
func okxOrderType(typ types.OrderType) string {
	switch typ {
	case types.Market:
		return "market"
	case types.Limit:
		return "limit"
	case types.PostOnly:
		return "post_only"
	case types.IOC:
		return "ioc"
	case types.FOK:
		return "fok"
	default:
		// Conditional types go through the algo-order surface on OKX;
		// the core submits them as limit orders at the trigger price.
		return "limit"
	}
}

// parseOrderState maps OKX order states to the internal lifecycle.
func parseOrderState(s string) (types.OrderState, error) {
	switch s {
	case "live":
		return types.StateAcknowledged, nil
	case "partially_filled":
		return types.StatePartiallyFilled, nil
	case "filled":
		return types.StateFilled, nil
	case "canceled", "mmp_canceled":
		return types.StateCancelled, nil
	default:
		return "", fmt.Errorf("unknown order state %q", s)
	}
}

// candleRow is the raw OKX candle array:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
type candleRow []string

// parseCandle converts a raw row into a typed candle.
func parseCandle(symbol types.Symbol, row candleRow) (types.Candle, error) {
	if len(row) < 6 {
		return types.Candle{}, fmt.Errorf("candle row has %d fields, want >= 6", len(row))
	}

	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.Candle{}, fmt.Errorf("candle timestamp %q: %w", row[0], err)
	}

	fields := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		d, err := decimal.NewFromString(row[i])
		if err != nil {
			return types.Candle{}, fmt.Errorf("candle field %d %q: %w", i, row[i], err)
		}
		fields[i-1] = d
	}

	confirmed := true
	if len(row) >= 9 {
		confirmed = row[8] == "1"
	}

	return types.Candle{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Confirmed: confirmed,
	}, nil
}

// wsRequest is the op/args frame sent over the WebSocket.
type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// wsChannelArg subscribes one channel for one instrument.
type wsChannelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

// wsMessage is the inbound WebSocket frame. Event frames carry event/code;
// data pushes carry arg/data.
type wsMessage struct {
	Event string          `json:"event,omitempty"`
	Code  string          `json:"code,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Arg   wsChannelArg    `json:"arg,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsTickerData is one tickers-channel element.
type wsTickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	AskPx  string `json:"askPx"`
	BidPx  string `json:"bidPx"`
	Vol24h string `json:"vol24h"`
	TS     string `json:"ts"`
}

// wsTradeData is one trades-channel element.
type wsTradeData struct {
	InstID string `json:"instId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	TS     string `json:"ts"`
}

// wsBookData is one books-channel element. Levels are
// [price, size, deprecated, orderCount] string arrays.
type wsBookData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

// wsOrderData is one orders-channel (private) element.
type wsOrderData struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	Side      string `json:"side"`
	FillSz    string `json:"fillSz"`
	FillPx    string `json:"fillPx"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
}

// wsAccountData is one account-channel (private) element.
type wsAccountData struct {
	TotalEq string `json:"totalEq"`
	UTime   string `json:"uTime"`
}

// wsPositionData is one positions-channel (private) element.
type wsPositionData struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Upl     string `json:"upl"`
	UTime   string `json:"uTime"`
}

// Ticker is a decoded ticker push.
type Ticker struct {
	Symbol    types.Symbol
	Last      decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// AccountUpdate is a decoded account push.
type AccountUpdate struct {
	TotalEquity decimal.Decimal
	Timestamp   time.Time
}

// PositionUpdate is a decoded position push.
type PositionUpdate struct {
	Symbol        types.Symbol
	Side          string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Timestamp     time.Time
}

// OrderUpdate is a decoded private order push.
type OrderUpdate struct {
	Symbol       types.Symbol
	ExchangeID   string
	ClientID     string
	State        types.OrderState
	Side         types.Side
	LastFillQty  decimal.Decimal
	LastFillPx   decimal.Decimal
	AccFilledQty decimal.Decimal
	AvgPrice     decimal.Decimal
	Timestamp    time.Time
}

// parseMillis converts an OKX millisecond timestamp string.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// parseDecimal converts a possibly-empty decimal string, returning zero on
// the empty strings OKX uses for unset fields.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
