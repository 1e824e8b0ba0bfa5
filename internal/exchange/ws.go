// ws.go implements the OKX v5 WebSocket feeds.
//
// Two independent feeds run concurrently:
//
//   - Public feed: tickers, candles, trades, and order books, subscribed
//     per instrument.
//
//   - Private feed (authenticated): account, position, and order pushes.
//     Connecting performs the login handshake before subscribing.
//
// Both feeds auto-reconnect with exponential backoff (1s up to 30s) and
// re-subscribe to all tracked channels on reconnection. OKX closes
// connections idle for 30s, so a text "ping" goes out every 20s and a
// read deadline detects silent failures.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heheshang/ea-okx/pkg/types"
)

const (
	wsPingInterval     = 20 * time.Second
	wsReadTimeout      = 30 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsEventBuffer      = 256
)

// WSFeed manages a single WebSocket connection (public or private).
// It handles connection lifecycle, subscription tracking, message routing,
// and automatic reconnection with exponential backoff.
type WSFeed struct {
	url     string
	private bool
	creds   Credentials // used only by the private feed

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn writes

	subscribedMu sync.RWMutex
	subscribed   map[wsChannelArg]bool

	tickerCh   chan Ticker
	candleCh   chan types.Candle
	tradeCh    chan types.MarketTrade
	bookCh     chan types.OrderBook
	accountCh  chan AccountUpdate
	positionCh chan PositionUpdate
	orderCh    chan OrderUpdate

	logger *slog.Logger
}

// NewPublicFeed creates the public market-data feed.
func NewPublicFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return newFeed(wsURL, false, Credentials{}, logger.With("component", "ws_public"))
}

// NewPrivateFeed creates the authenticated account feed.
func NewPrivateFeed(wsURL string, creds Credentials, logger *slog.Logger) *WSFeed {
	return newFeed(wsURL, true, creds, logger.With("component", "ws_private"))
}

func newFeed(wsURL string, private bool, creds Credentials, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		private:    private,
		creds:      creds,
		subscribed: make(map[wsChannelArg]bool),
		tickerCh:   make(chan Ticker, wsEventBuffer),
		candleCh:   make(chan types.Candle, wsEventBuffer),
		tradeCh:    make(chan types.MarketTrade, wsEventBuffer),
		bookCh:     make(chan types.OrderBook, wsEventBuffer),
		accountCh:  make(chan AccountUpdate, wsEventBuffer),
		positionCh: make(chan PositionUpdate, wsEventBuffer),
		orderCh:    make(chan OrderUpdate, wsEventBuffer),
		logger:     logger,
	}
}

// Tickers returns the ticker push stream.
func (f *WSFeed) Tickers() <-chan Ticker { return f.tickerCh }

// Candles returns the candle push stream, including unconfirmed bars.
func (f *WSFeed) Candles() <-chan types.Candle { return f.candleCh }

// Trades returns the public trade stream.
func (f *WSFeed) Trades() <-chan types.MarketTrade { return f.tradeCh }

// Books returns the order book stream.
func (f *WSFeed) Books() <-chan types.OrderBook { return f.bookCh }

// Accounts returns the private account stream.
func (f *WSFeed) Accounts() <-chan AccountUpdate { return f.accountCh }

// Positions returns the private position stream.
func (f *WSFeed) Positions() <-chan PositionUpdate { return f.positionCh }

// Orders returns the private order stream.
func (f *WSFeed) Orders() <-chan OrderUpdate { return f.orderCh }

// Subscribe registers channels and sends the subscribe frame if connected.
func (f *WSFeed) Subscribe(args ...wsChannelArg) {
	f.subscribedMu.Lock()
	for _, arg := range args {
		f.subscribed[arg] = true
	}
	f.subscribedMu.Unlock()

	f.sendOp("subscribe", args)
}

// SubscribeMarket subscribes tickers, candles, trades, and books for one
// instrument on the public feed.
func (f *WSFeed) SubscribeMarket(symbol types.Symbol, candleInterval string) {
	instID := symbol.String()
	f.Subscribe(
		wsChannelArg{Channel: "tickers", InstID: instID},
		wsChannelArg{Channel: "candle" + candleInterval, InstID: instID},
		wsChannelArg{Channel: "trades", InstID: instID},
		wsChannelArg{Channel: "books5", InstID: instID},
	)
}

// SubscribePrivate subscribes the account, position, and order channels.
func (f *WSFeed) SubscribePrivate() {
	f.Subscribe(
		wsChannelArg{Channel: "account"},
		wsChannelArg{Channel: "positions"},
		wsChannelArg{Channel: "orders"},
	)
}

// Unsubscribe removes channels and sends the unsubscribe frame.
func (f *WSFeed) Unsubscribe(args ...wsChannelArg) {
	f.subscribedMu.Lock()
	for _, arg := range args {
		delete(f.subscribed, arg)
	}
	f.subscribedMu.Unlock()

	f.sendOp("unsubscribe", args)
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Close shuts the underlying connection.
func (f *WSFeed) Close() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// connectAndRead dials, authenticates (private feed), re-subscribes, and
// reads until the connection drops or ctx ends.
func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer f.Close()

	if f.private {
		if err := f.login(); err != nil {
			return err
		}
	}

	// Re-subscribe everything tracked.
	f.subscribedMu.RLock()
	args := make([]wsChannelArg, 0, len(f.subscribed))
	for arg := range f.subscribed {
		args = append(args, arg)
	}
	f.subscribedMu.RUnlock()
	if len(args) > 0 {
		f.sendOp("subscribe", args)
	}

	f.logger.Info("websocket connected", "url", f.url, "channels", len(args))

	// Keepalive pinger.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if string(payload) == "pong" {
			continue
		}
		f.handleMessage(payload)
	}
}

// login performs the private-channel authentication handshake and waits
// for the login response.
func (f *WSFeed) login() error {
	if !f.creds.HasCredentials() {
		return fmt.Errorf("private feed requires API credentials")
	}

	if err := f.write(wsRequest{Op: "login", Args: []any{f.creds.WSLogin()}}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	f.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, payload, err := f.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	var msg wsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if msg.Event != "login" || msg.Code != "0" {
		return fmt.Errorf("login failed: code %s: %s", msg.Code, msg.Msg)
	}

	f.logger.Info("websocket authenticated")
	return nil
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					f.logger.Warn("ping failed", "error", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}

// sendOp writes a subscribe/unsubscribe frame if a connection is up.
// Disconnected feeds pick the subscriptions up on reconnect.
func (f *WSFeed) sendOp(op string, args []wsChannelArg) {
	if len(args) == 0 {
		return
	}
	anyArgs := make([]any, len(args))
	for i, arg := range args {
		anyArgs[i] = arg
	}
	if err := f.write(wsRequest{Op: op, Args: anyArgs}); err != nil {
		f.logger.Debug("websocket op deferred", "op", op, "error", err)
	}
}

func (f *WSFeed) write(req wsRequest) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(req)
}

// handleMessage routes one inbound frame to the right typed channel.
func (f *WSFeed) handleMessage(payload []byte) {
	var msg wsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Warn("unparseable websocket message", "error", err)
		return
	}

	if msg.Event != "" {
		switch msg.Event {
		case "subscribe", "unsubscribe":
			f.logger.Debug("subscription event", "event", msg.Event, "channel", msg.Arg.Channel)
		case "error":
			f.logger.Error("websocket error event", "code", msg.Code, "msg", msg.Msg)
		}
		return
	}
	if msg.Data == nil {
		return
	}

	switch {
	case msg.Arg.Channel == "tickers":
		f.routeTickers(msg)
	case strings.HasPrefix(msg.Arg.Channel, "candle"):
		f.routeCandles(msg)
	case msg.Arg.Channel == "trades":
		f.routeTrades(msg)
	case strings.HasPrefix(msg.Arg.Channel, "books"):
		f.routeBooks(msg)
	case msg.Arg.Channel == "account":
		f.routeAccount(msg)
	case msg.Arg.Channel == "positions":
		f.routePositions(msg)
	case msg.Arg.Channel == "orders":
		f.routeOrders(msg)
	}
}

func (f *WSFeed) routeTickers(msg wsMessage) {
	var rows []wsTickerData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad ticker data", "error", err)
		return
	}
	for _, row := range rows {
		symbol, err := types.NewSymbol(row.InstID)
		if err != nil {
			continue
		}
		send(f.tickerCh, Ticker{
			Symbol:    symbol,
			Last:      parseDecimal(row.Last),
			BidPrice:  parseDecimal(row.BidPx),
			AskPrice:  parseDecimal(row.AskPx),
			Volume24h: parseDecimal(row.Vol24h),
			Timestamp: parseMillis(row.TS),
		}, f.logger, "ticker")
	}
}

func (f *WSFeed) routeCandles(msg wsMessage) {
	symbol, err := types.NewSymbol(msg.Arg.InstID)
	if err != nil {
		return
	}
	var rows []candleRow
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad candle data", "error", err)
		return
	}
	for _, row := range rows {
		candle, err := parseCandle(symbol, row)
		if err != nil {
			f.logger.Warn("bad candle row", "error", err)
			continue
		}
		send(f.candleCh, candle, f.logger, "candle")
	}
}

func (f *WSFeed) routeTrades(msg wsMessage) {
	var rows []wsTradeData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad trade data", "error", err)
		return
	}
	for _, row := range rows {
		symbol, err := types.NewSymbol(row.InstID)
		if err != nil {
			continue
		}
		side, err := types.ParseSide(row.Side)
		if err != nil {
			continue
		}
		send(f.tradeCh, types.MarketTrade{
			Symbol:    symbol,
			Price:     parseDecimal(row.Px),
			Quantity:  parseDecimal(row.Sz),
			Side:      side,
			Timestamp: parseMillis(row.TS),
		}, f.logger, "trade")
	}
}

func (f *WSFeed) routeBooks(msg wsMessage) {
	symbol, err := types.NewSymbol(msg.Arg.InstID)
	if err != nil {
		return
	}
	var rows []wsBookData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad book data", "error", err)
		return
	}
	for _, row := range rows {
		send(f.bookCh, types.OrderBook{
			Symbol:    symbol,
			Bids:      parseLevels(row.Bids),
			Asks:      parseLevels(row.Asks),
			Timestamp: parseMillis(row.TS),
		}, f.logger, "book")
	}
}

func (f *WSFeed) routeAccount(msg wsMessage) {
	var rows []wsAccountData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad account data", "error", err)
		return
	}
	for _, row := range rows {
		send(f.accountCh, AccountUpdate{
			TotalEquity: parseDecimal(row.TotalEq),
			Timestamp:   parseMillis(row.UTime),
		}, f.logger, "account")
	}
}

func (f *WSFeed) routePositions(msg wsMessage) {
	var rows []wsPositionData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad position data", "error", err)
		return
	}
	for _, row := range rows {
		symbol, err := types.NewSymbol(row.InstID)
		if err != nil {
			continue
		}
		send(f.positionCh, PositionUpdate{
			Symbol:        symbol,
			Side:          row.PosSide,
			Quantity:      parseDecimal(row.Pos),
			AvgEntryPrice: parseDecimal(row.AvgPx),
			UnrealizedPnL: parseDecimal(row.Upl),
			Timestamp:     parseMillis(row.UTime),
		}, f.logger, "position")
	}
}

func (f *WSFeed) routeOrders(msg wsMessage) {
	var rows []wsOrderData
	if err := json.Unmarshal(msg.Data, &rows); err != nil {
		f.logger.Warn("bad order data", "error", err)
		return
	}
	for _, row := range rows {
		symbol, err := types.NewSymbol(row.InstID)
		if err != nil {
			continue
		}
		state, err := parseOrderState(row.State)
		if err != nil {
			f.logger.Warn("unknown order state", "state", row.State)
			continue
		}
		side, err := types.ParseSide(row.Side)
		if err != nil {
			continue
		}
		send(f.orderCh, OrderUpdate{
			Symbol:       symbol,
			ExchangeID:   row.OrdID,
			ClientID:     row.ClOrdID,
			State:        state,
			Side:         side,
			LastFillQty:  parseDecimal(row.FillSz),
			LastFillPx:   parseDecimal(row.FillPx),
			AccFilledQty: parseDecimal(row.AccFillSz),
			AvgPrice:     parseDecimal(row.AvgPx),
			Timestamp:    parseMillis(row.UTime),
		}, f.logger, "order")
	}
}

func parseLevels(rows [][]string) []types.BookLevel {
	levels := make([]types.BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, types.BookLevel{
			Price:    parseDecimal(row[0]),
			Quantity: parseDecimal(row[1]),
		})
	}
	return levels
}

// send delivers without blocking; a full consumer drops the event.
func send[T any](ch chan T, event T, logger *slog.Logger, kind string) {
	select {
	case ch <- event:
	default:
		logger.Warn("event channel full, dropping", "kind", kind)
	}
}
