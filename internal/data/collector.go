package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heheshang/ea-okx/internal/exchange"
	"github.com/heheshang/ea-okx/pkg/types"
)

// CollectorConfig tunes the collector.
type CollectorConfig struct {
	Interval string        `mapstructure:"interval"`
	Quality  QualityConfig `mapstructure:"quality"`

	// EventBuffer sizes the validated-event output channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// DefaultCollectorConfig collects hourly candles with default quality
// checks.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Interval:    "1H",
		Quality:     DefaultQualityConfig(),
		EventBuffer: 512,
	}
}

// Collector validates the exchange push stream and forwards clean market
// events to the engine. Confirmed candles are additionally persisted to
// the store.
type Collector struct {
	cfg     CollectorConfig
	feed    *exchange.WSFeed
	store   *Store
	quality *QualityControl
	events  chan types.MarketEvent
	logger  *slog.Logger
}

// NewCollector creates a collector over a public feed. store may be nil to
// skip persistence.
func NewCollector(cfg CollectorConfig, feed *exchange.WSFeed, store *Store, logger *slog.Logger) *Collector {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 512
	}
	return &Collector{
		cfg:     cfg,
		feed:    feed,
		store:   store,
		quality: NewQualityControl(cfg.Quality),
		events:  make(chan types.MarketEvent, cfg.EventBuffer),
		logger:  logger.With("component", "collector"),
	}
}

// Events returns the validated market-event stream.
func (c *Collector) Events() <-chan types.MarketEvent { return c.events }

// Stats returns the quality counters.
func (c *Collector) Stats() QualityStats { return c.quality.Stats() }

// Run consumes the feed until ctx ends.
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle := <-c.feed.Candles():
			c.processCandle(ctx, candle)
		case trade := <-c.feed.Trades():
			c.processTrade(trade)
		case book := <-c.feed.Books():
			c.processBook(book)
		case ticker := <-c.feed.Tickers():
			// Tickers only feed the anomaly window; the engine consumes
			// candles, trades, and books.
			c.quality.ObservePrice(ticker.Symbol, ticker.Last)
		}
	}
}

func (c *Collector) processCandle(ctx context.Context, candle types.Candle) {
	if err := c.quality.ValidateTimestamp(candle.Timestamp); err != nil {
		c.logger.Warn("candle rejected", "symbol", candle.Symbol.String(), "error", err)
		return
	}
	id := fmt.Sprintf("candle:%s:%d:%t", candle.Symbol, candle.Timestamp.UnixMilli(), candle.Confirmed)
	if err := c.quality.CheckDuplicate(id); err != nil {
		return
	}
	if c.quality.ObservePrice(candle.Symbol, candle.Close) {
		c.logger.Warn("anomalous candle close",
			"symbol", candle.Symbol.String(), "close", candle.Close)
	}

	if candle.Confirmed && c.store != nil {
		if err := c.store.SaveCandles(ctx, c.cfg.Interval, []types.Candle{candle}); err != nil {
			c.logger.Error("persist candle failed", "error", err)
		}
	}

	c.quality.MarkProcessed()
	c.forward(types.CandleEvent(candle))
}

func (c *Collector) processTrade(trade types.MarketTrade) {
	if err := c.quality.ValidateTimestamp(trade.Timestamp); err != nil {
		return
	}
	if c.quality.ObservePrice(trade.Symbol, trade.Price) {
		c.logger.Warn("anomalous trade price",
			"symbol", trade.Symbol.String(), "price", trade.Price)
	}
	c.quality.MarkProcessed()
	c.forward(types.TradeEvent(trade))
}

func (c *Collector) processBook(book types.OrderBook) {
	if err := c.quality.ValidateTimestamp(book.Timestamp); err != nil {
		return
	}
	c.quality.MarkProcessed()
	c.forward(types.BookEvent(book))
}

func (c *Collector) forward(event types.MarketEvent) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("market event buffer full, dropping",
			"kind", event.Kind, "symbol", event.Symbol.String())
	}
}
