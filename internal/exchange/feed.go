// Package exchange connects the pipeline to Binance USDT-M perpetual
// futures: websocket market streams in, REST polling for the slow data.
package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET FEED - miniTicker and partial depth streams
// ═══════════════════════════════════════════════════════════════════════════════

type FeedConfig struct {
	WsURL        string        `yaml:"ws_url"`
	DepthSymbols []string      `yaml:"depth_symbols"`
	DepthLevels  int           `yaml:"depth_levels"`
	UpdateSpeed  string        `yaml:"update_speed"`
	MaxReconnect time.Duration `yaml:"max_reconnect"`
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		WsURL:        "wss://fstream.binance.com",
		DepthLevels:  20,
		UpdateSpeed:  "500ms",
		MaxReconnect: 60 * time.Second,
	}
}

type TickerHandler func([]types.Ticker)
type DepthHandler func(*types.DepthSnapshot)

// Feed runs the websocket streams with exponential-backoff reconnect. Ticker
// frames carry both the exchange event time and the local receive time so the
// risk filter can measure transport latency.
type Feed struct {
	cfg       FeedConfig
	onTickers TickerHandler
	onDepth   DepthHandler

	mu      sync.Mutex
	running bool
	conns   []*websocket.Conn
	stopCh  chan struct{}
}

func NewFeed(cfg FeedConfig, onTickers TickerHandler, onDepth DepthHandler) *Feed {
	if cfg.WsURL == "" {
		cfg.WsURL = "wss://fstream.binance.com"
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 60 * time.Second
	}
	return &Feed{
		cfg:       cfg,
		onTickers: onTickers,
		onDepth:   onDepth,
		stopCh:    make(chan struct{}),
	}
}

func (f *Feed) Start() {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()

	go f.runStream(f.tickerURL(), f.handleTickerFrame)
	if f.onDepth != nil && len(f.cfg.DepthSymbols) > 0 {
		go f.runStream(f.depthURL(), f.handleDepthFrame)
	}
	log.Info().Msg("📡 Market feed started")
}

func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	close(f.stopCh)
	for _, conn := range f.conns {
		conn.Close()
	}
	f.conns = nil
	f.mu.Unlock()
	log.Info().Msg("📡 Market feed stopped")
}

func (f *Feed) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Feed) tickerURL() string {
	return f.cfg.WsURL + "/ws/!miniTicker@arr"
}

// depthURL builds a combined stream for all configured depth symbols.
func (f *Feed) depthURL() string {
	streams := make([]string, 0, len(f.cfg.DepthSymbols))
	for _, sym := range f.cfg.DepthSymbols {
		streams = append(streams, fmt.Sprintf("%s@depth%d@%s",
			strings.ToLower(sym), f.cfg.DepthLevels, f.cfg.UpdateSpeed))
	}
	return f.cfg.WsURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *Feed) runStream(url string, handle func([]byte)) {
	delay := time.Second
	for f.isRunning() {
		conn, err := f.dial(url)
		if err != nil {
			if errors.Is(err, errFeedStopped) {
				return
			}
			log.Error().Str("url", url).Err(err).Msg("❌ WebSocket dial failed")
			if !f.sleep(delay) {
				return
			}
			delay = backoff(delay, f.cfg.MaxReconnect)
			continue
		}
		delay = time.Second

		f.readLoop(conn, handle)
		conn.Close()

		if f.isRunning() {
			log.Warn().Str("url", url).Msg("⚠️ WebSocket disconnected, reconnecting")
			if !f.sleep(delay) {
				return
			}
			delay = backoff(delay, f.cfg.MaxReconnect)
		}
	}
}

// errFeedStopped marks a dial that completed after Stop closed the tracked
// connections; the fresh socket is discarded instead of being leaked.
var errFeedStopped = errors.New("feed stopped")

func (f *Feed) dial(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		conn.Close()
		return nil, errFeedStopped
	}
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	log.Info().Str("url", url).Msg("🔌 WebSocket connected")
	return conn, nil
}

func (f *Feed) readLoop(conn *websocket.Conn, handle func([]byte)) {
	for f.isRunning() {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("❌ WebSocket read error")
			}
			return
		}
		handle(message)
	}
}

func (f *Feed) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-f.stopCh:
		return false
	}
}

func backoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// Frame parsing

type miniTicker struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	ClosePrice  string `json:"c"`
	BaseVolume  string `json:"v"`
	QuoteVolume string `json:"q"`
}

func (f *Feed) handleTickerFrame(data []byte) {
	tickers := ParseMiniTickers(data, time.Now())
	if len(tickers) > 0 && f.onTickers != nil {
		f.onTickers(tickers)
	}
}

// ParseMiniTickers decodes a !miniTicker@arr frame, keeping USDT pairs only.
func ParseMiniTickers(data []byte, recv time.Time) []types.Ticker {
	var raw []miniTicker
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	tickers := make([]types.Ticker, 0, len(raw))
	for _, item := range raw {
		if !strings.HasSuffix(item.Symbol, "USDT") {
			continue
		}
		price, err := strconv.ParseFloat(item.ClosePrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		base, _ := strconv.ParseFloat(item.BaseVolume, 64)
		quote, _ := strconv.ParseFloat(item.QuoteVolume, 64)

		ts := recv
		if item.EventTime > 0 {
			ts = time.UnixMilli(item.EventTime)
		}
		tickers = append(tickers, types.Ticker{
			Symbol:      item.Symbol,
			Price:       price,
			BaseVolume:  base,
			QuoteVolume: quote,
			Timestamp:   ts,
			WsRecvTime:  recv,
		})
	}
	return tickers
}

type depthFrame struct {
	Stream string     `json:"stream"`
	Data   depthEvent `json:"data"`
}

type depthEvent struct {
	EventType    string     `json:"e"`
	EventTime    int64      `json:"E"`
	Symbol       string     `json:"s"`
	LastUpdateID int64      `json:"u"`
	Bids         [][]string `json:"b"`
	Asks         [][]string `json:"a"`
}

func (f *Feed) handleDepthFrame(data []byte) {
	snapshot, err := ParseDepth(data)
	if err != nil || snapshot == nil {
		return
	}
	if f.onDepth != nil {
		f.onDepth(snapshot)
	}
}

// ParseDepth decodes one combined-stream partial depth frame. Bids arrive
// sorted descending and asks ascending, matching the snapshot convention.
func ParseDepth(data []byte) (*types.DepthSnapshot, error) {
	var frame depthFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	ev := frame.Data
	if ev.Symbol == "" {
		return nil, nil
	}

	ts := time.Now()
	if ev.EventTime > 0 {
		ts = time.UnixMilli(ev.EventTime)
	}
	return &types.DepthSnapshot{
		Symbol:       ev.Symbol,
		Bids:         parseLevels(ev.Bids),
		Asks:         parseLevels(ev.Asks),
		LastUpdateID: ev.LastUpdateID,
		Timestamp:    ts,
	}, nil
}

func parseLevels(raw [][]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(pair[0], 64)
		qty, err2 := strconv.ParseFloat(pair[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, types.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}
