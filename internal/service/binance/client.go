// Package binance implements a MarketStream over Binance combined WebSocket
// streams (kline + miniTicker per symbol).
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements a MarketStream backed by Binance WebSocket.
type Client struct {
	websocketURL   string
	symbols        []string
	intervals      []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *applogger.Logger

	conn      *websocket.Conn
	connected bool
}

// New creates a new Binance MarketStream.
func New(websocketURL string, symbols, intervals []string, reconnectDelay, pingInterval time.Duration, log *applogger.Logger) drepo.MarketStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		websocketURL:   websocketURL,
		symbols:        symbols,
		intervals:      intervals,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// streamNames builds the combined stream list: one kline stream per
// (symbol, interval) plus one miniTicker stream per symbol.
func (c *Client) streamNames() []string {
	var names []string
	for _, s := range c.symbols {
		sym := strings.ToLower(s)
		for _, iv := range c.intervals {
			names = append(names, fmt.Sprintf("%s@kline_%s", sym, iv))
		}
		names = append(names, sym+"@miniTicker")
	}
	return names
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s/stream?streams=%s", c.websocketURL, strings.Join(c.streamNames(), "/"))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.log.Info("binance stream connected",
		applogger.Int("symbols", len(c.symbols)),
		applogger.Strings("intervals", c.intervals))
	return nil
}

// Subscribe issues a live SUBSCRIBE for the configured streams. The combined
// connect URL already carries them, so this is a refresh after reconnects.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("binance not connected")
	}
	msg := map[string]any{"method": "SUBSCRIBE", "params": c.streamNames(), "id": 1}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("binance subscribe: %w", err)
	}
	return nil
}

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsKlineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

type wsMiniTicker struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Volume string `json:"v"`
}

// Read streams candles, ticker snapshots, and errors. Channels close when the
// read loop exits; slow consumers lose frames rather than stalling the
// socket.
func (c *Client) Read(ctx context.Context) (<-chan *drepo.StreamCandle, <-chan *models.TickerSnapshot, <-chan error) {
	candles := make(chan *drepo.StreamCandle, 1024)
	tickers := make(chan *models.TickerSnapshot, 1024)
	errCh := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(candles)
		defer close(tickers)
		defer close(errCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errCh <- fmt.Errorf("binance conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errCh <- fmt.Errorf("binance read: %w", err)
					return
				}
				var env wsEnvelope
				if err := json.Unmarshal(b, &env); err != nil || len(env.Data) == 0 {
					continue
				}
				switch {
				case strings.Contains(env.Stream, "@kline"):
					if sc := parseKline(env.Data); sc != nil {
						select {
						case candles <- sc:
						default:
							// drop on backpressure
						}
					}
				case strings.Contains(env.Stream, "@miniTicker"):
					if t := parseMiniTicker(env.Data); t != nil {
						select {
						case tickers <- t:
						default:
						}
					}
				}
			}
		}
	}()

	return candles, tickers, errCh
}

func parseKline(data json.RawMessage) *drepo.StreamCandle {
	var ev wsKlineEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event != "kline" {
		return nil
	}
	return &drepo.StreamCandle{
		Symbol:   ev.Symbol,
		Interval: drepo.Interval(ev.Kline.Interval),
		Candle: models.Candle{
			OpenTime: ev.Kline.OpenTime,
			Open:     f(ev.Kline.Open),
			High:     f(ev.Kline.High),
			Low:      f(ev.Kline.Low),
			Close:    f(ev.Kline.Close),
			Volume:   f(ev.Kline.Volume),
			Closed:   ev.Kline.Closed,
		},
	}
}

func parseMiniTicker(data json.RawMessage) *models.TickerSnapshot {
	var ev wsMiniTicker
	if err := json.Unmarshal(data, &ev); err != nil || ev.Symbol == "" {
		return nil
	}
	closeP := f(ev.Close)
	openP := f(ev.Open)
	change := 0.0
	if openP != 0 {
		change = (closeP - openP) / openP * 100
	}
	return &models.TickerSnapshot{
		Symbol:        ev.Symbol,
		Price:         closeP,
		High:          f(ev.High),
		Low:           f(ev.Low),
		Volume:        f(ev.Volume),
		ChangePercent: change,
		UpdatedAt:     time.Now(),
	}
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
