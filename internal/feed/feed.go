// Package feed maintains a last-traded-price map from a websocket trade
// stream. The client stores only the latest value per symbol; consumers
// poll Snapshot instead of draining a channel, so a slow consumer never
// backs up the stream.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uberdeveloper/omspy/internal/market"
	"github.com/uberdeveloper/omspy/internal/utils"
)

const (
	readTimeout   = 30 * time.Second
	pingInterval  = 20 * time.Second
	baseRetryWait = time.Second
	maxRetryWait  = 60 * time.Second
)

// ConnectionState reports where the client is in its connect cycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// SubscribeMessage is sent once per session to select the trade streams.
type SubscribeMessage struct {
	Symbols []string `json:"symbols"`
}

// Client streams trades for a set of symbols and keeps the latest price
// per symbol. Start runs the stream in the background with reconnects;
// Close stops it.
type Client struct {
	url     string
	symbols []string

	mu        sync.RWMutex
	prices    map[string]float64
	lastTrade market.Tick
	updatedAt time.Time
	state     ConnectionState
	healthErr error
	conn      *websocket.Conn
	cancel    context.CancelFunc
	closed    bool
}

// New builds a client for the trade stream at url, subscribed to symbols.
func New(url string, symbols ...string) *Client {
	return &Client{
		url:     url,
		symbols: symbols,
		prices:  make(map[string]float64),
		state:   Disconnected,
	}
}

// Start connects in the background and keeps the price map current,
// reconnecting with capped backoff until Close or ctx cancellation.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	retryWait := baseRetryWait
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := c.connectAndStream(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.state = Reconnecting
		c.healthErr = err
		c.mu.Unlock()
		utils.GetLogger().Printf("Feed | Disconnected, retrying in %v: %v", retryWait, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryWait):
		}
		if retryWait < maxRetryWait {
			retryWait *= 2
		} else {
			retryWait = maxRetryWait
		}
	}
}

// connectAndStream runs one websocket session: dial, subscribe, then read
// trades until the connection drops or ctx is canceled.
func (c *Client) connectAndStream(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	c.healthErr = nil
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	utils.GetLogger().Printf("Feed | Connected to %s", c.url)

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.state = Disconnected
		c.mu.Unlock()
	}()

	if len(c.symbols) > 0 {
		if err := conn.WriteJSON(SubscribeMessage{Symbols: c.symbols}); err != nil {
			return err
		}
		utils.GetLogger().Printf("Feed | Subscribed to %d symbols", len(c.symbols))
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		default:
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			var tick market.Tick
			if err := json.Unmarshal(message, &tick); err != nil || tick.Symbol == "" {
				continue
			}
			c.record(tick)
		}
	}
}

func (c *Client) record(tick market.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[tick.Symbol] = tick.Price
	c.lastTrade = tick
	c.updatedAt = time.Now()
}

// Snapshot returns a copy of the latest known price per symbol, shaped
// for UpdateLTP.
func (c *Client) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.prices))
	for symbol, price := range c.prices {
		out[symbol] = price
	}
	return out
}

// Last returns the latest price for one symbol.
func (c *Client) Last(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[symbol]
	return price, ok
}

// LastTrade returns the most recent trade seen on any subscribed symbol.
func (c *Client) LastTrade() (market.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTrade, c.lastTrade.Symbol != ""
}

// Fresh reports whether a trade arrived within the given window.
func (c *Client) Fresh(within time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updatedAt.IsZero() {
		return false
	}
	return time.Since(c.updatedAt) < within
}

// IsConnected reports whether a session is currently established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Connected && c.conn != nil
}

// Health returns the error behind the last disconnect, nil while the
// stream is healthy.
func (c *Client) Health() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthErr
}

// Close stops the stream and drops the connection. The price map stays
// readable after close.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.state = Disconnected
	utils.GetLogger().Printf("Feed | Closed")
}
