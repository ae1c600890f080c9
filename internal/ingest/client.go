// Package ingest bridges the venue's public WebSocket feed to the
// Redis streams the pipeline consumes. It subscribes trades, depth,
// candles, open interest and funding for the configured instruments,
// normalizes each payload, and publishes through a circuit-broken
// writer so a Redis outage buffers rather than drops market data.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// The venue closes connections silent for 30 s, so a text ping
	// goes out every 20 s and a read deadline slightly past the idle
	// window catches dead peers.
	pingInterval = 20 * time.Second
	readTimeout  = 35 * time.Second
	writeTimeout = 5 * time.Second

	dialTimeout    = 10 * time.Second
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second

	// Subscription args per request frame, well under the venue's
	// frame size cap.
	subChunk = 20
)

// subArg is one channel/instrument subscription tuple.
type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsRequest is the op envelope for subscribe/unsubscribe frames.
type wsRequest struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

// Client maintains one public WebSocket session with automatic
// reconnect, resubscribe on open, and text-ping keepalive.
type Client struct {
	url    string
	subs   []subArg
	dialer *websocket.Dialer
	log    *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	// OnMessage receives every raw data frame. OnConnect fires after
	// each successful dial before subscriptions are sent; OnDisconnect
	// fires when a session ends for any reason other than shutdown.
	OnMessage    func(raw []byte)
	OnConnect    func()
	OnDisconnect func(err error)
}

// NewClient builds a client for the given endpoint and subscriptions.
func NewClient(url string, subs []subArg, log *zap.Logger) *Client {
	return &Client{
		url:    url,
		subs:   subs,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:    log,
	}
}

// Run dials and serves sessions until ctx is cancelled, reconnecting
// with exponential backoff. A successful dial resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := backoffInitial
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("dial failed", zap.String("url", c.url), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffInitial

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()

		c.log.Info("connected", zap.String("url", c.url), zap.Int("subs", len(c.subs)))
		if c.OnConnect != nil {
			c.OnConnect()
		}
		if err := c.subscribe(); err != nil {
			c.log.Warn("subscribe failed", zap.Error(err))
		}

		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("session ended", zap.Error(err))
		if c.OnDisconnect != nil {
			c.OnDisconnect(err)
		}
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// session reads frames until the connection dies or ctx cancels.
// A ping ticker and a ctx watcher run alongside the read loop; both
// terminate by closing the connection, which fails the blocked read.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.writeText([]byte("ping")); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		if len(raw) == 4 && string(raw) == "pong" {
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(raw)
		}
	}
}

// subscribe sends the stored subscription set, chunked per frame.
func (c *Client) subscribe() error {
	for start := 0; start < len(c.subs); start += subChunk {
		end := start + subChunk
		if end > len(c.subs) {
			end = len(c.subs)
		}
		if err := c.writeJSON(wsRequest{Op: "subscribe", Args: c.subs[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) writeText(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// sleepCtx waits d or until ctx cancels, reporting whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
