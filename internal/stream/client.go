// Package stream maintains a websocket connection to one exchange, reconnecting
// with backoff and reporting every observation as a record.StreamEvent.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/record"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// keepaliveConn is implemented by *websocket.Conn. Connections without it
// are read without a deadline.
type keepaliveConn interface {
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// DefaultReadTimeout is used when Client.ReadTimeout is zero.
const DefaultReadTimeout = 60 * time.Second

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer // nil uses websocket.DefaultDialer
	Header http.Header
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Sender sends a text frame on the live connection.
type Sender interface {
	Send(payload string) error
}

// Handler receives the client's callbacks. OnOpen runs once per connection
// before any message is read; OnEvent sees every event in order.
type Handler interface {
	OnOpen(s Sender) error
	OnEvent(ev record.StreamEvent)
}

// Client is a reconnecting stream client.
type Client struct {
	URL     string
	Dialer  Dialer
	Handler Handler
	Policy  BackoffPolicy
	Logger  zerolog.Logger

	// ReadTimeout drops a connection that delivers nothing, not even a pong,
	// for this long. Pings are sent at 9/10 of it.
	ReadTimeout time.Duration

	// Now and Sleep default to the wall clock; tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run connects and reconnects until ctx is cancelled. It returns nil on
// cancellation; connection failures are never returned.
func (c *Client) Run(ctx context.Context) error {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Policy == (BackoffPolicy{}) {
		c.Policy = DefaultBackoffPolicy()
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}

	var b Backoff
	for ctx.Err() == nil {
		c.connect(ctx)
		if ctx.Err() != nil {
			break
		}

		var wait time.Duration
		b, wait = c.Policy.Next(b, c.Now())
		if wait > 0 {
			c.Logger.Warn().Dur("wait", wait).Int("burst", b.BurstCount).Msg("reconnecting after backoff")
			if err := c.Sleep(ctx, wait); err != nil {
				break
			}
		} else {
			c.Logger.Info().Msg("reconnecting")
		}
	}
	return nil
}

// connect runs one connection lifetime. Every successful dial produces
// exactly one Opened and one Closed event.
func (c *Client) connect(ctx context.Context) {
	conn, err := c.Dialer.Dial(ctx, c.URL)
	if err != nil {
		if ctx.Err() == nil {
			c.Logger.Error().Err(err).Msg("connection failed")
		}
		return
	}
	c.Logger.Info().Str("url", c.URL).Msg("connected")

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	c.emit(record.NewEvent(record.Opened, record.ProtocolHead(record.ProtocolWebsocket, record.ProtocolWebsocketVersion, c.URL), c.Now()))

	s := &sender{client: c, conn: conn}
	if err := c.Handler.OnOpen(s); err != nil {
		c.Logger.Error().Err(err).Msg("subscribe failed")
	}

	extend := func() {}
	if kc, ok := conn.(keepaliveConn); ok {
		extend = func() { _ = kc.SetReadDeadline(time.Now().Add(c.ReadTimeout)) }
		kc.SetPongHandler(func(string) error {
			extend()
			return nil
		})
		stopPing := c.keepalive(kc)
		defer stopPing()
	}

	for {
		extend()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.Logger.Error().Err(err).Msg("stream error")
				c.emit(record.NewEvent(record.Errored, err.Error(), c.Now()))
			}
			break
		}
		c.emit(record.NewEvent(record.Received, string(data), c.Now()))
	}

	closeConn()
	c.emit(record.StreamEvent{Kind: record.Closed, Time: record.Stamp(c.Now())})
	c.Logger.Info().Msg("disconnected")
}

// keepalive pings kc until the returned function is called.
func (c *Client) keepalive(kc keepaliveConn) func() {
	period := c.ReadTimeout * 9 / 10
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := kc.WriteControl(websocket.PingMessage, nil, time.Now().Add(period)); err != nil {
					c.Logger.Debug().Err(err).Msg("ping failed")
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// emit delivers ev to the handler. A panicking handler is logged, not fatal.
func (c *Client) emit(ev record.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error().Interface("panic", r).Str("kind", ev.Kind.Tag()).Msg("stream handler panicked")
		}
	}()
	c.Handler.OnEvent(ev)
}

type sender struct {
	mu     sync.Mutex
	client *Client
	conn   Conn
}

// Send writes payload and records it as an Emitted event.
func (s *sender) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	s.client.emit(record.NewEvent(record.Emitted, payload, s.client.Now()))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
