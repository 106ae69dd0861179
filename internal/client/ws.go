// Package client talks to a running tally server over WebSocket and HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/color-tally/backend/internal/counter"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient is a single WebSocket connection to the server.
type WSClient struct {
	conn *websocket.Conn

	writeMu    sync.Mutex // serialises all conn writes (ping, vote, close)
	stopPing   context.CancelFunc
	closeOnce  sync.Once
	closeError error
}

// Dial connects to url, e.g. "ws://127.0.0.1:8080/api/ws".
func Dial(ctx context.Context, url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	pingCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{conn: conn, stopPing: cancel}
	go c.pingLoop(pingCtx)
	return c, nil
}

// Vote sends a bare color token.
func (c *WSClient) Vote(color counter.Color) error {
	return c.write(websocket.TextMessage, []byte(color))
}

// Next blocks until the next server message arrives.
func (c *WSClient) Next() (Event, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if typ != websocket.TextMessage {
			continue
		}
		return DecodeEvent(data)
	}
}

// Close sends a normal close frame and releases the connection.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		c.stopPing()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.write(websocket.CloseMessage, msg)
		c.closeError = c.conn.Close()
	})
	return c.closeError
}

func (c *WSClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Watch streams events from url to fn until ctx is done, reconnecting with
// exponential backoff whenever the connection drops. Each reconnect starts
// with a fresh initial message.
func Watch(ctx context.Context, url string, log zerolog.Logger, fn func(Event)) error {
	delay := reconnectBaseDelay
	for {
		c, err := Dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Dur("retry", delay).Msg("ws dial failed")
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay

		err = stream(ctx, c, fn)
		c.Close()
		if ctx.Err() != nil {
			return nil
		}

		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			log.Warn().Int("code", ce.Code).Str("reason", ce.Text).Msg("server closed connection")
		} else {
			log.Warn().Err(err).Msg("connection lost")
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func stream(ctx context.Context, c *WSClient, fn func(Event)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	for {
		ev, err := c.Next()
		if err != nil {
			return err
		}
		fn(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
