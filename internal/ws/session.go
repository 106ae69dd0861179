package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/hub"
)

// closeReason ends a session. A zero code means no close frame is sent,
// either because the transport is already gone or the peer initiated it.
type closeReason struct {
	code int
	text string
}

func (r closeReason) Error() string { return r.text }

var (
	reasonTooLarge     = closeReason{websocket.CloseMessageTooBig, "payload too large"}
	reasonInvalidColor = closeReason{websocket.ClosePolicyViolation, "invalid color"}
	reasonSlowConsumer = closeReason{websocket.CloseTryAgainLater, "slow consumer"}
	reasonShutdown     = closeReason{websocket.CloseGoingAway, "server shutdown"}
	reasonInternal     = closeReason{websocket.CloseInternalServerErr, "internal error"}
	reasonClientClosed = closeReason{0, "client closed"}
	reasonTransport    = closeReason{0, "transport error"}
	reasonSendError    = closeReason{0, "send error"}
)

const closeWriteWait = time.Second

// Session is one connected client.
type Session struct {
	id      xid.ID
	conn    *websocket.Conn
	state   *State
	cfg     config.SessionConfig
	limiter *rate.Limiter
	log     zerolog.Logger

	sub *hub.Subscription

	deadlineMu sync.Mutex
	stopped    bool
}

func newSession(conn *websocket.Conn, state *State, cfg config.SessionConfig, log zerolog.Logger) *Session {
	id := xid.New()
	s := &Session{
		id:    id,
		conn:  conn,
		state: state,
		cfg:   cfg,
		log: log.With().
			Str("session", id.String()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	if cfg.IncrementsPerSecond > 0 {
		burst := cfg.IncrementBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.IncrementsPerSecond), burst)
	}
	return s
}

// Run drives the session from join to close and reports why it ended.
// Cancelling ctx closes the session as a server shutdown.
func (s *Session) Run(ctx context.Context) closeReason {
	s.state.Presence.Connected()
	s.sub = s.state.Hub.Subscribe()
	s.log.Debug().Msg("session connected")

	reason := s.greet()
	if reason == nil {
		s.state.PublishPresence()
		reason = s.serve(ctx)
	}
	s.finish(*reason)
	return *reason
}

// greet writes the initial counts directly to the socket. The subscription
// already exists, so anything published after the snapshot is queued.
func (s *Session) greet() *closeReason {
	data, err := json.Marshal(s.state.Initial())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode initial message")
		return &reasonInternal
	}
	if err := s.write(data); err != nil {
		return &reasonSendError
	}
	return nil
}

func (s *Session) serve(ctx context.Context) *closeReason {
	g, gctx := errgroup.WithContext(ctx)

	// NextReader only returns on a frame or an error, so a read deadline is
	// what wakes the receive loop once the send side has finished.
	stop := context.AfterFunc(gctx, s.interruptRead)
	defer stop()

	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.sendLoop(gctx) })

	err := g.Wait()
	var reason closeReason
	switch {
	case errors.As(err, &reason):
	case ctx.Err() != nil:
		reason = reasonShutdown
	default:
		reason = reasonTransport
	}
	return &reason
}

func (s *Session) receiveLoop(ctx context.Context) error {
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		typ, data, err := s.readMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return readFailure(err)
		}
		s.extendReadDeadline()

		if typ != websocket.TextMessage {
			continue
		}

		cmd, err := ParseCommand(data)
		if err != nil {
			s.log.Debug().Bytes("payload", data).Msg("rejecting invalid color")
			return reasonInvalidColor
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if _, err := s.state.Vote(cmd.Color); err != nil {
			return reasonInvalidColor
		}
	}
}

// readMessage reads one message, buffering at most one byte past the limit.
// gorilla's own read limit closes with an empty reason, so the limit is
// enforced here and reported as websocket.ErrReadLimit.
func (s *Session) readMessage() (int, []byte, error) {
	typ, r, err := s.conn.NextReader()
	if err != nil {
		return 0, nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxMessageBytes+1))
	if err != nil {
		return 0, nil, err
	}
	if int64(len(data)) > s.cfg.MaxMessageBytes {
		return typ, nil, websocket.ErrReadLimit
	}
	return typ, data, nil
}

func readFailure(err error) closeReason {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return reasonTooLarge
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		return reasonClientClosed
	default:
		return reasonTransport
	}
}

func (s *Session) sendLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.sub.C():
			if !ok {
				if s.sub.Lagged() {
					return reasonSlowConsumer
				}
				return reasonShutdown
			}
			if err := s.write(msg); err != nil {
				return reasonSendError
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.writeDeadline()); err != nil {
				return reasonSendError
			}
		}
	}
}

func (s *Session) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(s.writeDeadline()); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeDeadline() time.Time {
	if s.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.cfg.WriteTimeout)
}

func (s *Session) extendReadDeadline() {
	if s.cfg.PongTimeout <= 0 {
		return
	}
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if !s.stopped {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	}
}

// interruptRead fails any pending read immediately. Later deadline
// extensions are ignored.
func (s *Session) interruptRead() {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	s.stopped = true
	_ = s.conn.SetReadDeadline(time.Now())
}

// finish releases everything the session holds. Each step runs exactly once.
func (s *Session) finish(reason closeReason) {
	s.state.Hub.Unsubscribe(s.sub)
	s.state.Presence.Disconnected()

	if reason.code != 0 {
		msg := websocket.FormatCloseMessage(reason.code, reason.text)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	}
	_ = s.conn.Close()

	s.state.sessionClosed(reason.text)
	s.log.Debug().Str("reason", reason.text).Msg("session closed")
}
