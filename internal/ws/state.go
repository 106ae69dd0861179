package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/hub"
	"github.com/color-tally/backend/internal/metrics"
)

// State is the shared handle every session works against. It is built once
// at startup and passed by pointer; nothing here is a package-level global.
type State struct {
	Counters *counter.Store
	Presence *counter.Presence
	Hub      *hub.Hub

	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewState(store *counter.Store, presence *counter.Presence, h *hub.Hub, log zerolog.Logger) *State {
	return &State{
		Counters: store,
		Presence: presence,
		Hub:      h,
		log:      log,
	}
}

// SetMetrics enables closure accounting. Must be called before serving.
func (s *State) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Vote is the single mutation path: bump the color, bump the total, then
// broadcast the new values. An invalid color changes nothing.
func (s *State) Vote(c counter.Color) (ColorUpdate, error) {
	value, err := s.Counters.Increment(c)
	if err != nil {
		return ColorUpdate{}, err
	}
	total := s.Counters.IncrementTotal()

	u := ColorUpdate{Color: c, Value: value, Total: total}
	s.publish(u)
	return u, nil
}

// PublishPresence broadcasts the cumulative session count.
func (s *State) PublishPresence() int {
	return s.publish(PresenceMessage{Type: MsgUsers, Count: s.Presence.Total()})
}

// Initial builds the unicast greeting from the current store.
func (s *State) Initial() InitialMessage {
	return newInitialMessage(s.Counters.Snapshot(), s.Presence.Total())
}

// publish serializes v and hands it to the hub. A value that fails to
// serialize is logged and dropped.
func (s *State) publish(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("dropping event that failed to serialize")
		return 0
	}
	return s.Hub.Publish(data)
}

func (s *State) sessionClosed(reason string) {
	if s.metrics != nil {
		s.metrics.SessionClosed(reason)
	}
}

// RunHeartbeat rebroadcasts the presence count every interval while at least
// one session is connected. It returns when ctx is done.
func (s *State) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Presence.Concurrent() > 0 {
				s.PublishPresence()
			}
		}
	}
}
