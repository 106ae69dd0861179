package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/hub"
	"github.com/color-tally/backend/internal/ws"
)

func startServer(t *testing.T) (*ws.State, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	st := ws.NewState(counter.NewStore(), counter.NewPresence(), hub.New(64), zerolog.Nop())
	srv := ws.NewServer(cfg, st, zerolog.Nop())
	web := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		srv.Drain(ctx)
		web.Close()
	})
	return st, web
}

func wsURL(web *httptest.Server) string {
	return "ws" + strings.TrimPrefix(web.URL, "http") + "/api/ws"
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"initial","count":2,"red":1,"green":0,"blue":3,"purple":0,"total":4}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Initial)
	assert.Equal(t, uint64(2), ev.Initial.Count)
	assert.Equal(t, uint64(3), ev.Initial.Blue)

	ev, err = DecodeEvent([]byte(`{"type":"users","count":9}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Presence)
	assert.Equal(t, uint64(9), ev.Presence.Count)

	ev, err = DecodeEvent([]byte(`{"green":5,"total":11}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Update)
	assert.Equal(t, ws.ColorUpdate{Color: counter.Green, Value: 5, Total: 11}, *ev.Update)
	assert.Equal(t, "green=5 total=11", ev.String())
}

func TestDecodeEvent_Rejects(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"mystery"}`,
		`{"orange":1,"total":1}`,
		`{"red":1}`,
		`{"red":1,"blue":1,"total":2}`,
	} {
		_, err := DecodeEvent([]byte(in))
		assert.Error(t, err, "input %s", in)
	}
}

func TestTally_Apply(t *testing.T) {
	var tally Tally
	tally.Apply(Event{Initial: &ws.InitialMessage{Type: ws.MsgInitial, Count: 3, Red: 2, Total: 2}})
	tally.Apply(Event{Update: &ws.ColorUpdate{Color: counter.Red, Value: 4, Total: 5}})
	// Out of order arrival.
	tally.Apply(Event{Update: &ws.ColorUpdate{Color: counter.Red, Value: 3, Total: 4}})
	tally.Apply(Event{Presence: &ws.PresenceMessage{Type: ws.MsgUsers, Count: 4}})

	assert.Equal(t, counter.Counts{Red: 4, Total: 5}, tally.Counts)
	assert.Equal(t, uint64(4), tally.Users)
}

func TestWSClient_VoteRoundTrip(t *testing.T) {
	st, web := startServer(t)

	c, err := Dial(context.Background(), wsURL(web))
	require.NoError(t, err)
	defer c.Close()

	ev, err := c.Next()
	require.NoError(t, err)
	require.NotNil(t, ev.Initial)
	assert.Equal(t, uint64(1), ev.Initial.Count)

	ev, err = c.Next()
	require.NoError(t, err)
	require.NotNil(t, ev.Presence)

	require.NoError(t, c.Vote(counter.Purple))
	ev, err = c.Next()
	require.NoError(t, err)
	require.NotNil(t, ev.Update)
	assert.Equal(t, ws.ColorUpdate{Color: counter.Purple, Value: 1, Total: 1}, *ev.Update)
	assert.Equal(t, uint64(1), st.Counters.Get(counter.Purple))
}

func TestWSClient_DialError(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/ws")
	assert.Error(t, err)
}

func TestHTTPClient(t *testing.T) {
	st, web := startServer(t)
	hc := NewHTTPClient(web.URL)

	require.NoError(t, hc.Increment(counter.Green))
	require.NoError(t, hc.Increment(counter.Green))
	assert.Error(t, hc.Increment("orange"))

	got, err := hc.Counters()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Green)
	assert.Equal(t, uint64(2), got.Total)
	assert.Equal(t, st.Counters.Snapshot(), got.Counts)

	rep, err := hc.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", rep.Status)
}

func TestWatch_StreamsUntilCancelled(t *testing.T) {
	st, web := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu     sync.Mutex
		events []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, wsURL(web), zerolog.Nop(), func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool { return st.Hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := st.Vote(counter.Blue)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	var tally Tally
	for _, ev := range events {
		tally.Apply(ev)
	}
	assert.Equal(t, counter.Counts{Blue: 1, Total: 1}, tally.Counts)
	assert.Equal(t, uint64(1), tally.Users)
}
