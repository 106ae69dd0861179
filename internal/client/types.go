package client

import (
	"encoding/json"
	"fmt"

	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/ws"
)

// Event is one decoded server message. Exactly one field is set.
type Event struct {
	Initial  *ws.InitialMessage
	Presence *ws.PresenceMessage
	Update   *ws.ColorUpdate
}

func (e Event) String() string {
	switch {
	case e.Initial != nil:
		m := e.Initial
		return fmt.Sprintf("initial users=%d red=%d green=%d blue=%d purple=%d total=%d",
			m.Count, m.Red, m.Green, m.Blue, m.Purple, m.Total)
	case e.Presence != nil:
		return fmt.Sprintf("users=%d", e.Presence.Count)
	case e.Update != nil:
		return fmt.Sprintf("%s=%d total=%d", e.Update.Color, e.Update.Value, e.Update.Total)
	}
	return "empty"
}

// DecodeEvent parses a server message. Typed messages carry a "type" field;
// color updates are the untyped {"<color>":N,"total":N} shape.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type ws.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	switch head.Type {
	case ws.MsgInitial:
		var m ws.InitialMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Event{}, fmt.Errorf("decode initial: %w", err)
		}
		return Event{Initial: &m}, nil
	case ws.MsgUsers:
		var m ws.PresenceMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Event{}, fmt.Errorf("decode presence: %w", err)
		}
		return Event{Presence: &m}, nil
	case "":
		return decodeUpdate(data)
	default:
		return Event{}, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
}

func decodeUpdate(data []byte) (Event, error) {
	var fields map[string]uint64
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("decode update: %w", err)
	}
	total, ok := fields["total"]
	if !ok || len(fields) != 2 {
		return Event{}, fmt.Errorf("decode update: unexpected fields in %s", data)
	}
	for k, v := range fields {
		if k == "total" {
			continue
		}
		c, err := counter.ParseColor(k)
		if err != nil {
			return Event{}, fmt.Errorf("decode update: %w", err)
		}
		return Event{Update: &ws.ColorUpdate{Color: c, Value: v, Total: total}}, nil
	}
	return Event{}, fmt.Errorf("decode update: no color in %s", data)
}

// Tally folds events into a local view of the counters.
type Tally struct {
	Counts counter.Counts
	Users  uint64
}

func (t *Tally) Apply(e Event) {
	switch {
	case e.Initial != nil:
		t.Counts = counter.Counts{
			Red:    e.Initial.Red,
			Green:  e.Initial.Green,
			Blue:   e.Initial.Blue,
			Purple: e.Initial.Purple,
			Total:  e.Initial.Total,
		}
		t.Users = e.Initial.Count
	case e.Presence != nil:
		t.Users = e.Presence.Count
	case e.Update != nil:
		// Two votes can be published in the opposite order to their
		// increments, so every cell only moves forward.
		if cell := t.cell(e.Update.Color); cell != nil && e.Update.Value > *cell {
			*cell = e.Update.Value
		}
		if e.Update.Total > t.Counts.Total {
			t.Counts.Total = e.Update.Total
		}
	}
}

func (t *Tally) cell(c counter.Color) *uint64 {
	switch c {
	case counter.Red:
		return &t.Counts.Red
	case counter.Green:
		return &t.Counts.Green
	case counter.Blue:
		return &t.Counts.Blue
	case counter.Purple:
		return &t.Counts.Purple
	}
	return nil
}
