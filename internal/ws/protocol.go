package ws

import (
	"encoding/json"
	"fmt"

	"github.com/color-tally/backend/internal/counter"
)

type MessageType string

const (
	MsgInitial MessageType = "initial"
	MsgUsers   MessageType = "users"
)

// InitialMessage is written to a session right after it joins, and to no one
// else. Count is the cumulative number of sessions.
type InitialMessage struct {
	Type   MessageType `json:"type"`
	Count  uint64      `json:"count"`
	Red    uint64      `json:"red"`
	Green  uint64      `json:"green"`
	Blue   uint64      `json:"blue"`
	Purple uint64      `json:"purple"`
	Total  uint64      `json:"total"`
}

func newInitialMessage(c counter.Counts, totalSessions uint64) InitialMessage {
	return InitialMessage{
		Type:   MsgInitial,
		Count:  totalSessions,
		Red:    c.Red,
		Green:  c.Green,
		Blue:   c.Blue,
		Purple: c.Purple,
		Total:  c.Total,
	}
}

// PresenceMessage announces the cumulative session count to everyone.
type PresenceMessage struct {
	Type  MessageType `json:"type"`
	Count uint64      `json:"count"`
}

// ColorUpdate is broadcast after every successful vote. It encodes as
// {"<color>": value, "total": total}.
type ColorUpdate struct {
	Color counter.Color
	Value uint64
	Total uint64
}

func (u ColorUpdate) MarshalJSON() ([]byte, error) {
	if !u.Color.Valid() {
		return nil, fmt.Errorf("color update: %w: %q", counter.ErrInvalidColor, string(u.Color))
	}
	return json.Marshal(map[string]uint64{
		u.Color.String(): u.Value,
		"total":          u.Total,
	})
}

// Command is a decoded inbound vote.
type Command struct {
	Color counter.Color
}

type commandEnvelope struct {
	Color *string `json:"color"`
}

// ParseCommand decodes an inbound message. A JSON object with a "color" field
// is tried first; anything else is treated as a bare color token. Both forms
// go through the same normalization.
func ParseCommand(data []byte) (Command, error) {
	token := string(data)

	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Color != nil {
		token = *env.Color
	}

	c, err := counter.ParseColor(token)
	if err != nil {
		return Command{}, err
	}
	return Command{Color: c}, nil
}
