package messages

import "encoding/json"

// Client message types
const (
	TypeTurn = "turn"
	TypePing = "ping"
)

// ClientMessage represents a message from a text client
type ClientMessage struct {
	Type    string          `json:"type"` // "turn", "ping"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TurnPayload carries one caller utterance
type TurnPayload struct {
	Text   string `json:"text"`
	Caller string `json:"caller,omitempty"`
}
