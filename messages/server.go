package messages

import "github.com/room4-2/OpenBooking/turn"

// Error codes
const (
	ErrCodeInvalidMessage      = "INVALID_MESSAGE"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeTurnFailed          = "TURN_FAILED"
)

// Server message types
const (
	TypeOutcome = "outcome"
	TypeStatus  = "status"
	TypeError   = "error"
)

// ServerMessage represents a message sent to a text client
type ServerMessage struct {
	Type      string `json:"type"` // "outcome", "status", "error"
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "pong", "completed"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewOutcomeMessage wraps the result of a turn
func NewOutcomeMessage(sessionID string, outcome *turn.Outcome) *ServerMessage {
	return &ServerMessage{
		Type:      TypeOutcome,
		SessionID: sessionID,
		Payload:   outcome,
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
