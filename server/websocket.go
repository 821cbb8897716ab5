package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OpenBooking/messages"
	"github.com/room4-2/OpenBooking/turn"
	"go.uber.org/zap"
)

const (
	wsReadLimit    = 64 * 1024
	wsWriteTimeout = 10 * time.Second
)

// handleWebSocket runs text turns over one connection. The connection is one
// conversation; it ends when a booking is confirmed or the client leaves.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if int(s.active.Load()) >= s.config.MaxSessions {
		writeDetail(w, http.StatusServiceUnavailable, "too many active sessions")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	conversationID := "WS-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	log := s.log.With(zap.String("conversation_id", conversationID))
	log.Info("websocket session opened")
	defer log.Info("websocket session closed")

	conn.SetReadLimit(wsReadLimit)
	greeting := "Thanks for calling " + s.config.FacilityName + ". How can I help?"
	if err := writeWS(conn, messages.NewStatusMessage(conversationID, "connected", greeting)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg messages.ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			_ = writeWS(conn, messages.NewErrorMessage(conversationID, messages.ErrCodeInvalidMessage, "malformed message"))
			continue
		}

		switch msg.Type {
		case messages.TypePing:
			err = writeWS(conn, messages.NewStatusMessage(conversationID, "pong", ""))
		case messages.TypeTurn:
			var done bool
			done, err = s.wsTurn(r, conn, conversationID, msg)
			if done {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "booking complete"),
					time.Now().Add(time.Second))
				return
			}
		default:
			err = writeWS(conn, messages.NewErrorMessage(conversationID, messages.ErrCodeInvalidMessage, "unknown message type: "+msg.Type))
		}
		if err != nil {
			log.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) wsTurn(r *http.Request, conn *websocket.Conn, conversationID string, msg messages.ClientMessage) (bool, error) {
	var payload messages.TurnPayload
	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
		return false, writeWS(conn, messages.NewErrorMessage(conversationID, messages.ErrCodeInvalidMessage, "malformed turn payload"))
	}

	outcome, err := s.deps.Turns.ProcessTurn(r.Context(), conversationID, payload.Caller, payload.Text)
	if err != nil {
		code := messages.ErrCodeTurnFailed
		if errors.Is(err, turn.ErrUpstreamUnavailable) {
			code = messages.ErrCodeUpstreamUnavailable
		}
		return false, writeWS(conn, messages.NewErrorMessage(conversationID, code, err.Error()))
	}

	if err := writeWS(conn, messages.NewOutcomeMessage(conversationID, outcome)); err != nil {
		return false, err
	}
	return !outcome.ContinueListening, nil
}

func writeWS(conn *websocket.Conn, msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
