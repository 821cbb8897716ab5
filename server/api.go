package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/room4-2/OpenBooking/storage"
	"github.com/room4-2/OpenBooking/turn"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

type simulateResponse struct {
	CallSID    string `json:"call_sid"`
	Transcript string `json:"transcript"`
	*turn.Outcome
}

// handleSimulate runs a turn from form text or an uploaded audio file.
// Passing call_sid continues an earlier simulated conversation.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeDetail(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	transcript := strings.TrimSpace(r.FormValue("text"))
	caller := r.FormValue("from_number")
	if caller == "" {
		caller = "tester"
	}

	if file, header, err := r.FormFile("audio"); err == nil {
		defer file.Close()
		transcript, err = s.transcribeUpload(r, header.Filename, file)
		if err != nil {
			s.log.Error("simulate transcription failed", zap.Error(err))
			writeDetail(w, http.StatusBadGateway, "transcription failed")
			return
		}
	}
	if transcript == "" {
		writeDetail(w, http.StatusBadRequest, "Provide either text or an audio file.")
		return
	}

	callSID := r.FormValue("call_sid")
	if callSID == "" {
		callSID = "SIM-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	outcome, err := s.deps.Turns.ProcessTurn(r.Context(), callSID, caller, transcript)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, turn.ErrUpstreamUnavailable) {
			status = http.StatusBadGateway
		}
		writeDetail(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, simulateResponse{
		CallSID:    callSID,
		Transcript: transcript,
		Outcome:    outcome,
	})
}

func (s *Server) transcribeUpload(r *http.Request, filename string, audio io.Reader) (string, error) {
	if filepath.Ext(filename) == "" {
		filename += ".wav"
	}
	text, err := s.deps.Transcriber.Transcribe(r.Context(), filename, audio)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *Server) handleCallLogs(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultCallLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.deps.CallLogs.RecentCallLogs(r.Context(), limit)
	if err != nil {
		s.log.Error("list call logs failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "could not load call logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
