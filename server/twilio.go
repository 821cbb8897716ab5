package server

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apologyPrompt   = "Sorry, I'm having trouble right now. Please try again after the beep."
	recordMaxLength = 20
)

// TwilioRecordings downloads recordings with the account credentials.
type TwilioRecordings struct {
	client     *http.Client
	accountSID string
	authToken  string
}

func NewTwilioRecordings(accountSID, authToken string) *TwilioRecordings {
	return &TwilioRecordings{
		client:     &http.Client{Timeout: 30 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
	}
}

// Fetch downloads the WAV rendition of a recording.
func (t *TwilioRecordings) Fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	if !strings.HasSuffix(recordingURL, ".wav") {
		recordingURL += ".wav"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, err
	}
	if t.accountSID != "" {
		req.SetBasicAuth(t.accountSID, t.authToken)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download recording: status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// twiml builds a TwiML document.
type twiml struct {
	b bytes.Buffer
}

func newTwiML() *twiml {
	t := &twiml{}
	t.b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<Response>")
	return t
}

func (t *twiml) say(text string) *twiml {
	t.b.WriteString(`<Say voice="alice" language="en-IN">`)
	_ = xml.EscapeText(&t.b, []byte(text))
	t.b.WriteString(`</Say>`)
	return t
}

func (t *twiml) play(url string) *twiml {
	t.b.WriteString(`<Play>`)
	_ = xml.EscapeText(&t.b, []byte(url))
	t.b.WriteString(`</Play>`)
	return t
}

func (t *twiml) record(action string) *twiml {
	t.b.WriteString(`<Record action="`)
	_ = xml.EscapeText(&t.b, []byte(action))
	fmt.Fprintf(&t.b, `" method="POST" playBeep="true" maxLength="%d" trim="do-not-trim"/>`, recordMaxLength)
	return t
}

func (t *twiml) hangup() *twiml {
	t.b.WriteString(`<Hangup/>`)
	return t
}

func (t *twiml) write(w http.ResponseWriter) {
	t.b.WriteString("</Response>")
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(t.b.Bytes())
}

func (s *Server) callbackURL() string {
	return s.config.PublicBaseURL + "/recording_callback"
}

func (s *Server) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	s.log.Info("incoming call", zap.String("call_sid", r.FormValue("CallSid")))
	newTwiML().
		say(fmt.Sprintf("Thanks for calling %s. After the beep, let me know how I can help.", s.config.FacilityName)).
		record(s.callbackURL()).
		write(w)
}

// handleRecordingCallback transcribes the caller's recording and answers with
// the turn reply. Failures keep the call alive with an apology.
func (s *Server) handleRecordingCallback(w http.ResponseWriter, r *http.Request) {
	recordingURL := r.FormValue("RecordingUrl")
	callSID := r.FormValue("CallSid")
	if recordingURL == "" || callSID == "" {
		writeDetail(w, http.StatusBadRequest, "RecordingUrl and CallSid are required")
		return
	}
	log := s.log.With(zap.String("call_sid", callSID))
	log.Info("processing recording", zap.String("recording_sid", r.FormValue("RecordingSid")))

	audio, err := s.deps.Recordings.Fetch(r.Context(), recordingURL)
	if err != nil {
		log.Error("recording download failed", zap.Error(err))
		newTwiML().say(apologyPrompt).record(s.callbackURL()).write(w)
		return
	}

	transcript, err := s.deps.Transcriber.Transcribe(r.Context(), callSID+".wav", bytes.NewReader(audio))
	if err != nil {
		log.Error("transcription failed", zap.Error(err))
		newTwiML().say(apologyPrompt).record(s.callbackURL()).write(w)
		return
	}

	outcome, err := s.deps.Turns.ProcessTurn(r.Context(), callSID, r.FormValue("From"), transcript)
	if err != nil {
		newTwiML().say(apologyPrompt).record(s.callbackURL()).write(w)
		return
	}

	resp := newTwiML()
	if outcome.AudioURL != "" {
		resp.play(outcome.AudioURL)
	} else {
		resp.say(outcome.Reply)
	}
	if outcome.ContinueListening {
		resp.record(s.callbackURL())
	} else {
		resp.hangup()
	}
	resp.write(w)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	path, ok := s.deps.Audio.Path(r.PathValue("file"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Audio not found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeDetail(w, http.StatusNotFound, "Audio not found")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}
