package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OpenBooking/config"
	"github.com/room4-2/OpenBooking/messages"
	"github.com/room4-2/OpenBooking/policy"
	"github.com/room4-2/OpenBooking/storage"
	"github.com/room4-2/OpenBooking/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type turnCall struct {
	conversationID, caller, transcript string
}

type fakeTurns struct {
	mu      sync.Mutex
	calls   []turnCall
	outcome *turn.Outcome
	err     error
}

func (f *fakeTurns) ProcessTurn(_ context.Context, conversationID, caller, transcript string) (*turn.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, turnCall{conversationID, caller, transcript})
	if f.err != nil {
		return nil, f.err
	}
	out := *f.outcome
	out.ConversationID = conversationID
	return &out, nil
}

type fakeTranscriber struct {
	text     string
	err      error
	filename string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, audio io.Reader) (string, error) {
	f.filename = filename
	_, _ = io.ReadAll(audio)
	return f.text, f.err
}

type fakeRecordings struct {
	url string
	err error
}

func (f *fakeRecordings) Fetch(_ context.Context, recordingURL string) ([]byte, error) {
	f.url = recordingURL
	return []byte("RIFF"), f.err
}

type fakeCallLogs struct {
	limit int
	items []storage.CallLog
}

func (f *fakeCallLogs) RecentCallLogs(_ context.Context, limit int) ([]storage.CallLog, error) {
	f.limit = limit
	return f.items, nil
}

type fakeAudio struct{ dir string }

func (f fakeAudio) Path(name string) (string, bool) {
	if strings.Contains(name, "..") {
		return "", false
	}
	return filepath.Join(f.dir, name), true
}

type fixture struct {
	turns       *fakeTurns
	transcriber *fakeTranscriber
	recordings  *fakeRecordings
	callLogs    *fakeCallLogs
	audioDir    string
	srv         *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		turns: &fakeTurns{outcome: &turn.Outcome{
			Reply:             "Could you please share your full name?",
			Mode:              policy.ModeSlotFollowup,
			AudioURL:          "https://clinic.test/tts/CA1_1.mp3",
			ContinueListening: true,
		}},
		transcriber: &fakeTranscriber{text: "I need an appointment"},
		recordings:  &fakeRecordings{},
		callLogs:    &fakeCallLogs{},
		audioDir:    t.TempDir(),
	}
	cfg := &config.Config{
		Port:           8080,
		PublicBaseURL:  "https://clinic.test",
		FacilityName:   "Sunrise Clinic",
		AllowedOrigins: []string{"*"},
		MaxSessions:    2,
	}
	f.srv = NewServer(cfg, Deps{
		Turns:          f.turns,
		Transcriber:    f.transcriber,
		Recordings:     f.recordings,
		CallLogs:       f.callLogs,
		Audio:          fakeAudio{dir: f.audioDir},
		SessionBackend: "memory",
	}, zap.NewNop())
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestVoiceGreetsAndRecords(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/voice", url.Values{"CallSid": {"CA1"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Thanks for calling Sunrise Clinic.")
	assert.Contains(t, body, `<Record action="https://clinic.test/recording_callback" method="POST"`)
}

func TestRecordingCallbackPlaysReply(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/recording_callback", url.Values{
		"RecordingUrl": {"https://api.twilio.test/rec/RE1"},
		"CallSid":      {"CA1"},
		"From":         {"+15550001111"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Play>https://clinic.test/tts/CA1_1.mp3</Play>")
	assert.Contains(t, body, "<Record ")
	assert.NotContains(t, body, "<Hangup/>")

	require.Len(t, f.turns.calls, 1)
	assert.Equal(t, turnCall{"CA1", "+15550001111", "I need an appointment"}, f.turns.calls[0])
	assert.Equal(t, "CA1.wav", f.transcriber.filename)
}

func TestRecordingCallbackHangsUpOnConfirmation(t *testing.T) {
	f := newFixture(t)
	f.turns.outcome = &turn.Outcome{Reply: "Thanks Ana & co.", Mode: policy.ModeConfirmation}

	rec := f.do(formRequest("/recording_callback", url.Values{
		"RecordingUrl": {"https://api.twilio.test/rec/RE1"},
		"CallSid":      {"CA1"},
	}))

	body := rec.Body.String()
	assert.Contains(t, body, "Thanks Ana &amp; co.</Say>")
	assert.Contains(t, body, "<Hangup/>")
	assert.NotContains(t, body, "<Record ")
}

func TestRecordingCallbackApologizesOnFailure(t *testing.T) {
	tests := map[string]func(f *fixture){
		"download":      func(f *fixture) { f.recordings.err = errors.New("404") },
		"transcription": func(f *fixture) { f.transcriber.err = errors.New("timeout") },
		"turn":          func(f *fixture) { f.turns.err = &turn.UpstreamError{Stage: turn.StageExtraction, Err: errors.New("down")} },
	}
	for name, breakIt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			breakIt(f)
			rec := f.do(formRequest("/recording_callback", url.Values{
				"RecordingUrl": {"https://api.twilio.test/rec/RE1"},
				"CallSid":      {"CA1"},
			}))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), apologyPrompt)
			assert.Contains(t, rec.Body.String(), "<Record ")
		})
	}
}

func TestRecordingCallbackRequiresFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/recording_callback", url.Values{"CallSid": {"CA1"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeTTS(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.audioDir, "CA1_1.mp3"), []byte("mp3"), 0o644))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/tts/CA1_1.mp3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp3", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/tts/missing.mp3", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimulateWithText(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/api/test/simulate", url.Values{"text": {"  where do I park?  "}}))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body["call_sid"].(string), "SIM-"))
	assert.Equal(t, "where do I park?", body["transcript"])
	assert.Equal(t, "SLOT_FOLLOWUP", body["mode"])
	assert.Equal(t, "tester", f.turns.calls[0].caller)
}

func TestSimulateContinuesConversation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/api/test/simulate", url.Values{"text": {"hi"}, "call_sid": {"SIM-abc"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SIM-abc", f.turns.calls[0].conversationID)
}

func TestSimulateWithAudio(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "question.m4a")
	require.NoError(t, err)
	_, _ = part.Write([]byte("audio-bytes"))
	require.NoError(t, mw.WriteField("from_number", "+1555"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/test/simulate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "question.m4a", f.transcriber.filename)
	assert.Equal(t, turnCall{f.turns.calls[0].conversationID, "+1555", "I need an appointment"}, f.turns.calls[0])
}

func TestSimulateRequiresInput(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/api/test/simulate", url.Values{"text": {"   "}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.turns.calls)
}

func TestSimulateUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.turns.err = &turn.UpstreamError{Stage: turn.StageRetrieval, Err: errors.New("down")}
	rec := f.do(formRequest("/api/test/simulate", url.Values{"text": {"hours?"}}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCallLogs(t *testing.T) {
	f := newFixture(t)
	f.callLogs.items = []storage.CallLog{{CallSID: "CA1", Transcript: "hello"}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/call-logs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.callLogs.limit)
	assert.Contains(t, rec.Body.String(), `"call_sid":"CA1"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/call-logs?limit=lots", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions_backend":"memory"`)
}

func dialWS(t *testing.T, f *fixture) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(f.srv.Handler())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		ts.Close()
	}
}

type wireMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wireMessage
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

func sendTurn(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	payload, _ := sonic.Marshal(messages.TurnPayload{Text: text, Caller: "ws-test"})
	data, _ := sonic.Marshal(messages.ClientMessage{Type: messages.TypeTurn, Payload: payload})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestWebSocketTurns(t *testing.T) {
	f := newFixture(t)
	conn, closeAll := dialWS(t, f)
	defer closeAll()

	hello := readWire(t, conn)
	assert.Equal(t, messages.TypeStatus, hello.Type)
	assert.Equal(t, "connected", hello.Payload["status"])
	assert.True(t, strings.HasPrefix(hello.SessionID, "WS-"))

	sendTurn(t, conn, "I'd like to book")
	out := readWire(t, conn)
	assert.Equal(t, messages.TypeOutcome, out.Type)
	assert.Equal(t, "SLOT_FOLLOWUP", out.Payload["mode"])
	assert.Equal(t, hello.SessionID, f.turns.calls[0].conversationID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readWire(t, conn)
	assert.Equal(t, messages.TypeError, bad.Type)
	assert.Equal(t, messages.ErrCodeInvalidMessage, bad.Payload["code"])
}

func TestWebSocketClosesAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	f.turns.outcome = &turn.Outcome{Reply: "Thanks Ana.", Mode: policy.ModeConfirmation}
	conn, closeAll := dialWS(t, f)
	defer closeAll()

	readWire(t, conn)
	sendTurn(t, conn, "3pm works")
	out := readWire(t, conn)
	assert.Equal(t, "CONFIRMATION", out.Payload["mode"])

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWebSocketReportsUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.turns.err = &turn.UpstreamError{Stage: turn.StageGeneration, Err: errors.New("429")}
	conn, closeAll := dialWS(t, f)
	defer closeAll()

	readWire(t, conn)
	sendTurn(t, conn, "hours?")
	msg := readWire(t, conn)
	assert.Equal(t, messages.TypeError, msg.Type)
	assert.Equal(t, messages.ErrCodeUpstreamUnavailable, msg.Payload["code"])
}
