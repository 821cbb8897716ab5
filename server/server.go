package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/room4-2/OpenBooking/config"
	"github.com/room4-2/OpenBooking/storage"
	"github.com/room4-2/OpenBooking/turn"
	"go.uber.org/zap"
)

// TurnProcessor runs one conversational turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, conversationID, caller, transcript string) (*turn.Outcome, error)
}

// Transcriber converts caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// RecordingFetcher downloads a call recording.
type RecordingFetcher interface {
	Fetch(ctx context.Context, recordingURL string) ([]byte, error)
}

type CallLogReader interface {
	RecentCallLogs(ctx context.Context, limit int) ([]storage.CallLog, error)
}

// AudioLocator maps a served audio file name to its path on disk.
type AudioLocator interface {
	Path(name string) (string, bool)
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Turns          TurnProcessor
	Transcriber    Transcriber
	Recordings     RecordingFetcher
	CallLogs       CallLogReader
	Audio          AudioLocator
	SessionBackend string
}

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	deps       Deps
	config     *config.Config
	log        *zap.Logger
	active     atomic.Int64
}

func NewServer(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		config: cfg,
		log:    log.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice", s.handleVoiceCall)
	mux.HandleFunc("POST /recording_callback", s.handleRecordingCallback)
	mux.HandleFunc("GET /tts/{file}", s.handleTTS)
	mux.HandleFunc("POST /api/test/simulate", s.handleSimulate)
	mux.HandleFunc("GET /api/call-logs", s.handleCallLogs)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: a turn chains several upstream calls and /ws
		// connections are long-lived.
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info("server starting",
		zap.String("addr", s.httpServer.Addr),
		zap.String("voice_webhook", s.config.PublicBaseURL+"/voice"),
		zap.String("sessions", s.deps.SessionBackend),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"sessions_backend":   s.deps.SessionBackend,
		"active_connections": s.active.Load(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"detail":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
