package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"flashguard-go/internal/config"
	"flashguard-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

type Handlers struct {
	Status   func() map[string]any
	Settings *config.Provider
	Events   func(ctx context.Context, limit int) (any, error)
	Warn     func(msg string, err error)
}

// Server hosts the overlay renderers. It implements suppression.Overlay
// and diagnostics.Sink; both only enqueue, so callers never wait on a
// websocket write. Visibility and appearance are never dropped: they mark
// the state dirty and broadcast sends the latest state ahead of the queue.
type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	h        Handlers
	log      *slog.Logger
	messages chan any
	dirty    chan struct{}
	dropped  atomic.Uint64

	stateMu    sync.Mutex
	visible    bool
	appearance types.Appearance
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	maxSettingsBody = 64 << 10
	defaultEvents   = 100
)

func New(cfg config.AppConfig, h Handlers, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		cfg:      cfg,
		h:        h,
		log:      log,
		messages: make(chan any, 256),
		dirty:    make(chan struct{}, 1),
	}
}

// SetHandlers replaces the callbacks. Call it before Run.
func (s *Server) SetHandlers(h Handlers) {
	s.h = h
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/events", s.handleEvents)
	return mux, nil
}

func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Show() { s.setVisible(true) }
func (s *Server) Hide() { s.setVisible(false) }

func (s *Server) setVisible(v bool) {
	s.stateMu.Lock()
	s.visible = v
	s.stateMu.Unlock()
	s.markDirty()
}

func (s *Server) SetAppearance(a types.Appearance) {
	s.stateMu.Lock()
	s.appearance = a
	s.stateMu.Unlock()
	s.markDirty()
}

func (s *Server) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Server) Frame(types.FrameRecord) {}

func (s *Server) Transition(rec types.TransitionRecord) {
	s.enqueue(types.TransitionMessage{Type: "transition", TransitionRecord: rec})
}

func (s *Server) Warn(msg string, err error) {
	payload := map[string]any{"type": "warning", "message": msg}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.enqueue(payload)
}

func (s *Server) enqueue(message any) {
	select {
	case s.messages <- message:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			s.log.Warn("overlay broadcast queue full", "dropped_total", n)
		}
	}
}

func (s *Server) state() (types.OverlayMessage, types.AppearanceMessage) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return types.OverlayMessage{Type: "overlay", Visible: s.visible},
		types.AppearanceMessage{Type: "appearance", Appearance: s.appearance}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	// Register and send the current state under s.mu so no broadcast can
	// slip in between.
	s.mu.Lock()
	s.clients[conn] = writeMu
	overlay, appearance := s.state()
	_ = s.writeJSON(conn, writeMu, appearance)
	_ = s.writeJSON(conn, writeMu, overlay)
	s.mu.Unlock()

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "state_request" {
				overlay, appearance := s.state()
				_ = s.writeJSON(conn, writeMu, appearance)
				_ = s.writeJSON(conn, writeMu, overlay)
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"port":          s.cfg.Port,
		"endpoint":      s.cfg.Endpoint,
		"codec":         s.cfg.Codec,
		"debug":         s.cfg.Debug,
		"cooldown_tick": s.cfg.CooldownTick.String(),
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.h.Status != nil {
		payload = s.h.Status()
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type settingsResponse struct {
	config.Settings
	OverlayBackground string `json:"overlayBackground"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.h.Settings == nil {
		http.Error(w, "settings unavailable", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost, http.MethodPatch:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, err := s.h.Settings.Patch(body); err != nil {
			if s.h.Warn != nil {
				s.h.Warn("settings update rejected", err)
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST, PATCH")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	current := s.h.Settings.Settings()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(settingsResponse{Settings: current, OverlayBackground: current.OverlayBackground()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.h.Events == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := defaultEvents
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	events, err := s.h.Events(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-s.dirty:
			s.sendState()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			s.sendState()
		case message := <-s.messages:
			s.send(message)
		}
	}
}

func (s *Server) sendState() {
	overlay, appearance := s.state()
	s.send(appearance)
	s.send(overlay)
}

func (s *Server) send(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.removeClient(conn)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
