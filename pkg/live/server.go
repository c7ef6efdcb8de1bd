// Package live serves the state of a running simulation over JSON-RPC
// 2.0, both as plain HTTP POSTs and over a websocket. Websocket clients
// can subscribe to periodic status updates and to the beads printed
// since the last update.
package live

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vrprinter-go/pkg/deposition"
	"vrprinter-go/pkg/log"
	"vrprinter-go/pkg/pool"
	"vrprinter-go/pkg/sim"
)

// DefaultBroadcastInterval is the period of subscription updates (4 Hz).
const DefaultBroadcastInterval = 250 * time.Millisecond

// Controller is the simulation as seen by the server. *sim.Loop
// satisfies it.
type Controller interface {
	Status() sim.Status
	Histograms(keep float64) (sim.Histograms, error)
	Pause() error
	Resume() error
	Reset(line int) error
	DrainBeads() [][]deposition.Sample
}

// Server is the live status API server.
type Server struct {
	ctl    Controller
	logger *log.Logger

	// HTTP server
	httpServer *http.Server
	addr       string
	interval   time.Duration

	// WebSocket management
	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clients that asked for notifications
	subscribers map[int64]bool
	subMu       sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., ":7125")
	Addr string

	Controller Controller

	// Interval between subscription updates. Zero means
	// DefaultBroadcastInterval.
	Interval time.Duration
}

// New creates a live status server.
func New(cfg Config) *Server {
	s := &Server{
		ctl:         cfg.Controller,
		logger:      log.GetLogger("live"),
		addr:        cfg.Addr,
		interval:    cfg.Interval,
		wsClients:   make(map[int64]*WSClient),
		subscribers: make(map[int64]bool),
		startTime:   time.Now(),
	}
	if s.interval <= 0 {
		s.interval = DefaultBroadcastInterval
	}

	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // viewers are served from anywhere
		},
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)

	// REST-style endpoints (alternative to JSON-RPC)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/sim/status", s.handleStatus)
	mux.HandleFunc("/sim/histograms", s.handleHistograms)

	return s.corsMiddleware(mux)
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.Handler()}
	s.running.Store(true)
	s.logger.WithField("addr", ln.Addr().String()).Info("live API server starting")

	go s.statusBroadcastLoop()

	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the API server.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func notification(method string, params ...any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
}

// handleJSONRPC handles JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONRPCError(w, nil, -32700, "Parse error")
		return
	}

	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		s.writeJSONRPCError(w, req.ID, -32000, err.Error())
		return
	}

	s.writeJSONRPCResult(w, req.ID, result)
}

// dispatchMethod routes a method call to the appropriate handler.
// client is nil for plain HTTP requests.
func (s *Server) dispatchMethod(method string, params map[string]any, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "sim.status":
		return s.ctl.Status(), nil
	case "sim.histograms":
		keep, err := floatParam(params, "keep", 1)
		if err != nil {
			return nil, err
		}
		return s.ctl.Histograms(keep)
	case "sim.pause":
		return ack(s.ctl.Pause())
	case "sim.resume":
		return ack(s.ctl.Resume())
	case "sim.reset":
		line, err := floatParam(params, "line", 0)
		if err != nil {
			return nil, err
		}
		return ack(s.ctl.Reset(int(line)))
	case "sim.subscribe":
		return s.methodSubscribe(client)
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func ack(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return "ok", nil
}

func floatParam(params map[string]any, name string, fallback float64) (float64, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", name, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid %s: %v", name, v)
	}
}

// state summarizes the simulation in one word.
func state(st sim.Status) string {
	switch {
	case st.Error != "":
		return "error"
	case st.Done:
		return "done"
	case st.Paused:
		return "paused"
	default:
		return "running"
	}
}

func (s *Server) methodServerInfo() (any, error) {
	s.wsClientMu.RLock()
	wsCount := len(s.wsClients)
	s.wsClientMu.RUnlock()

	st := s.ctl.Status()
	return map[string]any{
		"name":            "vrprinter",
		"state":           state(st),
		"line":            st.Line,
		"lines":           st.Lines,
		"uptime":          time.Since(s.startTime).Seconds(),
		"websocket_count": wsCount,
	}, nil
}

func (s *Server) methodSubscribe(client *WSClient) (any, error) {
	if client == nil {
		return nil, fmt.Errorf("sim.subscribe requires a websocket connection")
	}
	s.subMu.Lock()
	s.subscribers[client.id] = true
	s.subMu.Unlock()
	return s.ctl.Status(), nil
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodServerInfo()
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.ctl.Status()})
}

func (s *Server) handleHistograms(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	if keep := r.URL.Query().Get("keep"); keep != "" {
		params["keep"] = keep
	}
	result, err := s.dispatchMethod("sim.histograms", params, nil)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

// CORS middleware to allow cross-origin requests from viewers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// JSON response helpers. Responses are encoded into a pooled buffer
// first so an encoding failure can still be reported as a 500.

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	s.writeJSONStatus(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":    -32000,
			"message": err.Error(),
		},
	})
}

func (s *Server) writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	s.writeJSON(w, jsonRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	s.writeJSON(w, jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// statusBroadcastLoop periodically pushes status and beads to subscribed clients.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.broadcast()
	}
}

// broadcast sends one status update, and the beads finished since the
// last one, to every subscriber. Beads are drained even with no
// subscriber so they do not pile up.
func (s *Server) broadcast() {
	st := s.ctl.Status()
	beads := s.ctl.DrainBeads()
	eventtime := time.Since(s.startTime).Seconds()

	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for clientID := range s.subscribers {
		s.wsClientMu.RLock()
		client, ok := s.wsClients[clientID]
		s.wsClientMu.RUnlock()
		if !ok {
			continue
		}

		client.Send(notification("notify_status_update", st, eventtime))
		if len(beads) > 0 {
			client.Send(notification("notify_beads", map[string]any{"beads": beads}, eventtime))
		}
	}
}
