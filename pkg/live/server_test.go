package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r3"

	"vrprinter-go/pkg/deposition"
	"vrprinter-go/pkg/sim"
)

// mockController implements Controller for testing.
type mockController struct {
	mu       sync.Mutex
	status   sim.Status
	beads    [][]deposition.Sample
	calls    []string
	resetTo  int
	keep     float64
	pauseErr error
}

func (m *mockController) Status() sim.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockController) Histograms(keep float64) (sim.Histograms, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keep = keep
	return sim.Histograms{
		Dangling: sim.HistogramReport{
			Buckets: []deposition.Bucket{{Index: 0, Count: 3}},
			Stats:   deposition.Stats{Runs: 3, Total: 1.5},
		},
	}, nil
}

func (m *mockController) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "pause")
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.status.Paused = true
	return nil
}

func (m *mockController) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "resume")
	m.status.Paused = false
	return nil
}

func (m *mockController) Reset(line int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "reset")
	m.resetTo = line
	return nil
}

func (m *mockController) DrainBeads() [][]deposition.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.beads
	m.beads = nil
	return b
}

func newTestServer() (*Server, *mockController) {
	ctl := &mockController{status: sim.Status{Line: 12, Lines: 40, DepositionLength: 3.5}}
	return New(Config{Addr: ":0", Controller: ctl, Interval: 10 * time.Millisecond}), ctl
}

func postRPC(t *testing.T, h http.Handler, method string, params map[string]any) jsonRPCResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params, "id": 7})
	req := httptest.NewRequest("POST", "/jsonrpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s: status %d", method, rec.Code)
	}
	var resp jsonRPCResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s: failed to decode response: %v", method, err)
	}
	return resp
}

func TestServerInfo(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest("GET", "/server/info", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatal("response missing 'result' field")
	}
	if result["state"] != "running" || result["line"] != 12.0 {
		t.Errorf("unexpected info %v", result)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest("GET", "/sim/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp struct {
		Result sim.Status `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Result.Line != 12 || resp.Result.DepositionLength != 3.5 {
		t.Errorf("status = %+v", resp.Result)
	}
}

func TestHistogramsEndpoint(t *testing.T) {
	s, ctl := newTestServer()
	tests := []struct {
		query    string
		wantCode int
		wantKeep float64
	}{
		{"", http.StatusOK, 1},
		{"?keep=0.9", http.StatusOK, 0.9},
		{"?keep=lots", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		ctl.keep = 0
		req := httptest.NewRequest("GET", "/sim/histograms"+tt.query, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != tt.wantCode {
			t.Errorf("%q: status %d, want %d", tt.query, rec.Code, tt.wantCode)
			continue
		}
		if ctl.keep != tt.wantKeep {
			t.Errorf("%q: keep = %v, want %v", tt.query, ctl.keep, tt.wantKeep)
		}
		if tt.wantCode != http.StatusOK {
			continue
		}
		var resp struct {
			Result sim.Histograms `json:"result"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Result.Dangling.Buckets) != 1 || resp.Result.Dangling.Stats.Runs != 3 {
			t.Errorf("histograms = %+v", resp.Result)
		}
	}
}

func TestJSONRPC(t *testing.T) {
	s, ctl := newTestServer()
	h := s.Handler()

	if resp := postRPC(t, h, "sim.pause", nil); resp.Error != nil || resp.Result != "ok" {
		t.Errorf("sim.pause = %+v", resp)
	}
	if !ctl.Status().Paused {
		t.Error("controller not paused")
	}
	if resp := postRPC(t, h, "sim.resume", nil); resp.Error != nil {
		t.Errorf("sim.resume = %+v", resp.Error)
	}
	if resp := postRPC(t, h, "sim.reset", map[string]any{"line": 25}); resp.Error != nil {
		t.Errorf("sim.reset = %+v", resp.Error)
	}
	if ctl.resetTo != 25 {
		t.Errorf("reset to %d, want 25", ctl.resetTo)
	}
	if resp := postRPC(t, h, "sim.status", nil); resp.Result == nil || resp.ID != 7.0 {
		t.Errorf("sim.status = %+v", resp)
	}

	// subscriptions need a websocket
	if resp := postRPC(t, h, "sim.subscribe", nil); resp.Error == nil {
		t.Error("sim.subscribe over HTTP succeeded")
	}
	if resp := postRPC(t, h, "no.such.method", nil); resp.Error == nil || resp.Error.Code != -32000 {
		t.Errorf("unknown method = %+v", resp)
	}

	ctl.pauseErr = errors.New("simulation loop stopped")
	if resp := postRPC(t, h, "sim.pause", nil); resp.Error == nil || resp.Error.Message != "simulation loop stopped" {
		t.Errorf("failing pause = %+v", resp)
	}

	req := httptest.NewRequest("GET", "/jsonrpc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /jsonrpc: status %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/jsonrpc", bytes.NewReader([]byte("{")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp jsonRPCResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Errorf("malformed request = %+v", resp)
	}
}

func dialTestServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	wsURL := "ws" + server.URL[4:] + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("failed to connect WebSocket: %v", err)
	}
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func TestWebSocket(t *testing.T) {
	s, _ := newTestServer()
	conn, closeAll := dialTestServer(t, s)
	defer closeAll()

	req := map[string]any{"jsonrpc": "2.0", "method": "server.info", "id": 1}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp jsonRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error)
	}
	if resp.Result == nil {
		t.Error("expected result, got nil")
	}
}

func TestWebSocketSubscription(t *testing.T) {
	s, ctl := newTestServer()
	ctl.beads = [][]deposition.Sample{{
		{Pos: r3.Vec{X: 1, Y: 2, Z: 0.2}, Thickness: 0.2, Bridge: true},
		{Pos: r3.Vec{X: 1.2, Y: 2, Z: 0.2}, Thickness: 0.2, Bridge: true},
	}}
	s.running.Store(true)
	defer s.running.Store(false)

	conn, closeAll := dialTestServer(t, s)
	defer closeAll()

	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "sim.subscribe", "id": 1}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp jsonRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("subscribe failed: %v", resp.Error)
	}

	go s.statusBroadcastLoop()

	seen := map[string]bool{}
	for !(seen["notify_status_update"] && seen["notify_beads"]) {
		var msg struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for notifications (seen %v): %v", seen, err)
		}
		seen[msg.Method] = true

		if msg.Method == "notify_beads" {
			var payload struct {
				Beads [][]deposition.Sample `json:"beads"`
			}
			if err := json.Unmarshal(msg.Params[0], &payload); err != nil {
				t.Fatal(err)
			}
			if len(payload.Beads) != 1 || len(payload.Beads[0]) != 2 || !payload.Beads[0][0].Bridge {
				t.Errorf("beads = %+v", payload.Beads)
			}
		}
		if msg.Method == "notify_status_update" {
			var st sim.Status
			if err := json.Unmarshal(msg.Params[0], &st); err != nil {
				t.Fatal(err)
			}
			if st.Line != 12 {
				t.Errorf("pushed status = %+v", st)
			}
		}
	}
}

func TestServeAndStop(t *testing.T) {
	s, _ := newTestServer()
	s.addr = "127.0.0.1:0"
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	deadline := time.Now().Add(5 * time.Second)
	for !s.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
