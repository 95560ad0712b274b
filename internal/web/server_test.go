package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/clock"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/history"
	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/metrics"
	"github.com/sweeney/coffee-machine/internal/sim"
	"github.com/sweeney/coffee-machine/internal/status"
	"github.com/sweeney/coffee-machine/internal/store"
)

const wait = 2 * time.Second

var start = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	ts      *httptest.Server
	srv     *Server
	sup     *sim.Supervisor
	clk     *clock.Manual
	hub     *broadcast.Broadcaster
	tracker *status.Tracker
	store   *store.Memory
	history *history.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.NewManual(start, time.Second)
	st := store.NewMemory(100)
	hub := broadcast.New(log)
	tracker := status.NewTracker(start, status.Config{
		TickMs:         1000,
		StandbyAfterS:  60,
		CoolDownAfterS: 120,
		HeartbeatS:     900,
		Broker:         "tcp://192.168.1.200:1883",
		HTTPAddr:       ":8080",
		Codecs:         codec.Names(),
	}, clk.Now)
	hub.OnChange(tracker.SetObservers)

	sup := sim.New(sim.Config{
		State:     machine.NewState(machine.Default()),
		Clock:     clk,
		Publisher: sim.Publishers{hub, tracker},
		Store:     st,
		Logger:    log,
	})
	hist := history.New(st, hub, history.Config{Now: clk.Now, Logger: log})

	reg := prometheus.NewRegistry()
	srv := New(Config{
		Tracker:       tracker,
		Machine:       sup,
		Hub:           hub,
		History:       hist,
		StatusHistory: st,
		Metrics:       metrics.New(reg),
		Gatherer:      reg,
		Now:           clk.Now,
		Logger:        log,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
		sup.CancelCurrent()
	})
	return &testEnv{ts: ts, srv: srv, sup: sup, clk: clk, hub: hub, tracker: tracker, store: st, history: hist}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) dial(t *testing.T, format string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if format != "" {
		u += "?format=" + format
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) machine.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := codec.JSON{}.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if msg.Kind != broadcast.KindStatus {
		t.Fatalf("kind: got %q, want status", msg.Kind)
	}
	return msg.Status
}

func TestJSONEndpoint(t *testing.T) {
	e := newTestEnv(t)
	m := machine.Default()
	m.Temperature = 58.4
	m.CupsSinceFilled = 2
	e.tracker.PublishStatus(m)
	e.tracker.SetMQTTConnected(true)

	resp, body := e.get(t, "/index.json")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Machine.Temperature != 58.4 || sj.Status.Machine.CupsSinceFilled != 2 {
		t.Errorf("machine: got %+v", sj.Status.Machine)
	}
	if !sj.Status.MQTT.Connected || sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("mqtt: got %+v", sj.Status.MQTT)
	}
	if sj.Status.Config == nil || sj.Status.Config.TickMs != 1000 {
		t.Errorf("config: got %+v", sj.Status.Config)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/", "/index.html"} {
		resp, body := e.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: Content-Type %q", path, ct)
		}
		if !strings.Contains(body, "Coffee Machine") || !strings.Contains(body, "waiting") {
			t.Errorf("%s: unexpected body", path)
		}
	}
}

func TestNotFoundAndHealthz(t *testing.T) {
	e := newTestEnv(t)
	if resp, _ := e.get(t, "/nonexistent"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	resp, body := e.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("healthz: got %d %q", resp.StatusCode, body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.history.SaveCoffee(ctx, machine.CoffeeRecord{ID: "7", Type: "Espresso", Strength: 3, Amount: 1}); err != nil {
		t.Fatalf("SaveCoffee: %v", err)
	}

	resp, body := e.get(t, "/history")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	msg, err := codec.JSON{}.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != broadcast.KindHistory || len(msg.History) != 1 || msg.History[0].Type != "Espresso" {
		t.Errorf("history: got %+v", msg)
	}

	resp, body = e.get(t, "/history?format=csv")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("csv Content-Type: got %q", ct)
	}
	if !strings.HasPrefix(body, "coffee_history,1") {
		t.Errorf("csv body: %q", body)
	}

	if resp, _ := e.get(t, "/history?format=xml"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown format: got %d, want 400", resp.StatusCode)
	}
}

func TestStatusHistoryEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	for _, temp := range []float64{30, 40, 50} {
		s := machine.Default()
		s.Temperature = temp
		e.store.SaveStatus(ctx, s)
	}

	_, body := e.get(t, "/history/status?limit=2")
	var env struct {
		Type string `json:"type"`
		Data []struct {
			Temperature float64 `json:"temperature"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "status_history" || len(env.Data) != 2 {
		t.Fatalf("got %+v", env)
	}
	if env.Data[0].Temperature != 50 {
		t.Errorf("newest first: got %v", env.Data[0].Temperature)
	}

	if resp, _ := e.get(t, "/history/status?limit=-1"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.get(t, "/healthz")

	_, body := e.get(t, "/metrics")
	if !strings.Contains(body, `coffee_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Errorf("request counter missing from metrics output")
	}
}

func TestWebSocketJoinSendsCurrentSnapshot(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "")

	if s := readStatus(t, conn); s.Step != machine.StepWaiting || s.Temperature != machine.RoomTemp {
		t.Errorf("initial snapshot: got %+v", s)
	}

	deadline := time.Now().Add(wait)
	for e.hub.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("observers: got %d, want 1", e.hub.Len())
		}
		time.Sleep(time.Millisecond)
	}
	if n := e.tracker.Snapshot().Observers; n != 1 {
		t.Errorf("tracker observers: got %d, want 1", n)
	}

	conn.Close()
	deadline = time.Now().Add(wait)
	for e.hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer not removed after close")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWebSocketCommandDrivesMachine(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "json")
	readStatus(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("HeatUp")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.clk.Step(wait); err != nil {
		t.Fatalf("tick: %v", err)
	}

	deadline := time.Now().Add(wait)
	for {
		s := readStatus(t, conn)
		if s.Step == machine.StepHeating && s.Temperature > machine.RoomTemp {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw a heating tick, last %+v", s)
		}
	}
}

func TestWebSocketCBOR(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "cbor")

	conn.SetReadDeadline(time.Now().Add(wait))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Errorf("message type: got %d, want binary", mt)
	}
	msg, err := codec.CBOR{}.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Status.Step != machine.StepWaiting {
		t.Errorf("got %+v", msg.Status)
	}
}

func TestWebSocketUnknownFormatRejected(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.get(t, "/ws?format=yaml")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestShutdownClosesWebSockets(t *testing.T) {
	e := newTestEnv(t)
	conn := e.dial(t, "")
	readStatus(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := e.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(wait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if n := e.hub.Len(); n != 0 {
		t.Errorf("observers after shutdown: got %d", n)
	}
}
