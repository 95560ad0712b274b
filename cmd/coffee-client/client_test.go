package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/machine"
)

func TestWithFormat(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ws://localhost:8080/ws", "ws://localhost:8080/ws?format=json"},
		{"http://localhost:8080", "ws://localhost:8080/ws?format=json"},
		{"https://coffee.example/ws", "wss://coffee.example/ws?format=json"},
		{"ws://localhost:8080/ws?format=cbor", "ws://localhost:8080/ws?format=cbor"},
	}
	for _, c := range cases {
		got, err := withFormat(c.in, "json")
		if err != nil {
			t.Errorf("%s: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s: got %s, want %s", c.in, got, c.want)
		}
	}
	if _, err := withFormat("ftp://host/ws", "json"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestRenderStatus(t *testing.T) {
	s := machine.Default()
	s.Temperature = 94
	s.PoweredOn = true
	data, err := codec.JSON{}.Encode(broadcast.StatusMessage(s))
	if err != nil {
		t.Fatal(err)
	}
	got := render(codec.JSON{}, data)
	if !strings.HasPrefix(got, "Temperature: 94°C") || !strings.Contains(got, "Power: on") {
		t.Errorf("render: %q", got)
	}
}

func TestRenderUndecodableFrame(t *testing.T) {
	if got := render(codec.JSON{}, []byte("  hello\n")); got != "hello" {
		t.Errorf("render: got %q, want hello", got)
	}
}

func TestFormatRecord(t *testing.T) {
	now := time.Date(2026, 3, 4, 7, 30, 0, 0, time.UTC)
	msg, err := formatRecord([]string{"Espresso", "4", "2"}, now)
	if err != nil {
		t.Fatalf("formatRecord: %v", err)
	}
	var r record
	if err := json.Unmarshal([]byte(msg), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Type != "Espresso" || r.Strength != 4 || r.Amount != 2 || r.CreatedDate != "2026-03-04T07:30:00Z" {
		t.Errorf("record: %+v", r)
	}
	if r.ID == "" {
		t.Error("record should carry an id")
	}

	for _, args := range [][]string{{"Espresso"}, {"Espresso", "strong"}, {"Espresso", "4", "0"}, {"a", "1", "2", "3"}} {
		if _, err := formatRecord(args, now); err != errUsage {
			t.Errorf("%v: got %v, want usage error", args, err)
		}
	}
}

func TestInterpret(t *testing.T) {
	now := time.Now()
	cases := []struct {
		line string
		act  action
		msg  string
	}{
		{"", actSkip, ""},
		{"   ", actSkip, ""},
		{"help", actHelp, ""},
		{"?", actHelp, ""},
		{"QUIT", actQuit, ""},
		{"HeatUp", actSend, "HeatUp"},
		{"  Brew ", actSend, "Brew"},
		{"2", actSend, "2"},
	}
	for _, c := range cases {
		act, msg, err := interpret(c.line, now)
		if err != nil {
			t.Errorf("%q: %v", c.line, err)
			continue
		}
		if act != c.act || msg != c.msg {
			t.Errorf("%q: got (%d, %q), want (%d, %q)", c.line, act, msg, c.act, c.msg)
		}
	}

	act, msg, err := interpret("record Normal 3", now)
	if err != nil || act != actSend || !strings.Contains(msg, `"type":"Normal"`) {
		t.Errorf("record: got (%d, %q, %v)", act, msg, err)
	}
	if _, _, err := interpret("record", now); err == nil {
		t.Error("expected usage error for bare record")
	}
}

// syncBuffer is a bytes.Buffer safe for the listener goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClientRoundTrip(t *testing.T) {
	received := make(chan string, 1)
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormat = r.URL.Query().Get("format")
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := codec.CBOR{}.Encode(broadcast.StatusMessage(machine.Default()))
		conn.WriteMessage(websocket.BinaryMessage, data)
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- string(msg)
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL+"/ws", "cbor")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, &out) }()

	if err := c.Send("HeatUp"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-received:
		if msg != "HeatUp" {
			t.Errorf("server got %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("server never received the command")
	}

	if err := <-done; err != nil {
		t.Errorf("Listen: %v", err)
	}
	if gotFormat != "cbor" {
		t.Errorf("format: got %q, want cbor", gotFormat)
	}
	if !strings.Contains(out.String(), "Step: waiting") {
		t.Errorf("output: %q", out.String())
	}
}

func TestDialUnknownFormat(t *testing.T) {
	if _, err := Dial(context.Background(), "ws://localhost:1/ws", "yaml"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
