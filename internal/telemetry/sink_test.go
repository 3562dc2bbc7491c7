package telemetry

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

var testGeometry = protocol.Geometry{H: 1.5, K: -2, Phi: 0.785, MicDistance: 0.055}

type fakeConn struct {
	mu     sync.Mutex
	lines  []string
	failOn int // fail the n-th write, 1-based; 0 never fails
	writes int
	closed bool
}

func (c *fakeConn) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failOn > 0 && c.writes == c.failOn {
		return errors.New("broken pipe")
	}
	c.lines = append(c.lines, string(line))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // number of dials that fail before one succeeds
	conns    []*fakeConn
	next     func() *fakeConn
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{}
	if d.next != nil {
		c = d.next()
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Address != "127.0.0.1:9099" {
		t.Errorf("expected default address, got %s", cfg.Address)
	}
	if cfg.RetryInterval != time.Second {
		t.Errorf("expected 1s retry interval, got %v", cfg.RetryInterval)
	}
}

func TestDial_RetriesUntilConnected(t *testing.T) {
	d := &fakeDialer{failures: 3}

	s, err := Dial(context.Background(), testConfig(), testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	if !s.Connected() {
		t.Error("sink should be connected")
	}
	if got := s.Stats().Dials; got != 4 {
		t.Errorf("dials = %d, want 4", got)
	}
}

func TestDial_ContextCancelled(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, testConfig(), testGeometry, d, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestSend_WritesRecord(t *testing.T) {
	d := &fakeDialer{}
	s, err := Dial(context.Background(), testConfig(), testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ts := time.UnixMilli(1700000000123)
	if err := s.Send(context.Background(), 0.00001, ts); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := "1700000000123,1.5,-2,0.785,0.055,0.00001\n"
	if got := d.conns[0].lines; len(got) != 1 || got[0] != want {
		t.Errorf("lines = %q, want %q", got, want)
	}
	if s.Stats().Sent != 1 {
		t.Errorf("sent = %d, want 1", s.Stats().Sent)
	}
}

func TestSend_ReconnectsOnceAfterWriteFailure(t *testing.T) {
	first := true
	d := &fakeDialer{next: func() *fakeConn {
		if first {
			first = false
			return &fakeConn{failOn: 1}
		}
		return &fakeConn{}
	}}

	s, err := Dial(context.Background(), testConfig(), testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := s.Send(context.Background(), 1e-4, time.Now()); err == nil {
		t.Fatal("expected write error")
	}

	stats := s.Stats()
	if stats.Reconnects != 1 || stats.Dials != 2 || stats.Failed != 1 {
		t.Errorf("unexpected stats after failure %+v", stats)
	}
	if !d.conns[0].closed {
		t.Error("failed connection should be closed")
	}
	if !s.Connected() {
		t.Error("sink should be reconnected")
	}

	if err := s.Send(context.Background(), 2e-4, time.Now()); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	if len(d.conns[1].lines) != 1 {
		t.Errorf("second connection got %d lines, want 1", len(d.conns[1].lines))
	}
	if s.Stats().Reconnects != 1 {
		t.Error("successful send must not reconnect")
	}
}

func TestRun_DrainsMailbox(t *testing.T) {
	d := &fakeDialer{}
	s, err := Dial(context.Background(), testConfig(), testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	delays := mailbox.New[float64]("delay", mailbox.Overwrite)
	delays.Publish(0.5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, delays) }()

	deadline := time.Now().Add(time.Second)
	for s.Stats().Sent < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want canceled", err)
	}
	if s.Stats().Sent != 1 {
		t.Errorf("sent = %d, want 1", s.Stats().Sent)
	}
}

func TestNewDialer(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		address string
		ws      bool
		dialTo  string
	}{
		{"127.0.0.1:9099", false, "127.0.0.1:9099"},
		{"tcp://collector:9099", false, "collector:9099"},
		{"ws://collector/ingest", true, "ws://collector/ingest"},
		{"wss://collector/ingest", true, "wss://collector/ingest"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			d, addr := NewDialer(tt.address, cfg)
			_, isWS := d.(*WebSocketDialer)
			if isWS != tt.ws {
				t.Errorf("websocket = %v, want %v", isWS, tt.ws)
			}
			if addr != tt.dialTo {
				t.Errorf("address = %s, want %s", addr, tt.dialTo)
			}
		})
	}
}

func TestTCPDialer_DeliversLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 2)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		sc := bufio.NewScanner(c)
		for sc.Scan() {
			received <- sc.Text()
		}
	}()

	cfg := testConfig()
	cfg.Address = ln.Addr().String()
	d, addr := NewDialer(cfg.Address, cfg)
	cfg.Address = addr

	s, err := Dial(context.Background(), cfg, testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	if err := s.Send(context.Background(), -0.000125, time.UnixMilli(42)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case line := <-received:
		if line != "42,1.5,-2,0.785,0.055,-0.000125" {
			t.Errorf("unexpected line %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestWebSocketDialer_DeliversLines(t *testing.T) {
	received := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Address = "ws" + strings.TrimPrefix(server.URL, "http")
	d, _ := NewDialer(cfg.Address, cfg)

	s, err := Dial(context.Background(), cfg, testGeometry, d, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	if err := s.Send(context.Background(), 0.001, time.UnixMilli(7)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "7,1.5,-2,0.785,0.055,0.001\n" {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
