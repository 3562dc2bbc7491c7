package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established connection to the collector. WriteLine must write
// and flush the whole line before returning.
type Conn interface {
	WriteLine(line []byte) error
	Close() error
}

// Dialer opens connections to the collector
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// NewDialer picks the transport from the address scheme. ws:// and wss://
// select WebSocket, tcp:// or a bare host:port select TCP. The returned
// address is what the dialer expects.
func NewDialer(address string, cfg Config) (Dialer, string) {
	switch {
	case strings.HasPrefix(address, "ws://"), strings.HasPrefix(address, "wss://"):
		return &WebSocketDialer{HandshakeTimeout: cfg.DialTimeout, WriteTimeout: cfg.WriteTimeout}, address
	default:
		return &TCPDialer{Timeout: cfg.DialTimeout, WriteTimeout: cfg.WriteTimeout}, strings.TrimPrefix(address, "tcp://")
	}
}

// TCPDialer connects over plain TCP and buffers each line
type TCPDialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
}

// Dial connects to a host:port address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}

	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp: %w", err)
	}

	return &tcpConn{
		conn:         c,
		w:            bufio.NewWriter(c),
		writeTimeout: d.WriteTimeout,
	}, nil
}

type tcpConn struct {
	conn         net.Conn
	w            *bufio.Writer
	writeTimeout time.Duration
}

func (c *tcpConn) WriteLine(line []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.w.Write(line); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// WebSocketDialer connects to a WebSocket collector and sends one text
// frame per line
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial connects to a ws:// or wss:// URL.
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	c, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	wc := &wsConn{conn: c, writeTimeout: d.WriteTimeout}
	go wc.discardReads()
	return wc, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteLine(line []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, line)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// discardReads keeps control frames (ping, close) flowing. The collector
// sends no data.
func (c *wsConn) discardReads() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			c.conn.Close()
			return
		}
	}
}
