package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next frame from the peer.
	// The server pings every 20s, so any healthy stream resets this well
	// before it expires.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// MaxStreamsPerConn is the exchange limit on streams per combined connection.
	MaxStreamsPerConn = 1024
)

// FrameHandler receives every raw text frame read from a stream connection.
type FrameHandler func([]byte)

// StreamClient is a single combined-stream WebSocket connection carrying the
// bookTicker streams of a fixed set of symbols. Reconnection is left to the
// caller: Run returns when the connection drops.
type StreamClient struct {
	wsURL   string
	symbols []string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewStreamClient creates a client for the given symbols.
//
// wsURL is the stream endpoint root, e.g. "wss://stream.binance.com:9443".
func NewStreamClient(wsURL string, symbols []string) *StreamClient {
	return &StreamClient{
		wsURL:   strings.TrimRight(wsURL, "/"),
		symbols: append([]string(nil), symbols...),
	}
}

// Symbols returns the symbols carried by this connection.
func (s *StreamClient) Symbols() []string { return s.symbols }

// URL returns the combined-stream URL for the client's symbols.
func (s *StreamClient) URL() string {
	return CombinedStreamURL(s.wsURL, s.symbols)
}

// CombinedStreamURL builds "<root>/stream?streams=a@bookTicker/b@bookTicker".
func CombinedStreamURL(root string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}
	return strings.TrimRight(root, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Shard splits symbols into consecutive groups of at most size entries.
func Shard(symbols []string, size int) [][]string {
	if size <= 0 || size > MaxStreamsPerConn {
		size = MaxStreamsPerConn
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		out = append(out, symbols[start:end])
	}
	return out
}

// Connect dials the combined stream.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}
	if len(s.symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	s.conn = conn
	return nil
}

// Run reads frames and hands them to handler until the connection fails or
// ctx is cancelled. It always returns a non-nil error; after ctx
// cancellation that error is ctx.Err().
func (s *StreamClient) Run(ctx context.Context, handler FrameHandler) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		if msgType == websocket.TextMessage {
			handler(msg)
		}
	}
}

// Close sends a close frame and shuts the connection down. A closed client
// refuses further Connect calls.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return s.conn.Close()
	}
	return nil
}

func (s *StreamClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
