package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if got := client.State(); got != StateConnecting {
		t.Errorf("initial state = %v, want CONNECTING", got)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := client.State(); got != StateOpen {
		t.Errorf("state after Connect = %v, want OPEN", got)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if got := client.State(); got != StateClosed {
		t.Errorf("state after Close = %v, want CLOSED", got)
	}

	select {
	case <-client.Done():
	default:
		t.Error("expected Done to be closed after Close")
	}
}

func TestClient_ConnectSendsAPIKey(t *testing.T) {
	auth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.APIKey = "secret"
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if gotAuth := <-auth; gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no upgrade", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("state after failed Connect = %v, want CLOSED", got)
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	// Accept the TCP connection but never answer the handshake.
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(testConfig(wsURL(server)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected Connect to time out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect took %v, expected to honor the context deadline", elapsed)
	}
}

func TestClient_ConnectTwice(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Connect error = %v, want ErrAlreadyStarted", err)
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(testConfig("ws://localhost:12345"), nil)
	client.Close()

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close error = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_Send(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte(`{"jsonrpc":"2.0","id":1,"method":"logsSubscribe"}`)
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for server to receive message")
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"jsonrpc":"2.0","result":1,"id":1}`,
		`{"jsonrpc":"2.0","result":2,"id":2}`,
		`{"jsonrpc":"2.0","result":3,"id":3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []string
	timeout := time.After(time.Second)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-client.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_ServerCloseReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return immediately; the deferred Close drops the socket.
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transport error")
	}

	if got := client.State(); got != StateClosed {
		t.Errorf("state after server close = %v, want CLOSED", got)
	}
}

func TestClient_CloseSuppressesError(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Close()

	select {
	case err := <-client.Errors():
		t.Errorf("unexpected error after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testConfig("ws://localhost:12345"), nil)

	err := client.Send([]byte("test"))
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_PingHandler(t *testing.T) {
	var mu sync.Mutex
	var pong string

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			mu.Lock()
			pong = data
			mu.Unlock()
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Give time for ping to be processed
	time.Sleep(200 * time.Millisecond)

	if got := client.State(); got != StateOpen {
		t.Errorf("state after ping = %v, want OPEN", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if pong != "heartbeat" {
		t.Errorf("pong payload = %q, want heartbeat", pong)
	}
}

func TestClient_StaleConnection(t *testing.T) {
	// The server never reads, so it never answers our pings.
	release := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-release
	})
	defer server.Close()
	defer close(release)

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stale connection error")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "CONNECTING"},
		{StateOpen, "OPEN"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", cfg.PingInterval)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.BufferSize != 1024 {
		t.Errorf("BufferSize = %d, want 1024", cfg.BufferSize)
	}
}
