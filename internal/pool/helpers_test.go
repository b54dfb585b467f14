package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// -----------------------------------------------------------------------------
// Fake upstream RPC node
// -----------------------------------------------------------------------------

type upstreamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]int64 // address -> subscription id
}

func (c *upstreamConn) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// upstream speaks just enough logsSubscribe to drive a pool.
type upstream struct {
	server *httptest.Server

	mu           sync.Mutex
	conns        []*upstreamConn
	dials        int
	refuse       bool
	reject       map[string]bool
	nextSub      int64
	subscribes   []string
	unsubscribes []int64
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{reject: make(map[string]bool)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.dials++
		refuse := u.refuse
		u.mu.Unlock()

		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		uc := &upstreamConn{conn: conn, subs: make(map[string]int64)}
		u.mu.Lock()
		u.conns = append(u.conns, uc)
		u.mu.Unlock()

		u.serve(uc)
	}))

	return u
}

func (u *upstream) serve(uc *upstreamConn) {
	for {
		_, data, err := uc.conn.ReadMessage()
		if err != nil {
			return
		}

		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Method {
		case "logsSubscribe":
			var filter struct {
				Mentions []string `json:"mentions"`
			}
			json.Unmarshal(req.Params[0], &filter)
			addr := filter.Mentions[0]

			u.mu.Lock()
			rejected := u.reject[addr]
			u.nextSub++
			sub := u.nextSub
			u.mu.Unlock()

			if rejected {
				uc.write(map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      req.ID,
					"error":   map[string]interface{}{"code": -32602, "message": "Invalid param"},
				})
				continue
			}

			uc.write(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": sub})

			u.mu.Lock()
			uc.subs[addr] = sub
			u.subscribes = append(u.subscribes, addr)
			u.mu.Unlock()

		case "logsUnsubscribe":
			var sub int64
			json.Unmarshal(req.Params[0], &sub)
			uc.write(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})

			u.mu.Lock()
			u.unsubscribes = append(u.unsubscribes, sub)
			for addr, id := range uc.subs {
				if id == sub {
					delete(uc.subs, addr)
				}
			}
			u.mu.Unlock()
		}
	}
}

func (u *upstream) URL() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http")
}

func (u *upstream) Close() {
	u.server.Close()
}

func (u *upstream) setRefuse(v bool) {
	u.mu.Lock()
	u.refuse = v
	u.mu.Unlock()
}

func (u *upstream) setReject(addr string) {
	u.mu.Lock()
	u.reject[addr] = true
	u.mu.Unlock()
}

// drop closes the i-th accepted connection abruptly.
func (u *upstream) drop(i int) {
	u.mu.Lock()
	c := u.conns[i]
	u.mu.Unlock()
	c.conn.Close()
}

func (u *upstream) dropAll() {
	u.mu.Lock()
	conns := append([]*upstreamConn(nil), u.conns...)
	u.mu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

func (u *upstream) dialCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dials
}

func (u *upstream) subscribed() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.subscribes...)
}

func (u *upstream) unsubscribed() []int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int64(nil), u.unsubscribes...)
}

// subscriptionOn returns the subscription id of addr on the i-th connection.
func (u *upstream) subscriptionOn(i int, addr string) (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if i >= len(u.conns) {
		return 0, false
	}
	sub, ok := u.conns[i].subs[addr]
	return sub, ok
}

// notify pushes a logsNotification for addr on the i-th connection.
func (u *upstream) notify(i int, addr, signature string) error {
	u.mu.Lock()
	c := u.conns[i]
	sub, ok := c.subs[addr]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s not subscribed on connection %d", addr, i)
	}

	return c.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": 42},
				"value": map[string]interface{}{
					"signature": signature,
					"err":       nil,
					"logs":      []string{"Program 11111111111111111111111111111111 invoke [1]"},
				},
			},
			"subscription": sub,
		},
	})
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

type recordingSink struct {
	events chan model.TransactionEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan model.TransactionEvent, 100)}
}

func (s *recordingSink) Submit(ev model.TransactionEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// -----------------------------------------------------------------------------
// Fake transport
// -----------------------------------------------------------------------------

type fakeClient struct {
	gate     chan struct{} // Connect blocks until closed, when non-nil
	messages chan connection.TimestampedMessage
	errors   chan error
	done     chan struct{}
	sent     chan []byte

	mu        sync.Mutex
	state     connection.State
	closeOnce sync.Once
}

func newFakeClient(gate chan struct{}) *fakeClient {
	return &fakeClient{
		gate:     gate,
		messages: make(chan connection.TimestampedMessage, 16),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		sent:     make(chan []byte, 16),
		state:    connection.StateConnecting,
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != connection.StateConnecting {
		return connection.ErrAlreadyClosed
	}
	f.state = connection.StateOpen
	return nil
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.state = connection.StateClosed
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	if f.State() != connection.StateOpen {
		return connection.ErrNotConnected
	}
	f.sent <- data
	return nil
}

func (f *fakeClient) Messages() <-chan connection.TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                           { return f.errors }
func (f *fakeClient) Done() <-chan struct{}                          { return f.done }

func (f *fakeClient) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) inject(frame string) {
	f.messages <- connection.TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

// nextSent returns the next frame the pool wrote.
func (f *fakeClient) nextSent(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case data := <-f.sent:
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal sent frame: %v", err)
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for sent frame")
		return nil
	}
}
