package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.SetConnections(map[string]int{"OPEN": 1})
	m.SetBoundWallets(1)
	m.SetWatchedAddresses(1)
	m.IncReconnectAttempt()
	m.IncReconnect()
	m.IncRedistributed()
	m.IncDropped("capacity")
	m.IncProtocolError("malformed")
	m.IncNotification(OutcomeDelivered)
	m.IncQueueDrop()
	m.ObserveJournalBatch(3)
	m.IncJournalError()

	if m.Registry() != nil {
		t.Error("nil Metrics should return nil registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetConnections(map[string]int{"OPEN": 2, "CONNECTING": 1})
	m.SetBoundWallets(7)
	m.IncNotification(OutcomeDelivered)
	m.IncNotification(OutcomeDelivered)
	m.IncDropped("capacity")

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	wants := []string{
		`walletwatch_connections{state="OPEN"} 2`,
		`walletwatch_connections{state="CONNECTING"} 1`,
		`walletwatch_connections{state="CLOSED"} 0`,
		`walletwatch_bound_wallets 7`,
		`walletwatch_notifications_total{outcome="delivered"} 2`,
		`walletwatch_dropped_wallets_total{reason="capacity"} 1`,
		`go_goroutines`,
	}
	for _, want := range wants {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	if a.Registry() == b.Registry() {
		t.Error("expected distinct registries")
	}
}
