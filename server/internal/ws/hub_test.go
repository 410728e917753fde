package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitwall/pitwall/pkg/telemetry"
	"github.com/pitwall/pitwall/server/internal/metrics"
	"github.com/pitwall/pitwall/server/internal/state"
	wsHub "github.com/pitwall/pitwall/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(t *testing.T, drivers ...int) *state.Store {
	t.Helper()
	st := state.NewStore(state.New("9472", 57))
	t.Cleanup(st.Close)
	if len(drivers) > 0 {
		b := telemetry.UpdateBatch{SessionKey: "9472", CurrentLap: 1}
		for _, n := range drivers {
			b.Drivers = append(b.Drivers, telemetry.DriverInfo{DriverNumber: n})
		}
		st.Apply(b)
	}
	return st
}

// startHub serves the hub from a test HTTP server and runs it until the test
// ends. It waits for the hub's store subscription before returning.
func startHub(t *testing.T, st *state.Store, interval time.Duration, gauge *metrics.Gauge) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, interval, gauge)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancelFn()
		<-done
		srv.Close()
	})

	deadline := time.Now().Add(time.Second)
	for st.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub did not subscribe to the store")
		}
		time.Sleep(time.Millisecond)
	}

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Event string `json:"event"`
	Data  struct {
		SessionKey  string            `json:"session_key"`
		CurrentLap  int               `json:"current_lap"`
		GeneratedAt string            `json:"generated_at"`
		Drivers     []json.RawMessage `json:"drivers"`
	} `json:"data"`
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m envelope
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return m
}

// waitCount polls hub.Count until it equals want.
func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateState(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, 1, 44, 16), time.Hour, nil)

	m := readMessage(t, dial(t, wsURL))
	if m.Event != wsHub.EventStateUpdate {
		t.Errorf("event: got %q, want %q", m.Event, wsHub.EventStateUpdate)
	}
	if m.Data.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
	if m.Data.SessionKey != "9472" || len(m.Data.Drivers) != 3 {
		t.Errorf("data: session %q with %d drivers", m.Data.SessionKey, len(m.Data.Drivers))
	}
}

func TestHub_EmptyStore_EmptyDrivers(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t), time.Hour, nil)

	m := readMessage(t, dial(t, wsURL))
	if m.Data.Drivers == nil || len(m.Data.Drivers) != 0 {
		t.Errorf("drivers: got %v, want []", m.Data.Drivers)
	}
}

func TestHub_PushesEveryPublishedState(t *testing.T) {
	st := newStore(t, 1)
	wsURL, _, _ := startHub(t, st, time.Hour, nil)

	conn := dial(t, wsURL)
	readMessage(t, conn) // immediate state

	for lap := 2; lap <= 4; lap++ {
		st.Apply(telemetry.UpdateBatch{SessionKey: "9472", CurrentLap: lap})
	}
	for lap := 2; lap <= 4; lap++ {
		m := readMessage(t, conn)
		if m.Data.CurrentLap != lap {
			t.Errorf("update %d: got lap %d", lap, m.Data.CurrentLap)
		}
	}
}

func TestHub_Heartbeat(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, 1), testInterval, nil)

	conn := dial(t, wsURL)
	readMessage(t, conn)

	start := time.Now()
	readMessage(t, conn)
	readMessage(t, conn)
	if time.Since(start) < testInterval {
		t.Errorf("two heartbeats in %v, interval %v", time.Since(start), testInterval)
	}
}

func TestHub_Ping(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t), time.Hour, nil)

	conn := dial(t, wsURL)
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if m := readMessage(t, conn); m.Event != wsHub.EventPong {
		t.Errorf("event: got %q, want pong", m.Event)
	}
}

func TestHub_CountClients(t *testing.T) {
	gauge := &metrics.Gauge{}
	wsURL, hub, _ := startHub(t, newStore(t), time.Hour, gauge)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i])
	}
	waitCount(t, hub, 3)
	if gauge.Value() != 3 {
		t.Errorf("gauge: got %d, want 3", gauge.Value())
	}

	conns[0].Close()
	waitCount(t, hub, 2)
	if gauge.Value() != 2 {
		t.Errorf("gauge after disconnect: got %d, want 2", gauge.Value())
	}
}

func TestHub_CancelClosesConnections(t *testing.T) {
	gauge := &metrics.Gauge{}
	wsURL, hub, cancel := startHub(t, newStore(t), time.Hour, gauge)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage after cancel: want error")
	}
	waitCount(t, hub, 0)
	if gauge.Value() != 0 {
		t.Errorf("gauge: got %d, want 0", gauge.Value())
	}
}
