package api

import (
	"encoding/json"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
)

type rawFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialEvents(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame rawFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestEventsStreamPushesCurrentAndLaterStates(t *testing.T) {
	f := newFixture(t)
	f.states.Store(monitor.CheckingStatus{})

	conn := dialEvents(t, f)

	frame := readFrame(t, conn)
	if frame.Type != "state" {
		t.Fatalf("first frame type = %q, want state", frame.Type)
	}
	var view StateView
	if err := json.Unmarshal(frame.Payload, &view); err != nil {
		t.Fatal(err)
	}
	if view.State != "checking" {
		t.Errorf("state = %q, want checking", view.State)
	}

	f.states.Store(monitor.Suspended{Duration: time.Minute, Wake: monitor.NewSignal()})
	frame = readFrame(t, conn)
	if err := json.Unmarshal(frame.Payload, &view); err != nil {
		t.Fatal(err)
	}
	if view.State != "suspended" || !view.CanWake || view.SuspendSeconds != 60 {
		t.Errorf("view = %+v, want suspended with wake", view)
	}
}

func TestEventsStreamPushesStatus(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f)

	f.status.Store(portal.SystemStatus{
		IP:         netip.MustParseAddr("10.21.0.7"),
		Connection: portal.NewConnection(time.Hour, true),
	})

	frame := readFrame(t, conn)
	if frame.Type != "status" {
		t.Fatalf("frame type = %q, want status", frame.Type)
	}
	var view StatusView
	if err := json.Unmarshal(frame.Payload, &view); err != nil {
		t.Fatal(err)
	}
	if view.IP != "10.21.0.7" || !view.Active || view.TimeLeftSeconds != 3600 {
		t.Errorf("view = %+v", view)
	}
}

func TestEventsStreamClosedOnShutdown(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f)

	f.server.streams.close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown = %v, want going-away close", err)
	}
}

func TestEventsStreamOpenedAfterShutdown(t *testing.T) {
	f := newFixture(t)
	f.server.streams.close()

	conn := dialEvents(t, f)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream stayed open after shutdown")
	}
}
