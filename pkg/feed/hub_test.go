package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsDivergences(t *testing.T) {
	h := NewHub(nil)
	h.Session = "run-1"
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, h, 2)

	h.Report(recorder.Divergence{Pass: 7, Object: "body 3", Length: 4, Expected: []byte{1}, Actual: []byte{2}})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error: %v", err)
		}
		if msg.Type != "divergence" || msg.Session != "run-1" {
			t.Errorf("message = %+v", msg)
		}
		if msg.Divergence == nil || msg.Divergence.Object != "body 3" || msg.Divergence.Pass != 7 {
			t.Errorf("divergence = %+v", msg.Divergence)
		}
		if msg.Time.IsZero() {
			t.Error("message has no time")
		}
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)
	conn.Close()
	waitForClients(t, h, 0)

	// Nothing to send to, must not block.
	h.Report(recorder.Divergence{})
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if h.Clients() != 0 {
		t.Errorf("Clients() after Close = %d", h.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() after Close = %v, want going away", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to a closed hub to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial response = %v, want 503", resp)
	}
}
