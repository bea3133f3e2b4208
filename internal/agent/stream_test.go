package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// streamServer upgrades the connection and hands it to fn.
func streamServer(t *testing.T, fn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
}

func TestStreamCallAccumulates(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		var cfg streamFrame
		if err := conn.ReadJSON(&cfg); err != nil || cfg.Type != frameConfig {
			t.Errorf("config frame: %+v err=%v", cfg, err)
			return
		}
		if cfg.Session != testApp+"/sessions/sess-1" {
			t.Errorf("session: got %q", cfg.Session)
		}
		var in streamFrame
		if err := conn.ReadJSON(&in); err != nil || in.Type != frameText {
			t.Errorf("text frame: %+v err=%v", in, err)
			return
		}
		conn.WriteJSON(streamFrame{Type: frameText, Text: "Hel"})
		conn.WriteJSON(streamFrame{Type: frameText, Text: "lo."})
		conn.WriteJSON(streamFrame{Type: frameTurnComplete})
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, testApp, "", "", 5*time.Second)
	got, err := c.Call(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "Hello." {
		t.Fatalf("reply: got %q", got)
	}
}

func TestStreamCallErrorFrame(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		var f streamFrame
		conn.ReadJSON(&f)
		conn.ReadJSON(&f)
		conn.WriteJSON(streamFrame{Type: frameError, Error: "session expired"})
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, testApp, "", "", 5*time.Second)
	_, err := c.Call(context.Background(), "sess-1", "hi")
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestStreamCallTimeoutWithoutTurnComplete(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		var f streamFrame
		conn.ReadJSON(&f)
		conn.ReadJSON(&f)
		conn.WriteJSON(streamFrame{Type: frameText, Text: "partial"})
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	c := NewStreamClient(srv.URL, testApp, "", "", 200*time.Millisecond)
	_, err := c.Call(context.Background(), "sess-1", "hi")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestWSEndpointSchemes(t *testing.T) {
	c := NewStreamClient("https://agent.example.com/v1beta", testApp, "", "", time.Second)
	got, err := c.wsEndpoint("sess-1")
	if err != nil {
		t.Fatalf("wsEndpoint: %v", err)
	}
	want := "wss://agent.example.com/v1beta/" + testApp + "/sessions/sess-1:bidiSession"
	if got != want {
		t.Fatalf("endpoint:\n got %q\nwant %q", got, want)
	}
}
