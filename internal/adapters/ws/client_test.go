package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoMatchServer answers the first join-queue command with a match-found
// event and records the bearer token it saw.
func echoMatchServer(t *testing.T, gotToken *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotToken = r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env domain.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("bad command: %v", err)
				return
			}
			if env.Type != domain.CmdJoinQueue {
				continue
			}
			reply, _ := domain.NewEnvelope(domain.EvtMatchFound, domain.MatchFound{
				CallID: 7, PeerID: 2, PeerName: "bob",
			})
			out, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAndDispatch(t *testing.T) {
	var token string
	srv := echoMatchServer(t, &token)
	defer srv.Close()

	matches := make(chan domain.MatchFound, 1)
	c := NewClient(Config{URL: wsURL(srv), Token: "secret"})
	c.UpdateHandlers(core.EventHandlers{
		OnMatchFound: func(m domain.MatchFound) { matches <- m },
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if token != "Bearer secret" {
		t.Errorf("Authorization = %q", token)
	}
	if !c.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}

	if err := c.JoinQueue(); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}

	select {
	case m := <-matches:
		if m.CallID != 7 || m.PeerID != 2 || m.PeerName != "bob" {
			t.Errorf("match = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("match-found never dispatched")
	}
}

func TestCommandsRequireConnection(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:0"})
	if err := c.JoinQueue(); err != ErrNotConnected {
		t.Errorf("JoinQueue error = %v, want ErrNotConnected", err)
	}
	if err := c.SendChatMessage(1, "hi"); err != ErrNotConnected {
		t.Errorf("SendChatMessage error = %v, want ErrNotConnected", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	var token string
	srv := echoMatchServer(t, &token)
	defer srv.Close()

	disconnects := 0
	c := NewClient(Config{URL: wsURL(srv)})
	c.UpdateHandlers(core.EventHandlers{
		OnDisconnect: func() { disconnects++ },
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Close()
	c.Close()

	if disconnects != 1 {
		t.Errorf("OnDisconnect fired %d times, want 1", disconnects)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after Close")
	}
}
