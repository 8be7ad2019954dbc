package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, *Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := NewController(NewRegistry(), NewMatchmaker(), NewCallStore())
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, ctl))
	t.Cleanup(srv.Close)
	return srv, ctl
}

func dial(t *testing.T, srv *httptest.Server, token, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if name != "" {
		url += "?name=" + name
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(typ, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	data, _ := json.Marshal(env)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitFor reads until an envelope of the wanted type arrives, skipping
// interleaved events like queue-status.
func waitFor(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", typ, err)
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Type == typ {
			return env.Data
		}
	}
	t.Fatalf("never received %s", typ)
	return nil
}

func matchPair(t *testing.T, srv *httptest.Server) (a, b *websocket.Conn, ma, mb domain.MatchFound) {
	t.Helper()
	a = dial(t, srv, "token-a", "alice")
	b = dial(t, srv, "token-b", "bob")
	send(t, a, domain.CmdJoinQueue, nil)
	waitFor(t, a, domain.EvtQueueStatus)
	send(t, b, domain.CmdJoinQueue, nil)

	if err := json.Unmarshal(waitFor(t, a, domain.EvtMatchFound), &ma); err != nil {
		t.Fatalf("match payload: %v", err)
	}
	if err := json.Unmarshal(waitFor(t, b, domain.EvtMatchFound), &mb); err != nil {
		t.Fatalf("match payload: %v", err)
	}
	return a, b, ma, mb
}

func TestMatchmakingRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, ma, mb := matchPair(t, srv)

	if ma.CallID != mb.CallID {
		t.Errorf("call ids differ: %d vs %d", ma.CallID, mb.CallID)
	}
	if ma.PeerID == mb.PeerID {
		t.Errorf("both sides got the same peer id %d", ma.PeerID)
	}
	if ma.PeerName != "bob" || mb.PeerName != "alice" {
		t.Errorf("peer names = %q / %q", ma.PeerName, mb.PeerName)
	}
}

func TestSignalRelayStampsSender(t *testing.T) {
	srv, _ := newTestServer(t)
	a, b, ma, mb := matchPair(t, srv)

	sig, err := domain.EncodeSignal(domain.SignalOffer, mb.CallID, mb.PeerID,
		domain.SessionDescription{Type: "offer", SDP: "x"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	send(t, b, domain.CmdSignal, sig)

	var relayed domain.Signal
	if err := json.Unmarshal(waitFor(t, a, domain.EvtSignal), &relayed); err != nil {
		t.Fatalf("relayed payload: %v", err)
	}
	if relayed.SenderID != ma.PeerID {
		t.Errorf("sender id = %d, want %d", relayed.SenderID, ma.PeerID)
	}
	if relayed.Kind != domain.SignalOffer {
		t.Errorf("kind = %s", relayed.Kind)
	}
}

func TestChatRelayAddressesRecipient(t *testing.T) {
	srv, _ := newTestServer(t)
	a, b, ma, _ := matchPair(t, srv)

	send(t, a, domain.CmdChat, domain.SendChatRequest{CallID: ma.CallID, Message: "hello"})

	var msg domain.ChatMessage
	if err := json.Unmarshal(waitFor(t, b, domain.EvtChatMessage), &msg); err != nil {
		t.Fatalf("chat payload: %v", err)
	}
	if msg.Message != "hello" || msg.SenderName != "alice" {
		t.Errorf("message = %+v", msg)
	}
	if msg.RecipientID != ma.PeerID {
		t.Errorf("recipient = %d, want %d", msg.RecipientID, ma.PeerID)
	}
	if msg.ID == 0 {
		t.Errorf("message id not assigned")
	}
}

func TestEndCallNotifiesPeer(t *testing.T) {
	srv, ctl := newTestServer(t)
	a, b, ma, _ := matchPair(t, srv)

	send(t, a, domain.CmdEndCall, domain.EndCallRequest{CallID: ma.CallID})

	var ended domain.CallEnded
	if err := json.Unmarshal(waitFor(t, b, domain.EvtCallEnded), &ended); err != nil {
		t.Fatalf("call-ended payload: %v", err)
	}
	if ended.CallID != ma.CallID {
		t.Errorf("call id = %d, want %d", ended.CallID, ma.CallID)
	}

	call, err := ctl.Store.Get(ma.CallID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if call.Status != domain.CallCompleted {
		t.Errorf("status = %s, want COMPLETED", call.Status)
	}
}

func TestNextPersonRequeuesSkipper(t *testing.T) {
	srv, ctl := newTestServer(t)
	a, b, ma, _ := matchPair(t, srv)

	send(t, a, domain.CmdNextPerson, nil)

	// The abandoned side hears the end; the skipper is waiting again.
	var ended domain.CallEnded
	if err := json.Unmarshal(waitFor(t, b, domain.EvtCallEnded), &ended); err != nil {
		t.Fatalf("call-ended payload: %v", err)
	}
	if ended.Reason != "skipped" {
		t.Errorf("reason = %q, want skipped", ended.Reason)
	}
	waitFor(t, a, domain.EvtQueueStatus)

	deadline := time.After(2 * time.Second)
	for ctl.Match.Waiting() != 1 {
		select {
		case <-deadline:
			t.Fatalf("waiting = %d, want 1", ctl.Match.Waiting())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	call, err := ctl.Store.Get(ma.CallID)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if call.Status != domain.CallCancelled {
		t.Errorf("status = %s, want CANCELLED", call.Status)
	}
}

func TestReconnectKeepsCallAlive(t *testing.T) {
	srv, ctl := newTestServer(t)
	_, b, _, mb := matchPair(t, srv)

	// Same token, fresh socket: the server closes the old one, whose pump
	// teardown must not end the live call or evict the new binding.
	a2 := dial(t, srv, "token-a", "alice")

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := ctl.Match.CallOf(mb.PeerID); !ok {
			t.Fatal("reconnect ended the live call")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sig, err := domain.EncodeSignal(domain.SignalOffer, mb.CallID, mb.PeerID,
		domain.SessionDescription{Type: "offer", SDP: "x"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	send(t, b, domain.CmdSignal, sig)

	var relayed domain.Signal
	if err := json.Unmarshal(waitFor(t, a2, domain.EvtSignal), &relayed); err != nil {
		t.Fatalf("relayed payload: %v", err)
	}
	if relayed.TargetUserID != mb.PeerID {
		t.Errorf("target = %d, want %d", relayed.TargetUserID, mb.PeerID)
	}
}

func TestCallHistoryOverREST(t *testing.T) {
	srv, _ := newTestServer(t)
	a, _, ma, _ := matchPair(t, srv)

	send(t, a, domain.CmdEndCall, domain.EndCallRequest{CallID: ma.CallID})
	waitFor(t, a, domain.EvtCallEnded)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/calls", nil)
	req.Header.Set("Authorization", "Bearer token-a")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/calls: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var calls []domain.Call
	if err := json.NewDecoder(resp.Body).Decode(&calls); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != ma.CallID {
		t.Errorf("calls = %+v", calls)
	}
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv, "token-a", "alice")
	send(t, a, domain.CmdPing, nil)
	waitFor(t, a, domain.EvtPong)
}
