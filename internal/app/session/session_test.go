package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxlink/voxlink/internal/app/negotiate"
	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

// --- fakes ---

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error

	joins, leaves, nexts int
	ended                []domain.CallID
	chats                []string
	typings              []domain.CallID
	signals              []domain.Signal
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) JoinQueue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	return nil
}

func (f *fakeTransport) LeaveQueue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeTransport) NextPerson() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts++
	return nil
}

func (f *fakeTransport) EndCall(id domain.CallID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeTransport) SendSignal(sig domain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeTransport) SendChatMessage(id domain.CallID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeTransport) SendTyping(id domain.CallID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings = append(f.typings, id)
	return nil
}

type fakeNegotiator struct {
	mu        sync.Mutex
	active    bool
	initErr   error
	initCalls []domain.CallID
	teardowns int
	signals   []domain.Signal

	initialized chan struct{}
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{initialized: make(chan struct{}, 8)}
}

func (f *fakeNegotiator) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeNegotiator) Initialize(ctx context.Context, callID domain.CallID, peerID domain.UserID) error {
	f.mu.Lock()
	f.initCalls = append(f.initCalls, callID)
	err := f.initErr
	if err == nil {
		f.active = true
	}
	f.mu.Unlock()
	f.initialized <- struct{}{}
	return err
}

func (f *fakeNegotiator) HandleSignal(ctx context.Context, sig domain.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
}

func (f *fakeNegotiator) ToggleVideo() (bool, bool) { return false, true }
func (f *fakeNegotiator) ToggleAudio() (bool, bool) { return false, true }

func (f *fakeNegotiator) LocalMedia() core.LocalMedia      { return nil }
func (f *fakeNegotiator) RemoteStream() *core.RemoteStream { return nil }

func (f *fakeNegotiator) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.teardowns++
}

type fixture struct {
	sess      *Session
	transport *fakeTransport
	engine    *fakeNegotiator

	mu      sync.Mutex
	notices []Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: &fakeTransport{},
		engine:    newFakeNegotiator(),
	}
	f.sess = New(Config{
		User:      domain.User{ID: 5, Username: "alice"},
		Transport: f.transport,
		Engine:    f.engine,
		TypingTTL: 50 * time.Millisecond,
		OnNotice: func(n Notice) {
			f.mu.Lock()
			f.notices = append(f.notices, n)
			f.mu.Unlock()
		},
	})
	return f
}

func (f *fixture) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

// startCall walks the session into a connecting call with id 1 against
// peer 9 and waits for engine initialization.
func (f *fixture) startCall(t *testing.T) {
	t.Helper()
	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 1, PeerID: 9, PeerName: "bob"})
	select {
	case <-f.engine.initialized:
	case <-time.After(time.Second):
		t.Fatal("engine never initialized")
	}
	if got := f.sess.Snapshot().State; got != StateConnecting {
		t.Fatalf("state = %v, want Connecting", got)
	}
}

// --- tests ---

func TestStartSearching(t *testing.T) {
	f := newFixture(t)
	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	if !f.transport.IsConnected() {
		t.Errorf("transport not connected")
	}
	if f.transport.joins != 1 {
		t.Errorf("joins = %d, want 1", f.transport.joins)
	}
	if got := f.sess.Snapshot().State; got != StateSearching {
		t.Errorf("state = %v, want Searching", got)
	}

	if err := f.sess.StartSearching(context.Background()); err != ErrInvalidState {
		t.Errorf("second StartSearching error = %v, want ErrInvalidState", err)
	}
}

func TestStopSearching(t *testing.T) {
	f := newFixture(t)
	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	if err := f.sess.StopSearching(); err != nil {
		t.Fatalf("StopSearching: %v", err)
	}
	if f.transport.leaves != 1 {
		t.Errorf("leaves = %d, want 1", f.transport.leaves)
	}
	if got := f.sess.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want Idle", got)
	}
}

func TestMatchFoundStartsNegotiation(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	snap := f.sess.Snapshot()
	if snap.CallID != 1 || snap.PeerID != 9 || snap.PeerName != "bob" {
		t.Errorf("call identity = %+v", snap)
	}
	if len(f.engine.initCalls) != 1 {
		t.Errorf("initializations = %d, want 1", len(f.engine.initCalls))
	}
}

func TestMatchDroppedWhileNotSearching(t *testing.T) {
	f := newFixture(t)
	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 1, PeerID: 9})

	if got := f.sess.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want Idle", got)
	}
	if len(f.engine.initCalls) != 0 {
		t.Errorf("negotiation started from idle")
	}
}

func TestDuplicateMatchDropped(t *testing.T) {
	f := newFixture(t)
	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	f.engine.mu.Lock()
	f.engine.active = true
	f.engine.mu.Unlock()

	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 2, PeerID: 9})

	if len(f.engine.initCalls) != 0 {
		t.Errorf("duplicate match initialized the engine")
	}
	if got := f.sess.Snapshot().State; got != StateSearching {
		t.Errorf("state = %v, want Searching", got)
	}
}

func TestMatchAgainstOwnIDDropped(t *testing.T) {
	f := newFixture(t)
	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 1, PeerID: 5})

	if len(f.engine.initCalls) != 0 {
		t.Errorf("match against own id initialized the engine")
	}
}

func TestSkipGoesStraightToSearching(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	if err := f.sess.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	snap := f.sess.Snapshot()
	if snap.State != StateSearching {
		t.Errorf("state = %v, want Searching", snap.State)
	}
	if snap.CallID != 0 || snap.PeerID != 0 || snap.PeerName != "" {
		t.Errorf("call identity survived skip: %+v", snap)
	}
	if f.transport.nexts != 1 {
		t.Errorf("NextPerson calls = %d, want 1", f.transport.nexts)
	}
	if f.engine.teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", f.engine.teardowns)
	}
	if len(f.transport.ended) != 0 {
		t.Errorf("Skip sent an explicit end-call")
	}
}

func TestEndCallNotifiesServer(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	if err := f.sess.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if got := f.sess.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want Idle", got)
	}
	if len(f.transport.ended) != 1 || f.transport.ended[0] != 1 {
		t.Errorf("ended = %v, want [1]", f.transport.ended)
	}
	if f.engine.teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", f.engine.teardowns)
	}
}

func TestPeerEndedCallSendsNothingBack(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.Handlers().OnCallEnded(domain.CallEnded{CallID: 1, Reason: "skipped"})

	if got := f.sess.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want Idle", got)
	}
	if len(f.transport.ended) != 0 {
		t.Errorf("acknowledged a peer-initiated end with an end of our own")
	}
	if f.engine.teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", f.engine.teardowns)
	}
}

func TestStaleCallEndedIgnored(t *testing.T) {
	f := newFixture(t)
	f.sess.Handlers().OnCallEnded(domain.CallEnded{CallID: 42})
	if f.engine.teardowns != 0 {
		t.Errorf("stale call-ended tore down the engine")
	}
}

func TestMediaFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.engine.initErr = core.ErrPermissionDenied

	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 1, PeerID: 9})
	<-f.engine.initialized

	deadline := time.After(time.Second)
	for f.sess.Snapshot().State != StateIdle {
		select {
		case <-deadline:
			t.Fatal("session never returned to idle")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if f.noticeCount() == 0 {
		t.Errorf("media failure produced no notice")
	}
}

func TestAbortedInitializeIsSilent(t *testing.T) {
	f := newFixture(t)
	f.engine.initErr = negotiate.ErrAborted

	if err := f.sess.StartSearching(context.Background()); err != nil {
		t.Fatalf("StartSearching: %v", err)
	}
	f.sess.Handlers().OnMatchFound(domain.MatchFound{CallID: 1, PeerID: 9})
	<-f.engine.initialized

	time.Sleep(20 * time.Millisecond)
	if f.noticeCount() != 0 {
		t.Errorf("aborted initialization surfaced a notice")
	}
}

func TestTransportErrorMidCallLosesCall(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.Handlers().OnError(domain.TransportError{Error: "connection reset"})

	if got := f.sess.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want Idle", got)
	}
	if f.noticeCount() == 0 {
		t.Errorf("transport error produced no notice")
	}
}

func TestConnectedReduction(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.OnEngineEvent(negotiate.EventConnected)
	if got := f.sess.Snapshot().State; got != StateConnected {
		t.Errorf("state = %v, want Connected", got)
	}

	// Later Connected determinations are no-ops.
	f.sess.OnEngineEvent(negotiate.EventConnected)
	if got := f.sess.Snapshot().State; got != StateConnected {
		t.Errorf("state changed on duplicate Connected: %v", got)
	}
}

func TestSendMessageOptimisticAppend(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	if err := f.sess.SendMessage("  hello  "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	snap := f.sess.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(snap.Messages))
	}
	msg := snap.Messages[0]
	if !msg.Own || msg.Text != "hello" || msg.SenderName != "alice" {
		t.Errorf("message = %+v", msg)
	}
	if len(f.transport.chats) != 1 || f.transport.chats[0] != "hello" {
		t.Errorf("published chats = %v", f.transport.chats)
	}
}

func TestSendMessageOutsideCall(t *testing.T) {
	f := newFixture(t)
	if err := f.sess.SendMessage("hello"); err != ErrInvalidState {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if err := f.sess.SendMessage("   "); err != nil {
		t.Errorf("blank message error = %v, want nil", err)
	}
}

func TestInboundChatRecipientFilter(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.Handlers().OnChatMessage(domain.ChatMessage{
		ID: 1, CallID: 1, SenderID: 9, SenderName: "bob",
		RecipientID: 5, Message: "hi",
	})
	f.sess.Handlers().OnChatMessage(domain.ChatMessage{
		ID: 2, CallID: 1, SenderID: 9, SenderName: "bob",
		RecipientID: 77, Message: "not for us",
	})

	snap := f.sess.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(snap.Messages))
	}
	if snap.Messages[0].Own || snap.Messages[0].Text != "hi" {
		t.Errorf("message = %+v", snap.Messages[0])
	}
}

func TestChatLogClearedOnSkip(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	if err := f.sess.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.sess.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if got := len(f.sess.Snapshot().Messages); got != 0 {
		t.Errorf("messages after skip = %d, want 0", got)
	}
}

func TestTypingIndicatorExpires(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.Handlers().OnTyping(domain.TypingIndicator{CallID: 1, UserID: 9, IsTyping: true})
	if !f.sess.Snapshot().PeerTyping {
		t.Fatalf("peer typing not set")
	}

	deadline := time.After(time.Second)
	for f.sess.Snapshot().PeerTyping {
		select {
		case <-deadline:
			t.Fatal("typing indicator never expired")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestTypingIndicatorRestartsCountdown(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	// Keep signaling faster than the TTL; the flag must stay up.
	for i := 0; i < 5; i++ {
		f.sess.Handlers().OnTyping(domain.TypingIndicator{CallID: 1, UserID: 9, IsTyping: true})
		time.Sleep(10 * time.Millisecond)
		if !f.sess.Snapshot().PeerTyping {
			t.Fatalf("typing flag dropped between signals (iteration %d)", i)
		}
	}
}

func TestSignalsForwardedToEngine(t *testing.T) {
	f := newFixture(t)
	f.startCall(t)

	f.sess.Handlers().OnSignal(domain.Signal{Kind: domain.SignalOffer, CallID: 1})

	f.engine.mu.Lock()
	got := len(f.engine.signals)
	f.engine.mu.Unlock()
	if got != 1 {
		t.Errorf("signals forwarded = %d, want 1", got)
	}
}
