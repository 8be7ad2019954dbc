package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the signaling websocket endpoint: matchmaking commands,
// negotiation relay, and chat relay between matched peers.
type Controller struct {
	Registry *Registry
	Match    *Matchmaker
	Store    *CallStore

	chatLimiter *ChatRateLimiter
	nextMsgID   atomic.Int64
}

func NewController(reg *Registry, match *Matchmaker, store *CallStore) *Controller {
	return &Controller{
		Registry:    reg,
		Match:       match,
		Store:       store,
		chatLimiter: NewChatRateLimiter(10, time.Second),
	}
}

// HandleWS upgrades the request and runs the pumps until disconnect.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	user := ctl.Registry.GetOrCreateUser(token, c.Query("name"))
	log.Info().Str("module", "server.signal").Int64("user_id", int64(user.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := newWSConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(user, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, user, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "server.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "server.signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, user *domain.User, c *wsConn) {
	defer func() {
		log.Info().Str("module", "server.signal").Int64("user_id", int64(user.ID)).Msg("readPump closing")
		ctl.disconnect(user, c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "server.signal").Int64("user_id", int64(user.ID)).Msg("readPump read error")
				return
			}
			ctl.handleCommand(user, c, data)
		}
	}
}

func (ctl *Controller) handleCommand(user *domain.User, c *wsConn, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("bad json")
		return
	}

	switch env.Type {
	case domain.CmdJoinQueue:
		ctl.handleJoinQueue(user, c)
	case domain.CmdLeaveQueue:
		ctl.handleLeaveQueue(user, c)
	case domain.CmdNextPerson:
		ctl.handleNextPerson(user, c)
	case domain.CmdEndCall:
		ctl.handleEndCall(user, env.Data)
	case domain.CmdSignal:
		ctl.handleRelaySignal(user, env.Data)
	case domain.CmdChat:
		ctl.handleChat(user, c, env.Data)
	case domain.CmdTyping:
		ctl.handleTyping(user, env.Data)
	case domain.CmdPing:
		ctl.send(c, domain.EvtPong, nil)
	default:
		log.Warn().Str("module", "server.signal").Str("type", env.Type).Msg("unknown command")
	}
}

func (ctl *Controller) handleJoinQueue(user *domain.User, c *wsConn) {
	p, matched := ctl.Match.Join(user)
	if !matched {
		ctl.send(c, domain.EvtQueueStatus, domain.StatusMessage{
			Message: "Searching for someone to talk to...",
			Status:  "waiting",
		})
		return
	}
	ctl.Store.Create(p.CallID, p.A, p.B)
	ctl.announceMatch(p)
}

func (ctl *Controller) handleLeaveQueue(user *domain.User, c *wsConn) {
	ctl.Match.Leave(user.ID)
	ctl.send(c, domain.EvtQueueStatus, domain.StatusMessage{
		Message: "Left the queue",
		Status:  "idle",
	})
}

// handleNextPerson ends the current call, tells the abandoned peer, and
// puts the skipper straight back into the queue.
func (ctl *Controller) handleNextPerson(user *domain.User, c *wsConn) {
	if p, ok := ctl.Match.CallOf(user.ID); ok {
		ctl.endCall(p, user.ID, "skipped")
	}
	ctl.handleJoinQueue(user, c)
}

func (ctl *Controller) handleEndCall(user *domain.User, data []byte) {
	var req domain.EndCallRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("bad end-call payload")
		return
	}
	p, ok := ctl.Match.CallOf(user.ID)
	if !ok || p.CallID != req.CallID {
		return
	}
	ctl.endCall(p, user.ID, "ended")
}

// handleRelaySignal forwards a negotiation signal to the sender's current
// peer. The sender id is stamped server-side; a target outside the
// sender's call is dropped.
func (ctl *Controller) handleRelaySignal(user *domain.User, data []byte) {
	var sig domain.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("bad signal payload")
		return
	}
	p, ok := ctl.Match.CallOf(user.ID)
	if !ok || p.CallID != sig.CallID {
		log.Warn().Str("module", "server.signal").
			Int64("user_id", int64(user.ID)).
			Int64("call_id", int64(sig.CallID)).
			Msg("signal outside active call")
		return
	}
	peer := p.Peer(user.ID)
	if sig.TargetUserID != 0 && sig.TargetUserID != peer.ID {
		log.Warn().Str("module", "server.signal").Int64("user_id", int64(user.ID)).Msg("signal target is not call peer")
		return
	}
	sig.SenderID = user.ID
	sig.TargetUserID = peer.ID
	ctl.sendTo(peer.ID, domain.EvtSignal, sig)
}

func (ctl *Controller) handleChat(user *domain.User, c *wsConn, data []byte) {
	var req domain.SendChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("bad chat payload")
		return
	}
	if !ctl.chatLimiter.Allow(user.ID) {
		ctl.send(c, domain.EvtError, domain.TransportError{Error: "slow down", Code: "rate-limited"})
		return
	}
	p, ok := ctl.Match.CallOf(user.ID)
	if !ok || p.CallID != req.CallID || req.Message == "" {
		return
	}
	peer := p.Peer(user.ID)
	msg := domain.ChatMessage{
		ID:          ctl.nextMsgID.Add(1),
		CallID:      p.CallID,
		SenderID:    user.ID,
		SenderName:  user.Username,
		RecipientID: peer.ID,
		Message:     req.Message,
		SentAt:      time.Now(),
	}
	ctl.sendTo(peer.ID, domain.EvtChatMessage, msg)
}

func (ctl *Controller) handleTyping(user *domain.User, data []byte) {
	var req domain.SendTypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	p, ok := ctl.Match.CallOf(user.ID)
	if !ok || p.CallID != req.CallID {
		return
	}
	ctl.sendTo(p.Peer(user.ID).ID, domain.EvtTyping, domain.TypingIndicator{
		CallID:   p.CallID,
		UserID:   user.ID,
		IsTyping: true,
	})
}

// disconnect tears down whatever the user was in the middle of, unless a
// newer connection for the same user has already taken over, in which case
// the queue slot and any live call stay untouched.
func (ctl *Controller) disconnect(user *domain.User, c *wsConn) {
	if !ctl.Registry.Unbind(user.ID, c) {
		log.Info().Str("module", "server.signal").Int64("user_id", int64(user.ID)).Msg("stale connection closed, user reconnected")
		return
	}
	ctl.Match.Leave(user.ID)
	if p, ok := ctl.Match.CallOf(user.ID); ok {
		ctl.endCall(p, user.ID, "disconnected")
	}
}

// endCall removes the pairing, finishes the record, and notifies both
// sides. The initiator is told too so a skip on one tab settles all tabs.
func (ctl *Controller) endCall(p *Pairing, by domain.UserID, reason string) {
	if _, ok := ctl.Match.End(p.CallID); !ok {
		return
	}
	if reason == "ended" {
		_, _ = ctl.Store.End(p.CallID)
	} else {
		_, _ = ctl.Store.Cancel(p.CallID)
	}
	ended := domain.CallEnded{CallID: p.CallID, Reason: reason}
	ctl.sendTo(p.Peer(by).ID, domain.EvtCallEnded, ended)
	ctl.sendTo(by, domain.EvtCallEnded, ended)
}

func (ctl *Controller) announceMatch(p *Pairing) {
	ctl.sendTo(p.A.ID, domain.EvtMatchFound, domain.MatchFound{
		CallID:   p.CallID,
		PeerID:   p.B.ID,
		PeerName: p.B.Username,
	})
	ctl.sendTo(p.B.ID, domain.EvtMatchFound, domain.MatchFound{
		CallID:   p.CallID,
		PeerID:   p.A.ID,
		PeerName: p.A.Username,
	})
}

func (ctl *Controller) sendTo(uid domain.UserID, typ string, payload any) {
	conn, ok := ctl.Registry.Conn(uid)
	if !ok {
		log.Warn().Str("module", "server.signal").Int64("user_id", int64(uid)).Str("type", typ).Msg("no connection for event")
		return
	}
	ctl.send(conn, typ, payload)
}

func (ctl *Controller) send(c *wsConn, typ string, payload any) {
	env, err := domain.NewEnvelope(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("envelope marshal")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "server.signal").Msg("envelope marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "server.signal").Str("type", typ).Msg("send dropped")
	}
}
