// Package ws implements the signaling transport client over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("transport not connected")
)

const (
	defaultSendBuffer = 32
	writeDeadline     = 5 * time.Second
)

type Config struct {
	URL   string
	Token string
	// PingPeriod keeps the connection alive. Zero means 54s.
	PingPeriod time.Duration
	// ReadLimit bounds inbound frames. Zero means no limit.
	ReadLimit int64
}

// Client is the websocket signaling transport. Implements
// core.SignalTransport. One instance per process, injected where needed.
type Client struct {
	cfg Config

	hmu      sync.RWMutex
	handlers core.EventHandlers

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	connected bool
}

func NewClient(cfg Config) *Client {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 54 * time.Second
	}
	return &Client{cfg: cfg}
}

// UpdateHandlers swaps the inbound event handlers. Handlers registered
// after Connect still see subsequent events.
func (c *Client) UpdateHandlers(h core.EventHandlers) {
	c.hmu.Lock()
	c.handlers = h
	c.hmu.Unlock()
}

func (c *Client) eventHandlers() core.EventHandlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

// Connect dials the signaling endpoint with the bearer token and starts
// the pump goroutines.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.conn = conn
	c.send = make(chan []byte, defaultSendBuffer)
	c.closed = make(chan struct{})
	c.connected = true

	go c.writePump(c.conn, c.send, c.closed)
	go c.readPump(c.conn, c.closed)
	go c.pingLoop(c.conn, c.closed)

	log.Info().Str("module", "ws").Str("url", c.cfg.URL).Msg("signaling connected")
	if h := c.eventHandlers(); h.OnConnect != nil {
		h.OnConnect()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	close(c.closed)
	_ = c.conn.Close()
	c.mu.Unlock()

	log.Info().Str("module", "ws").Msg("signaling closed")
	if h := c.eventHandlers(); h.OnDisconnect != nil {
		h.OnDisconnect()
	}
}

// Commands.

func (c *Client) JoinQueue() error  { return c.sendEnvelope(domain.CmdJoinQueue, nil) }
func (c *Client) LeaveQueue() error { return c.sendEnvelope(domain.CmdLeaveQueue, nil) }
func (c *Client) NextPerson() error { return c.sendEnvelope(domain.CmdNextPerson, nil) }

func (c *Client) EndCall(id domain.CallID) error {
	return c.sendEnvelope(domain.CmdEndCall, domain.EndCallRequest{CallID: id})
}

func (c *Client) SendSignal(sig domain.Signal) error {
	return c.sendEnvelope(domain.CmdSignal, sig)
}

func (c *Client) SendChatMessage(id domain.CallID, text string) error {
	return c.sendEnvelope(domain.CmdChat, domain.SendChatRequest{CallID: id, Message: text})
}

func (c *Client) SendTyping(id domain.CallID) error {
	return c.sendEnvelope(domain.CmdTyping, domain.SendTypingRequest{CallID: id})
}

func (c *Client) sendEnvelope(typ string, payload any) error {
	env, err := domain.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (c *Client) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte, closed <-chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, closed <-chan struct{}) {
	defer c.Close()

	for {
		select {
		case <-closed:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closed:
			default:
				log.Error().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, closed <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("ping error")
				return
			}
		}
	}
}

// dispatch decodes one inbound envelope and routes it to the handler for
// its type. Unknown or malformed input is logged and dropped, never fatal.
func (c *Client) dispatch(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad envelope")
		return
	}

	h := c.eventHandlers()
	switch env.Type {
	case domain.EvtQueueStatus:
		decodeInto(env.Data, h.OnStatus)
	case domain.EvtMatchFound:
		decodeInto(env.Data, h.OnMatchFound)
	case domain.EvtSignal:
		decodeInto(env.Data, h.OnSignal)
	case domain.EvtChatMessage:
		decodeInto(env.Data, h.OnChatMessage)
	case domain.EvtTyping:
		decodeInto(env.Data, h.OnTyping)
	case domain.EvtCallEnded:
		decodeInto(env.Data, h.OnCallEnded)
	case domain.EvtError:
		decodeInto(env.Data, h.OnError)
	case domain.EvtPong:
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
	}
}

func decodeInto[T any](data []byte, handler func(T)) {
	if handler == nil {
		return
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad event payload")
		return
	}
	handler(v)
}
