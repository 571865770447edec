// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// ============================================================================
// WIRE TYPES
// ============================================================================

// ServerMessage is sent to clients.
type ServerMessage struct {
	Type  string    `json:"type"`
	Seq   uint64    `json:"seq,omitempty"`
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// ClientMessage is received from clients.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Client message types.
const (
	MsgUtterance = "utterance"
	MsgStop      = "stop"
	MsgClear     = "clear"
	MsgTTS       = "tts"
	MsgUnload    = "unload"
)

// Server-only message types beyond the event kinds.
const (
	MsgHello = "hello"
	MsgError = "error"
)

func eventMessage(e events.Event) ServerMessage {
	msg := ServerMessage{Type: e.Kind.String(), Seq: e.Seq, Text: e.Text, At: e.At}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// ============================================================================
// HUB
// ============================================================================

// Hub fans bus events out to WebSocket clients.
type Hub struct {
	bus   *events.Bus
	ctl   Controller
	stats *Stats
	log   zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues data without blocking. It reports false when the client is
// gone or too slow to keep up.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// NewHub creates a hub reading from bus.
func NewHub(bus *events.Bus, ctl Controller, stats *Stats, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		ctl:     ctl,
		stats:   stats,
		log:     logger,
		clients: make(map[string]*client),
	}
}

// Run consumes the bus until ctx is done or the bus closes. It must be the
// only bus consumer.
func (h *Hub) Run(ctx context.Context) {
	h.bus.Run(ctx, h.broadcast)
	h.closeAll()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(e events.Event) {
	data, err := json.Marshal(eventMessage(e))
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}
	h.stats.recordEvent()

	h.mu.Lock()
	var slow []*client
	for _, c := range h.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn().Str("client", c.id).Msg("dropping slow client")
		h.stats.recordDropped()
		h.remove(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// attach registers an upgraded connection and runs it until it closes.
func (h *Hub) attach(ctx context.Context, conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	hello, _ := json.Marshal(ServerMessage{Type: MsgHello, Text: c.id, At: time.Now()})
	c.enqueue(hello)
	h.add(c)
	h.log.Info().Str("client", c.id).Msg("client connected")

	go h.writePump(c)
	h.readPump(ctx, c)

	h.remove(c)
	h.log.Info().Str("client", c.id).Msg("client disconnected")
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client", c.id).Msg("read failed")
			}
			return
		}
		h.dispatch(ctx, c, msg)
	}
}

// dispatch runs a client request off the read loop. Handlers such as Stop
// wait for the stream's final event, which the hub must keep draining.
func (h *Hub) dispatch(ctx context.Context, c *client, msg ClientMessage) {
	switch msg.Type {
	case MsgUtterance:
		go func() {
			out, err := h.ctl.Handle(ctx, msg.Text)
			if err != nil {
				h.reply(c, err)
				return
			}
			h.stats.recordDecision(out.Decision)
		}()
	case MsgStop:
		go h.ctl.Stop()
	case MsgClear:
		go h.ctl.Clear()
	case MsgTTS:
		go h.ctl.ToggleTTS()
	case MsgUnload:
		go h.ctl.SwitchContext()
	default:
		h.reply(c, errors.New("unknown message type: "+msg.Type))
	}
}

func (h *Hub) reply(c *client, err error) {
	if errors.Is(err, dialogue.ErrEmptyUtterance) {
		err = errors.New("utterance is empty")
	}
	data, _ := json.Marshal(ServerMessage{Type: MsgError, Error: err.Error(), At: time.Now()})
	c.enqueue(data)
}
