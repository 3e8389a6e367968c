// Package transport is the real-time side of the server: a hub of WebSocket
// connections addressed by the user's contact address. A user may hold any
// number of connections and every push fans out to all of them.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
	"uk.co.dudmesh.roost/internal/model"
)

const ErrorsChannel = "/queue/errors"

var ErrNotConnected = errors.New("user has no open connection")

// Frame is what the server writes to a connection.
type Frame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// Command is what a client writes to the server.
type Command struct {
	Type           string               `json:"type"`
	ConversationID model.ConversationID `json:"conversationId,omitempty"`
	MessageID      model.MessageID      `json:"messageId,omitempty"`
	Content        string               `json:"content,omitempty"`
	MessageType    string               `json:"messageType,omitempty"`
}

// Lifecycle receives connection open and close events. first and last say
// whether the connection is the user's only one. Connected and Disconnected for
// the same user never overlap and run in the order the hub counted them.
// Ready follows Connected once the connection is registered, outside that
// ordering, so slow work there does not hold up other connections.
type Lifecycle interface {
	Connected(ctx context.Context, user model.User, first bool)
	Ready(ctx context.Context, user model.User)
	Disconnected(ctx context.Context, user model.User, last bool)
}

// CommandHandler answers one client command. A returned frame is written back
// to the same connection; a returned error is written to ErrorsChannel.
type CommandHandler func(ctx context.Context, user model.User, command *Command) (*Frame, error)

type conn struct {
	id   string
	user model.User
	ws   *websocket.Conn
	mu   sync.Mutex
}

func (c *conn) write(frame *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.ws, frame)
}

type Hub struct {
	mu        sync.RWMutex
	conns     map[model.UserAddress]map[string]*conn
	lifecycle Lifecycle
	// transitions orders open and close events per user
	transitions addressLocks
	gauge       prometheus.Gauge
	logger      *log.Logger
}

func NewHub(registerer prometheus.Registerer) *Hub {
	return &Hub{
		conns: map[model.UserAddress]map[string]*conn{},
		gauge: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Namespace: "roost",
			Subsystem: "transport",
			Name:      "open_connections",
			Help:      "Open WebSocket connections.",
		}),
		logger: log.New("transport"),
	}
}

// SetLifecycle must be called before the hub serves connections.
func (h *Hub) SetLifecycle(lifecycle Lifecycle) {
	h.lifecycle = lifecycle
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.conns[c.user.Address]
	if !ok {
		conns = map[string]*conn{}
		h.conns[c.user.Address] = conns
	}
	conns[c.id] = c
	h.gauge.Inc()
	return len(conns) == 1
}

func (h *Hub) remove(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[c.user.Address]
	if _, ok := conns[c.id]; !ok {
		return false
	}
	delete(conns, c.id)
	h.gauge.Dec()
	if len(conns) == 0 {
		delete(h.conns, c.user.Address)
		return true
	}
	return false
}

func (h *Hub) connectionsOf(address model.UserAddress) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*conn, 0, len(h.conns[address]))
	for _, c := range h.conns[address] {
		conns = append(conns, c)
	}
	return conns
}

// Connections returns how many connections the user holds on this instance.
func (h *Hub) Connections(address model.UserAddress) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[address])
}

// PushToUser writes the payload to every connection of the user. It fails
// with ErrNotConnected when there is none.
func (h *Hub) PushToUser(ctx context.Context, address model.UserAddress, channel string, payload any) error {
	conns := h.connectionsOf(address)
	if len(conns) == 0 {
		return ErrNotConnected
	}

	frame := &Frame{Channel: channel, Payload: payload}
	var errs []error
	for _, c := range conns {
		if err := c.write(frame); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs one connection until the client goes away.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, user model.User, handle CommandHandler) {
	c := &conn{id: cuid2.Generate(), user: user, ws: ws}
	h.open(ctx, c)
	defer h.close(ctx, c)

	if h.lifecycle != nil {
		h.lifecycle.Ready(ctx, user)
	}

	for {
		command := &Command{}
		if err := websocket.JSON.Receive(ws, command); err != nil {
			if isMalformed(err) {
				if err := c.write(&Frame{Channel: ErrorsChannel, Payload: errorMalformed}); err != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				h.logger.Warnf("reading from connection %s: %+v", c.id, err)
			}
			return
		}

		reply, err := handle(ctx, user, command)
		if err != nil {
			reply = &Frame{Channel: ErrorsChannel, Payload: errorPayload(err)}
		}
		if reply == nil {
			continue
		}
		if err := c.write(reply); err != nil {
			h.logger.Warnf("writing to connection %s: %+v", c.id, err)
			return
		}
	}
}

func (h *Hub) open(ctx context.Context, c *conn) {
	unlock := h.transitions.lock(c.user.Address)
	defer unlock()

	first := h.add(c)
	h.logger.Infof("connection %s opened for %s", c.id, c.user.ID)
	if h.lifecycle != nil {
		h.lifecycle.Connected(ctx, c.user, first)
	}
}

func (h *Hub) close(ctx context.Context, c *conn) {
	unlock := h.transitions.lock(c.user.Address)
	defer unlock()

	last := h.remove(c)
	c.ws.Close()
	h.logger.Infof("connection %s closed for %s", c.id, c.user.ID)
	if h.lifecycle != nil {
		h.lifecycle.Disconnected(ctx, c.user, last)
	}
}

const lockStripes = 64

type addressLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *addressLocks) lock(address model.UserAddress) func() {
	m := &l.stripes[xxhash.Sum64String(string(address))%lockStripes]
	m.Lock()
	return m.Unlock
}

var errorMalformed = &model.AppError{Code: model.CodeInvalidArgument, Message: "malformed command"}

func isMalformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func errorPayload(err error) *model.AppError {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &model.AppError{Code: model.CodeInternal, Message: "internal error"}
}
