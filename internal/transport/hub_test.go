package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
	"uk.co.dudmesh.roost/internal/model"
)

type event struct {
	user model.UserID
	open bool
	flag bool
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Connected(ctx context.Context, user model.User, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{user.ID, true, first})
}

func (r *recorder) Ready(ctx context.Context, user model.User) {}

func (r *recorder) Disconnected(ctx context.Context, user model.User, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{user.ID, false, last})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

var alice = model.User{ID: "a", Address: "a@uni.edu"}

func answer(ctx context.Context, user model.User, command *Command) (*Frame, error) {
	switch command.Type {
	case "ping":
		return &Frame{Channel: "/queue/pong", Payload: command.Type}, nil
	case "fail":
		return nil, model.ErrorConversationNotFoundOrForbidden
	}
	return nil, nil
}

func newServer(t *testing.T) (*Hub, *recorder, string) {
	hub := NewHub(prometheus.NewRegistry())
	events := &recorder{}
	hub.SetLifecycle(events)

	server := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		hub.Serve(context.Background(), ws, alice, answer)
	}))
	t.Cleanup(server.Close)
	return hub, events, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	ws, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	return ws
}

func receive(t *testing.T, ws *websocket.Conn) map[string]any {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	frame := map[string]any{}
	require.NoError(t, websocket.JSON.Receive(ws, &frame))
	return frame
}

func TestPushFansOutToEveryConnection(t *testing.T) {
	hub, events, url := newServer(t)

	first := dial(t, url)
	defer first.Close()
	second := dial(t, url)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.Connections(alice.Address) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(events.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)

	err := hub.PushToUser(context.Background(), alice.Address, "/queue/messages", map[string]string{"content": "hello"})
	require.NoError(t, err)

	for _, ws := range []*websocket.Conn{first, second} {
		frame := receive(t, ws)
		assert.Equal(t, "/queue/messages", frame["channel"])
		assert.Equal(t, map[string]any{"content": "hello"}, frame["payload"])
	}

	assert.ElementsMatch(t, []event{{alice.ID, true, true}, {alice.ID, true, false}}, events.snapshot())

	first.Close()
	require.Eventually(t, func() bool { return hub.Connections(alice.Address) == 1 }, 5*time.Second, 10*time.Millisecond)
	second.Close()
	require.Eventually(t, func() bool { return hub.Connections(alice.Address) == 0 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(events.snapshot()) == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []event{{alice.ID, false, false}, {alice.ID, false, true}}, events.snapshot()[2:])
}

func TestPushToAbsentUser(t *testing.T) {
	hub := NewHub(prometheus.NewRegistry())
	err := hub.PushToUser(context.Background(), "nobody@uni.edu", "/queue/messages", "x")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCommands(t *testing.T) {
	_, _, url := newServer(t)
	ws := dial(t, url)
	defer ws.Close()

	require.NoError(t, websocket.JSON.Send(ws, &Command{Type: "ping"}))
	frame := receive(t, ws)
	assert.Equal(t, "/queue/pong", frame["channel"])

	require.NoError(t, websocket.JSON.Send(ws, &Command{Type: "fail"}))
	frame = receive(t, ws)
	assert.Equal(t, ErrorsChannel, frame["channel"])
	assert.Equal(t, "NOT_FOUND", frame["payload"].(map[string]any)["code"])

	require.NoError(t, websocket.Message.Send(ws, "{not json"))
	frame = receive(t, ws)
	assert.Equal(t, ErrorsChannel, frame["channel"])
	assert.Equal(t, "INVALID_ARGUMENT", frame["payload"].(map[string]any)["code"])

	// still usable after a bad frame
	require.NoError(t, websocket.JSON.Send(ws, &Command{Type: "ping"}))
	frame = receive(t, ws)
	assert.Equal(t, "/queue/pong", frame["channel"])
}

// presenceTracker mirrors how the delivery router maps lifecycle events onto
// presence, with a slow close hook.
type presenceTracker struct {
	mu     sync.Mutex
	online bool
	delay  time.Duration
}

func (p *presenceTracker) Connected(ctx context.Context, user model.User, first bool) {
	if !first {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = true
}

func (p *presenceTracker) Ready(ctx context.Context, user model.User) {}

func (p *presenceTracker) Disconnected(ctx context.Context, user model.User, last bool) {
	if !last {
		return
	}
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = false
}

func (p *presenceTracker) isOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func TestReconnectDuringCloseStaysOnline(t *testing.T) {
	hub := NewHub(prometheus.NewRegistry())
	tracker := &presenceTracker{delay: 200 * time.Millisecond}
	hub.SetLifecycle(tracker)

	server := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		hub.Serve(context.Background(), ws, alice, answer)
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	first := dial(t, url)
	require.Eventually(t, tracker.isOnline, 5*time.Second, 10*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return hub.Connections(alice.Address) == 0 }, 5*time.Second, time.Millisecond)

	// opens while the close hook of the first connection is still running
	second := dial(t, url)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.Connections(alice.Address) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(2 * tracker.delay)

	assert := assert.New(t)
	assert.Equal(1, hub.Connections(alice.Address))
	assert.True(tracker.isOnline())
}
