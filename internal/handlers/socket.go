package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"
	"uk.co.dudmesh.roost/internal/model"
	"uk.co.dudmesh.roost/internal/transport"
)

const (
	PongChannel = "/queue/pong"
	ReadChannel = "/queue/read"
)

type Hub interface {
	Serve(ctx context.Context, ws *websocket.Conn, user model.User, handle transport.CommandHandler)
}

// commands answers the frames a connected client may send.
func commands(svc MessagingService, router Router) transport.CommandHandler {
	return func(ctx context.Context, user model.User, command *transport.Command) (*transport.Frame, error) {
		switch command.Type {
		case "send":
			_, err := send(ctx, svc, router, user, command.ConversationID, command.Content, command.MessageType)
			// the sender's confirmation arrives through the router
			return nil, err
		case "read":
			var marked any
			var err error
			if command.MessageID != "" {
				marked, err = svc.MarkMessageRead(ctx, command.ConversationID, command.MessageID, user.ID)
			} else {
				marked, err = svc.MarkMessagesAsRead(ctx, command.ConversationID, user.ID)
			}
			if err != nil {
				return nil, err
			}
			return &transport.Frame{Channel: ReadChannel, Payload: map[string]any{"conversationId": command.ConversationID, "marked": marked}}, nil
		case "ping":
			router.Heartbeat(ctx, user)
			return &transport.Frame{Channel: PongChannel, Payload: nil}, nil
		}
		return nil, &model.AppError{Code: model.CodeInvalidArgument, Message: fmt.Sprintf("unknown command %q", command.Type)}
	}
}

func checkOrigin(origins []string) func(*websocket.Config, *http.Request) error {
	allowed := map[string]bool{}
	for _, origin := range origins {
		allowed[origin] = true
	}
	return func(config *websocket.Config, req *http.Request) error {
		origin, err := websocket.Origin(config, req)
		if err != nil {
			return err
		}
		if allowed["*"] {
			return nil
		}
		if origin == nil || !allowed[(&url.URL{Scheme: origin.Scheme, Host: origin.Host}).String()] {
			return fmt.Errorf("origin %v not allowed", origin)
		}
		return nil
	}
}

// Socket upgrades to a WebSocket for the authenticated principal. Opening it
// triggers presence and replay through the hub's lifecycle.
func Socket(hub Hub, svc MessagingService, router Router, origins []string) echo.HandlerFunc {
	handle := commands(svc, router)
	return func(c echo.Context) error {
		user := principal(c)
		server := websocket.Server{
			Handshake: checkOrigin(origins),
			Handler: func(ws *websocket.Conn) {
				hub.Serve(context.Background(), ws, user, handle)
			},
		}
		server.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
