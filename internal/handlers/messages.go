package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.roost/internal/delivery"
	"uk.co.dudmesh.roost/internal/model"
)

type Router interface {
	Route(ctx context.Context, sender model.User, message *model.Message) delivery.Outcome
	RouteEdit(ctx context.Context, editor model.User, message *model.Message) delivery.Outcome
	Heartbeat(ctx context.Context, user model.User)
}

type SendMessageParams struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type EditMessageParams struct {
	Content string `json:"content"`
}

func messageID(c echo.Context) model.MessageID {
	return model.MessageID(c.Param("messageId"))
}

// send stores the message first; routing only starts once it is durable.
func send(ctx context.Context, svc MessagingService, router Router, sender model.User, id model.ConversationID, content, rawType string) (*model.Message, error) {
	messageType, err := model.ParseMessageType(rawType)
	if err != nil {
		return nil, err
	}
	message, err := svc.SendMessage(ctx, id, sender.ID, content, messageType)
	if err != nil {
		return nil, err
	}
	router.Route(ctx, sender, message)
	return message, nil
}

func SendMessage(svc MessagingService, router Router) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &SendMessageParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		message, err := send(c.Request().Context(), svc, router, principal(c), conversationID(c), params.Content, params.Type)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, message)
	}
}

func EditMessage(svc MessagingService, router Router) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &EditMessageParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		editor := principal(c)
		message, err := svc.EditMessage(c.Request().Context(), conversationID(c), messageID(c), editor.ID, params.Content)
		if err != nil {
			return err
		}
		router.RouteEdit(c.Request().Context(), editor, message)
		return c.JSON(http.StatusOK, message)
	}
}

// ListMessages pages newest-first when asked for a page, otherwise returns the
// whole history oldest-first.
func ListMessages(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := principal(c).ID
		request, paged, err := pageRequest(c)
		if err != nil {
			return err
		}
		if paged {
			page, err := svc.ListMessagePage(c.Request().Context(), conversationID(c), user, request)
			if err != nil {
				return err
			}
			return c.JSON(http.StatusOK, page)
		}

		messages, err := svc.ListMessages(c.Request().Context(), conversationID(c), user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messages)
	}
}

func RecentMessages(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		since, err := time.Parse(time.RFC3339Nano, c.QueryParam("since"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		messages, err := svc.RecentMessages(c.Request().Context(), conversationID(c), principal(c).ID, since)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messages)
	}
}

func MarkConversationRead(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		marked, err := svc.MarkMessagesAsRead(c.Request().Context(), conversationID(c), principal(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int64{"marked": marked})
	}
}

func MarkMessageRead(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		marked, err := svc.MarkMessageRead(c.Request().Context(), conversationID(c), messageID(c), principal(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]bool{"marked": marked})
	}
}

type MessageStatusResponse struct {
	Status  model.StatusValue      `json:"status"`
	History []*model.MessageStatus `json:"history"`
}

func MessageStatus(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := principal(c).ID
		status, err := svc.StatusFor(ctx, conversationID(c), messageID(c), user)
		if err != nil {
			return err
		}
		history, err := svc.StatusHistory(ctx, conversationID(c), messageID(c), user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &MessageStatusResponse{Status: status, History: history})
	}
}

func ConversationUnread(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		count, err := svc.UnreadCount(c.Request().Context(), conversationID(c), principal(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"unread": count})
	}
}
