package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.roost/internal/model"
)

type MessagingService interface {
	CreateOrGetConversation(ctx context.Context, initiator, other model.UserID, listingID model.ListingID) (*model.Conversation, error)
	ListConversations(ctx context.Context, user model.UserID) ([]*model.ConversationSummary, error)
	ListConversationPage(ctx context.Context, user model.UserID, request model.PageRequest) (*model.Page[*model.ConversationSummary], error)
	GetConversation(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error)
	DeactivateConversation(ctx context.Context, id model.ConversationID, user model.UserID) error
	ValidateConversationIntegrity(ctx context.Context, id model.ConversationID, user model.UserID) error

	SendMessage(ctx context.Context, id model.ConversationID, sender model.UserID, content string, messageType model.MessageType) (*model.Message, error)
	EditMessage(ctx context.Context, id model.ConversationID, messageID model.MessageID, editor model.UserID, content string) (*model.Message, error)
	ListMessages(ctx context.Context, id model.ConversationID, user model.UserID) ([]*model.Message, error)
	ListMessagePage(ctx context.Context, id model.ConversationID, user model.UserID, request model.PageRequest) (*model.Page[*model.Message], error)
	RecentMessages(ctx context.Context, id model.ConversationID, user model.UserID, since time.Time) ([]*model.Message, error)
	MarkMessagesAsRead(ctx context.Context, id model.ConversationID, user model.UserID) (int64, error)
	MarkMessageRead(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) (bool, error)
	StatusFor(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) (model.StatusValue, error)
	StatusHistory(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) ([]*model.MessageStatus, error)
	UnreadCount(ctx context.Context, id model.ConversationID, user model.UserID) (int, error)
	GetTotalUnreadMessageCount(ctx context.Context, user model.UserID) (int, error)

	IsOnline(ctx context.Context, user model.UserID) (bool, error)
	OnlineCount(ctx context.Context) (int, error)
}

type CreateConversationParams struct {
	OtherUserID model.UserID    `json:"otherUserId"`
	ListingID   model.ListingID `json:"listingId"`
}

func conversationID(c echo.Context) model.ConversationID {
	return model.ConversationID(c.Param("id"))
}

// pageRequest reports whether the caller asked for a page at all.
func pageRequest(c echo.Context) (model.PageRequest, bool, error) {
	request := model.PageRequest{Size: model.DefaultPageSize}
	if c.QueryParam("page") == "" && c.QueryParam("size") == "" {
		return request, false, nil
	}
	err := echo.QueryParamsBinder(c).
		Int("page", &request.Page).
		Int("size", &request.Size).
		BindError()
	if err != nil {
		return request, true, model.ErrorInvalidPageRequest
	}
	return request, true, nil
}

func CreateConversation(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &CreateConversationParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		if params.OtherUserID == "" || params.ListingID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "otherUserId and listingId are required")
		}
		conversation, err := svc.CreateOrGetConversation(c.Request().Context(), principal(c).ID, params.OtherUserID, params.ListingID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, conversation)
	}
}

func ListConversations(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := principal(c).ID
		request, paged, err := pageRequest(c)
		if err != nil {
			return err
		}
		if paged {
			page, err := svc.ListConversationPage(c.Request().Context(), user, request)
			if err != nil {
				return err
			}
			return c.JSON(http.StatusOK, page)
		}

		conversations, err := svc.ListConversations(c.Request().Context(), user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, conversations)
	}
}

func GetConversation(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		conversation, err := svc.GetConversation(c.Request().Context(), conversationID(c), principal(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, conversation)
	}
}

func DeleteConversation(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeactivateConversation(c.Request().Context(), conversationID(c), principal(c).ID); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func CheckIntegrity(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.ValidateConversationIntegrity(c.Request().Context(), conversationID(c), principal(c).ID); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]bool{"valid": true})
	}
}

func TotalUnread(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		count, err := svc.GetTotalUnreadMessageCount(c.Request().Context(), principal(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"unread": count})
	}
}

func Presence(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := model.UserID(c.Param("userId"))
		online, err := svc.IsOnline(c.Request().Context(), user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"userId": user, "online": online})
	}
}

func OnlineCount(svc MessagingService) echo.HandlerFunc {
	return func(c echo.Context) error {
		count, err := svc.OnlineCount(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"online": count})
	}
}
