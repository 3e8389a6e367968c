package handlers

import (
	"github.com/labstack/echo/v4"
)

type Options struct {
	Secret  []byte
	Origins []string
}

// Register mounts the chat API on the server.
func Register(server *echo.Echo, svc MessagingService, router Router, hub Hub, options Options) {
	api := server.Group("", Authenticate(options.Secret))

	api.POST("/conversations", CreateConversation(svc))
	api.GET("/conversations", ListConversations(svc))
	api.GET("/conversations/:id", GetConversation(svc))
	api.DELETE("/conversations/:id", DeleteConversation(svc))
	api.GET("/conversations/:id/integrity", CheckIntegrity(svc))

	api.POST("/conversations/:id/messages", SendMessage(svc, router))
	api.GET("/conversations/:id/messages", ListMessages(svc))
	api.GET("/conversations/:id/messages/recent", RecentMessages(svc))
	api.PATCH("/conversations/:id/messages/:messageId", EditMessage(svc, router))
	api.GET("/conversations/:id/messages/:messageId/status", MessageStatus(svc))
	api.POST("/conversations/:id/messages/:messageId/read", MarkMessageRead(svc))
	api.POST("/conversations/:id/read", MarkConversationRead(svc))
	api.GET("/conversations/:id/unread", ConversationUnread(svc))
	api.GET("/unread", TotalUnread(svc))

	api.GET("/presence", OnlineCount(svc))
	api.GET("/presence/:userId", Presence(svc))

	api.GET("/ws", Socket(hub, svc, router, options.Origins))
}
