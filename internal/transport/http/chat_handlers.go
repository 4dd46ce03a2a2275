package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/store"
)

// ChatHandlers provides HTTP handlers for chat history endpoints.
type ChatHandlers struct {
	store store.ChatStore
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(chatStore store.ChatStore, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		store: chatStore,
		log:   logger,
	}
}

// MessageResponse is one persisted message on the wire.
type MessageResponse struct {
	ID          int64  `json:"id"`
	UserPK      int64  `json:"user_pk"`
	Message     string `json:"message"`
	IsFromAdmin bool   `json:"is_from_admin"`
	CreatedAt   string `json:"created_at"`
}

// UserInfoResponse identifies the customer owning a conversation.
type UserInfoResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ConversationResponse groups one customer's thread.
type ConversationResponse struct {
	UserInfo UserInfoResponse  `json:"user_info"`
	Messages []MessageResponse `json:"messages"`
}

// AllConversationsResponse is the admin overview of every thread.
type AllConversationsResponse struct {
	Conversations      map[int64]ConversationResponse `json:"conversations"`
	TotalConversations int                            `json:"total_conversations"`
}

// SendRequest represents the REST persistence request body. fan-out is the
// relay's job; this endpoint only appends to the thread.
type SendRequest struct {
	UserPK  int64  `json:"user_pk" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func messageResponse(msg *store.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:          msg.ID,
		UserPK:      msg.UserPK,
		Message:     msg.Message,
		IsFromAdmin: msg.IsFromAdmin,
		CreatedAt:   msg.CreatedAt.Format(time.RFC3339),
	}
}

// UserMessages returns one participant's thread. Participants may read
// their own thread; admins may read any.
// GET /api/chat/user/:id
func (h *ChatHandlers) UserMessages(c *gin.Context) {
	userPK, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	if !c.GetBool(ContextKeyIsAdmin) && c.GetInt64(ContextKeyUserID) != userPK {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	messages, err := h.store.ListMessagesByUser(c.Request.Context(), userPK)
	if err != nil {
		h.log.Error().Err(err).Int64("user_pk", userPK).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageResponse(msg))
	}
	c.JSON(http.StatusOK, out)
}

// AllConversations returns every customer thread, admin only.
// GET /api/chat/all
func (h *ChatHandlers) AllConversations(c *gin.Context) {
	if !c.GetBool(ContextKeyIsAdmin) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
		return
	}

	conversations, err := h.store.ListConversations(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := AllConversationsResponse{
		Conversations: make(map[int64]ConversationResponse, len(conversations)),
	}
	for _, conv := range conversations {
		out := ConversationResponse{
			UserInfo: UserInfoResponse{
				UserID:   conv.User.ID,
				Username: conv.User.Username,
				Email:    conv.User.Email,
			},
			Messages: make([]MessageResponse, 0, len(conv.Messages)),
		}
		for _, msg := range conv.Messages {
			out.Messages = append(out.Messages, messageResponse(msg))
		}
		resp.Conversations[conv.User.ID] = out
	}
	resp.TotalConversations = len(resp.Conversations)

	c.JSON(http.StatusOK, resp)
}

// SendMessage appends one message through the REST path. The persisted
// role comes from the authenticated caller, not the request body.
// POST /api/chat/send
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.store.AppendMessage(c.Request.Context(), req.UserPK, req.Message, c.GetBool(ContextKeyIsAdmin))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_pk", req.UserPK).Msg("failed to append message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, messageResponse(msg))
}
