package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/message"
	mw "github.com/proclinks/server/middleware"
)

// MessageHandler handles direct-message REST endpoints.
type MessageHandler struct {
	svc *message.Service
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc *message.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type sendMessageBody struct {
	RecipientID int64  `json:"recipient_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

// Send handles POST /api/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req sendMessageBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), userID, req.RecipientID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrNotFriends):
			respondError(c, http.StatusForbidden, err.Error())
		case errors.Is(err, message.ErrEmptyContent), errors.Is(err, message.ErrSelfMessage):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c)
		}
		return
	}
	respondCreated(c, msg)
}

// History handles GET /api/messages/:userId?page=.
func (h *MessageHandler) History(c *gin.Context) {
	userID := mw.GetUserID(c)
	peerID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	msgs, total, err := h.svc.History(c.Request.Context(), userID, peerID, page)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"messages": msgs, "total": total, "page": page})
}

// MarkRead handles POST /api/messages/:userId/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID := mw.GetUserID(c)
	peerID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	affected, err := h.svc.MarkRead(c.Request.Context(), userID, peerID)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"marked": affected})
}

// Conversations handles GET /api/messages.
func (h *MessageHandler) Conversations(c *gin.Context) {
	userID := mw.GetUserID(c)
	convs, err := h.svc.Conversations(c.Request.Context(), userID)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"conversations": convs})
}

// UnreadCount handles GET /api/messages/unread.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := mw.GetUserID(c)
	count, err := h.svc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"unread": count})
}
