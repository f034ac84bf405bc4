package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/friendship"
)

// Every endpoint answers with the same envelope: success true plus optional
// data, or success false plus a human-readable message.

func respondOK(c *gin.Context, data interface{}) {
	if data == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func respondInternal(c *gin.Context) {
	respondError(c, http.StatusInternalServerError, "internal error")
}

// respondFriendshipError maps relationship service errors onto HTTP codes.
func respondFriendshipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, friendship.ErrInvalidOperation):
		respondError(c, http.StatusBadRequest, err.Error())
	case friendship.IsConflict(err):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, friendship.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, friendship.ErrForbidden):
		respondError(c, http.StatusForbidden, err.Error())
	default:
		respondInternal(c)
	}
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
