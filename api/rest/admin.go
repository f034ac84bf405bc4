package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/audit"
	"github.com/proclinks/server/model"
	"github.com/proclinks/server/realtime"
	"github.com/proclinks/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	presence *realtime.Presence
	notifier *realtime.Notifier
	sched    *scheduler.Scheduler
	audit    *audit.Service
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	presence *realtime.Presence,
	notifier *realtime.Notifier,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, presence: presence, notifier: notifier, sched: sched, audit: auditSvc, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var users, relationships, friendly, messages, payments int64
	h.db.Model(&model.User{}).Count(&users)
	h.db.Model(&model.Relationship{}).Count(&relationships)
	h.db.Model(&model.Relationship{}).Where("status = ?", model.RelationFriendly).Count(&friendly)
	h.db.Model(&model.Message{}).Count(&messages)
	h.db.Model(&model.Payment{}).Where("status = ?", model.PaymentCompleted).Count(&payments)

	respondOK(c, gin.H{
		"online_users":       h.presence.Count(),
		"users":              users,
		"relationships":      relationships,
		"friendships":        friendly,
		"messages":           messages,
		"completed_payments": payments,
		"scheduler_tasks":    h.sched.ListTickers(),
	})
}

// ListOnline returns a snapshot of the connected users.
// GET /api/admin/online
func (h *AdminHandler) ListOnline(c *gin.Context) {
	sessions := h.presence.All()
	type onlineInfo struct {
		UserID      int64     `json:"user_id"`
		Username    string    `json:"username"`
		ConnectedAt time.Time `json:"connected_at"`
	}
	result := make([]onlineInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, onlineInfo{
			UserID:      s.UserID,
			Username:    s.Username,
			ConnectedAt: s.ConnectedAt,
		})
	}
	respondOK(c, gin.H{"online": result, "count": len(result)})
}

// BanUser bans or unbans a user.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		respondInternal(c)
		return
	}
	if result.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}

	// Kick the user if currently connected.
	if req.Ban {
		if s := h.presence.Get(userID); s != nil {
			s.Close()
		}
	}

	if h.audit != nil {
		h.audit.Log(audit.AuditEntry{
			TraceID:  c.GetString("trace_id"),
			Action:   "admin.ban",
			Request:  gin.H{"user_id": userID, "ban": req.Ban},
			Response: gin.H{"status": status},
			IP:       c.ClientIP(),
		})
	}
	h.logger.Info("admin ban update", zap.Int64("user_id", userID), zap.Bool("ban", req.Ban))
	respondOK(c, gin.H{"status": status})
}

// Announce broadcasts a message to every connected client.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=512"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.notifier.Announce(req.Message)
	respondOK(c, nil)
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	respondOK(c, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"success": false, "message": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"success": false, "message": "unauthorized"})
			return
		}
		c.Next()
	}
}
