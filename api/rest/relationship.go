package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/audit"
	"github.com/proclinks/server/friendship"
	mw "github.com/proclinks/server/middleware"
	"gorm.io/gorm"
)

// RelationshipHandler is the HTTP veneer over the friendship Service.
type RelationshipHandler struct {
	db       *gorm.DB
	svc      *friendship.Service
	audit    *audit.Service
	pageSize int
}

// NewRelationshipHandler creates a new RelationshipHandler. auditSvc may be
// nil to disable audit logging.
func NewRelationshipHandler(db *gorm.DB, svc *friendship.Service, auditSvc *audit.Service, pageSize int) *RelationshipHandler {
	if pageSize < 1 {
		pageSize = 20
	}
	return &RelationshipHandler{db: db, svc: svc, audit: auditSvc, pageSize: pageSize}
}

func (h *RelationshipHandler) logAction(c *gin.Context, action string, req, resp interface{}, start time.Time, errMsg string) {
	if h.audit == nil {
		return
	}
	userID := mw.GetUserID(c)
	h.audit.Log(audit.AuditEntry{
		TraceID:    c.GetString("trace_id"),
		UserID:     &userID,
		Action:     action,
		Request:    req,
		Response:   resp,
		Error:      errMsg,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	})
}

type sendRequestBody struct {
	RecipientID int64 `json:"recipient_id" binding:"required"`
}

// SendRequest handles POST /api/relationships.
func (h *RelationshipHandler) SendRequest(c *gin.Context) {
	start := time.Now()
	userID := mw.GetUserID(c)

	var req sendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	rel, err := h.svc.SendRequest(c.Request.Context(), userID, req.RecipientID)
	if err != nil {
		h.logAction(c, "relationship.request", req, nil, start, err.Error())
		respondFriendshipError(c, err)
		return
	}

	h.logAction(c, "relationship.request", req, rel, start, "")
	respondCreated(c, rel)
}

// Accept handles POST /api/relationships/:id/accept.
func (h *RelationshipHandler) Accept(c *gin.Context) {
	start := time.Now()
	userID := mw.GetUserID(c)
	relID, ok := h.relID(c)
	if !ok {
		return
	}

	rel, err := h.svc.Accept(c.Request.Context(), userID, relID)
	if err != nil {
		h.logAction(c, "relationship.accept", gin.H{"id": relID}, nil, start, err.Error())
		respondFriendshipError(c, err)
		return
	}

	h.logAction(c, "relationship.accept", gin.H{"id": relID}, rel, start, "")
	respondOK(c, rel)
}

// Reject handles POST /api/relationships/:id/reject. The same transition
// covers the recipient declining and the requester cancelling.
func (h *RelationshipHandler) Reject(c *gin.Context) {
	start := time.Now()
	userID := mw.GetUserID(c)
	relID, ok := h.relID(c)
	if !ok {
		return
	}

	if err := h.svc.RejectOrCancel(c.Request.Context(), userID, relID); err != nil {
		h.logAction(c, "relationship.reject", gin.H{"id": relID}, nil, start, err.Error())
		respondFriendshipError(c, err)
		return
	}

	h.logAction(c, "relationship.reject", gin.H{"id": relID}, nil, start, "")
	respondOK(c, nil)
}

// Unfriend handles POST /api/relationships/:id/unfriend.
func (h *RelationshipHandler) Unfriend(c *gin.Context) {
	start := time.Now()
	userID := mw.GetUserID(c)
	relID, ok := h.relID(c)
	if !ok {
		return
	}

	if err := h.svc.Unfriend(c.Request.Context(), userID, relID); err != nil {
		h.logAction(c, "relationship.unfriend", gin.H{"id": relID}, nil, start, err.Error())
		respondFriendshipError(c, err)
		return
	}

	h.logAction(c, "relationship.unfriend", gin.H{"id": relID}, nil, start, "")
	respondOK(c, nil)
}

// Status handles GET /api/relationships/status/:userId.
func (h *RelationshipHandler) Status(c *gin.Context) {
	userID := mw.GetUserID(c)
	otherID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	info, err := h.svc.Status(c.Request.Context(), userID, otherID)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, info)
}

// ListFriends handles GET /api/relationships/friends?page=&sort=.
func (h *RelationshipHandler) ListFriends(c *gin.Context) {
	userID := mw.GetUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	entries, total, err := h.svc.ListFriends(c.Request.Context(), userID, friendship.Page{
		Page: page,
		Size: h.pageSize,
		Sort: c.DefaultQuery("sort", friendship.SortRecent),
	})
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"friends": entries, "total": total, "page": page})
}

// ListPending handles GET /api/relationships/pending?direction=received.
func (h *RelationshipHandler) ListPending(c *gin.Context) {
	userID := mw.GetUserID(c)
	direction := c.DefaultQuery("direction", friendship.DirectionReceived)

	entries, err := h.svc.ListPending(c.Request.Context(), userID, direction)
	if err != nil {
		respondFriendshipError(c, err)
		return
	}
	respondOK(c, gin.H{"pending": entries, "direction": direction})
}

func (h *RelationshipHandler) relID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
