package rest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/billing"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/model"
	"gorm.io/gorm"
)

// LinkHandler handles link CRUD REST endpoints.
type LinkHandler struct {
	db *gorm.DB
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(db *gorm.DB) *LinkHandler {
	return &LinkHandler{db: db}
}

type linkRequest struct {
	Title   string `json:"title" binding:"required,max=128"`
	URL     string `json:"url" binding:"required,max=2048"`
	Visible *bool  `json:"visible"`
}

func validLinkURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// List handles GET /api/links: the caller's own links, including hidden ones.
func (h *LinkHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	var links []model.Link
	if err := h.db.Where("user_id = ?", userID).
		Order("sort_order ASC, id ASC").
		Find(&links).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"links": links})
}

// Create handles POST /api/links. The caller's plan caps how many links the
// page may hold.
func (h *LinkHandler) Create(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !validLinkURL(req.URL) {
		respondError(c, http.StatusBadRequest, "url must be http or https")
		return
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		respondInternal(c)
		return
	}

	var count int64
	if err := h.db.Model(&model.Link{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		respondInternal(c)
		return
	}
	if max := billing.MaxLinksFor(&user); count >= int64(max) {
		respondError(c, http.StatusForbidden, "link limit reached for current plan")
		return
	}

	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}
	link := &model.Link{
		UserID:  userID,
		Title:   strings.TrimSpace(req.Title),
		URL:     req.URL,
		Visible: visible,
		Order:   int(count),
	}
	if err := h.db.Create(link).Error; err != nil {
		respondInternal(c)
		return
	}
	respondCreated(c, link)
}

// Update handles PUT /api/links/:id.
func (h *LinkHandler) Update(c *gin.Context) {
	userID := mw.GetUserID(c)
	link, ok := h.ownedLink(c, userID)
	if !ok {
		return
	}

	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !validLinkURL(req.URL) {
		respondError(c, http.StatusBadRequest, "url must be http or https")
		return
	}

	updates := map[string]interface{}{
		"title": strings.TrimSpace(req.Title),
		"url":   req.URL,
	}
	if req.Visible != nil {
		updates["visible"] = *req.Visible
	}
	if err := h.db.Model(link).Updates(updates).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, link)
}

// Delete handles DELETE /api/links/:id.
func (h *LinkHandler) Delete(c *gin.Context) {
	userID := mw.GetUserID(c)
	link, ok := h.ownedLink(c, userID)
	if !ok {
		return
	}
	if err := h.db.Delete(link).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, nil)
}

type reorderRequest struct {
	LinkIDs []int64 `json:"link_ids" binding:"required,min=1"`
}

// Reorder handles PUT /api/links/reorder: sets sort_order to match the given
// id sequence. All ids must belong to the caller.
func (h *LinkHandler) Reorder(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var owned int64
	if err := h.db.Model(&model.Link{}).
		Where("user_id = ? AND id IN ?", userID, req.LinkIDs).
		Count(&owned).Error; err != nil {
		respondInternal(c)
		return
	}
	if owned != int64(len(req.LinkIDs)) {
		respondError(c, http.StatusBadRequest, "unknown link in order list")
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		for i, id := range req.LinkIDs {
			if err := tx.Model(&model.Link{}).
				Where("id = ? AND user_id = ?", id, userID).
				Update("sort_order", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, nil)
}

// Like handles POST /api/links/:id/like. Anyone may like a visible link on a
// public page; likes are a plain counter.
func (h *LinkHandler) Like(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}

	res := h.db.Model(&model.Link{}).
		Where("id = ? AND visible = ?", id, true).
		Update("likes", gorm.Expr("likes + 1"))
	if res.Error != nil {
		respondInternal(c)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "link not found")
		return
	}

	var link model.Link
	if err := h.db.First(&link, id).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"likes": link.Likes})
}

// PublicLinks handles GET /api/users/:username/links: the visible links of a
// public profile, in page order.
func (h *LinkHandler) PublicLinks(c *gin.Context) {
	username := strings.ToLower(c.Param("username"))
	var user model.User
	if err := h.db.Where("username = ?", username).First(&user).Error; err != nil {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}
	if !user.IsPublic && user.ID != mw.GetUserID(c) {
		respondError(c, http.StatusForbidden, "profile is private")
		return
	}

	order := "sort_order ASC, id ASC"
	if user.Appearance.SortMode == "likes" {
		order = "likes DESC, id ASC"
	}

	var links []model.Link
	if err := h.db.Where("user_id = ? AND visible = ?", user.ID, true).
		Order(order).
		Find(&links).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"links": links, "appearance": user.Appearance})
}

func (h *LinkHandler) ownedLink(c *gin.Context, userID int64) (*model.Link, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	var link model.Link
	if err := h.db.Where("id = ? AND user_id = ?", id, userID).First(&link).Error; err != nil {
		respondError(c, http.StatusNotFound, "link not found")
		return nil, false
	}
	return &link, true
}
