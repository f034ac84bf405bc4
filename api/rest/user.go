package rest

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/proclinks/server/config"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/model"
	"github.com/proclinks/server/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserHandler handles profile, appearance and follow REST endpoints.
type UserHandler struct {
	db       *gorm.DB
	presence *realtime.Presence
	storage  config.StorageConfig
	logger   *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, presence *realtime.Presence, storage config.StorageConfig, logger *zap.Logger) *UserHandler {
	return &UserHandler{db: db, presence: presence, storage: storage, logger: logger}
}

// publicUser is the profile shape exposed to other users.
type publicUser struct {
	ID         int64            `json:"id"`
	Username   string           `json:"username"`
	Bio        string           `json:"bio"`
	Avatar     string           `json:"avatar"`
	ViewMode   string           `json:"view_mode"`
	Appearance model.Appearance `json:"appearance"`
	PlanType   string           `json:"plan_type"`
	Online     bool             `json:"online"`
}

func (h *UserHandler) toPublic(u *model.User) publicUser {
	return publicUser{
		ID:         u.ID,
		Username:   u.Username,
		Bio:        u.Bio,
		Avatar:     u.Avatar,
		ViewMode:   u.ViewMode,
		Appearance: u.Appearance,
		PlanType:   u.PlanType,
		Online:     h.presence.IsOnline(u.ID),
	}
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	userID := mw.GetUserID(c)
	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}
	respondOK(c, user)
}

type updateProfileRequest struct {
	Bio      *string `json:"bio" binding:"omitempty,max=512"`
	IsPublic *bool   `json:"is_public"`
	ViewMode *string `json:"view_mode" binding:"omitempty,oneof=list grid"`
}

// UpdateProfile handles PUT /api/users/me.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}
	if req.ViewMode != nil {
		updates["view_mode"] = *req.ViewMode
	}
	if len(updates) == 0 {
		respondError(c, http.StatusBadRequest, "nothing to update")
		return
	}

	if err := h.db.Model(&model.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		respondInternal(c)
		return
	}

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, user)
}

// UpdateAppearance handles PUT /api/users/me/appearance.
func (h *UserHandler) UpdateAppearance(c *gin.Context) {
	userID := mw.GetUserID(c)
	var app model.Appearance
	if err := c.ShouldBindJSON(&app); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.db.Model(&model.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"appearance_background_color": app.BackgroundColor,
			"appearance_card_color":       app.CardColor,
			"appearance_text_color":       app.TextColor,
			"appearance_card_text_color":  app.CardTextColor,
			"appearance_likes_color":      app.LikesColor,
			"appearance_display_mode":     app.DisplayMode,
			"appearance_card_style":       app.CardStyle,
			"appearance_animation":        app.Animation,
			"appearance_font":             app.Font,
			"appearance_spacing":          app.Spacing,
			"appearance_sort_mode":        app.SortMode,
		}).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, app)
}

// UploadAvatar handles POST /api/users/me/avatar (multipart form, field "avatar").
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	userID := mw.GetUserID(c)

	file, err := c.FormFile("avatar")
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing avatar file")
		return
	}
	if file.Size > int64(h.storage.MaxAvatarKB)*1024 {
		respondError(c, http.StatusBadRequest, "avatar too large")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		respondError(c, http.StatusBadRequest, "unsupported image type")
		return
	}

	if err := os.MkdirAll(h.storage.UploadDir, 0o755); err != nil {
		respondInternal(c)
		return
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(h.storage.UploadDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.Error("avatar save failed", zap.Error(err))
		respondInternal(c)
		return
	}

	avatarURL := "/uploads/" + name
	if err := h.db.Model(&model.User{}).Where("id = ?", userID).
		Update("avatar", avatarURL).Error; err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"avatar": avatarURL})
}

// PublicProfile handles GET /api/users/:username. Private profiles are only
// visible to their owner.
func (h *UserHandler) PublicProfile(c *gin.Context) {
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
	respondOK(c, h.toPublic(&user))
}

// HeaderInfo handles GET /api/users/me/header: the counters shown in the
// authenticated page chrome.
func (h *UserHandler) HeaderInfo(c *gin.Context) {
	userID := mw.GetUserID(c)

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}

	var followers, following, links int64
	h.db.Model(&model.Follow{}).Where("followee_id = ?", userID).Count(&followers)
	h.db.Model(&model.Follow{}).Where("follower_id = ?", userID).Count(&following)
	h.db.Model(&model.Link{}).Where("user_id = ?", userID).Count(&links)

	respondOK(c, gin.H{
		"username":    user.Username,
		"avatar":      user.Avatar,
		"plan_type":   user.PlanType,
		"plan_status": user.PlanStatus,
		"followers":   followers,
		"following":   following,
		"links":       links,
	})
}

// ListUsers handles GET /api/users?q=&page=: public directory search.
func (h *UserHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	const pageSize = 20

	q := h.db.Model(&model.User{}).Where("is_public = ? AND status = 1", true)
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		q = q.Where("username LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondInternal(c)
		return
	}

	var users []model.User
	if err := q.Order("username ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&users).Error; err != nil {
		respondInternal(c)
		return
	}

	out := make([]publicUser, 0, len(users))
	for i := range users {
		out = append(out, h.toPublic(&users[i]))
	}
	respondOK(c, gin.H{"users": out, "total": total, "page": page})
}

// Follow handles POST /api/users/:username/follow.
func (h *UserHandler) Follow(c *gin.Context) {
	userID := mw.GetUserID(c)
	target, ok := h.targetByUsername(c)
	if !ok {
		return
	}
	if target.ID == userID {
		respondError(c, http.StatusBadRequest, "cannot follow yourself")
		return
	}

	follow := &model.Follow{FollowerID: userID, FolloweeID: target.ID}
	if err := h.db.Create(follow).Error; err != nil {
		if isUniqueViolation(err) {
			respondError(c, http.StatusConflict, "already following")
			return
		}
		respondInternal(c)
		return
	}
	respondCreated(c, gin.H{"followee_id": target.ID})
}

// Unfollow handles DELETE /api/users/:username/follow.
func (h *UserHandler) Unfollow(c *gin.Context) {
	userID := mw.GetUserID(c)
	target, ok := h.targetByUsername(c)
	if !ok {
		return
	}

	res := h.db.Where("follower_id = ? AND followee_id = ?", userID, target.ID).
		Delete(&model.Follow{})
	if res.Error != nil {
		respondInternal(c)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "not following")
		return
	}
	respondOK(c, nil)
}

// Followers handles GET /api/users/:username/followers.
func (h *UserHandler) Followers(c *gin.Context) {
	h.listFollowEdge(c, "followee_id", "follower_id")
}

// Following handles GET /api/users/:username/following.
func (h *UserHandler) Following(c *gin.Context) {
	h.listFollowEdge(c, "follower_id", "followee_id")
}

func (h *UserHandler) listFollowEdge(c *gin.Context, matchCol, selectCol string) {
	target, ok := h.targetByUsername(c)
	if !ok {
		return
	}

	var ids []int64
	if err := h.db.Model(&model.Follow{}).
		Where(matchCol+" = ?", target.ID).
		Order("created_at DESC").
		Pluck(selectCol, &ids).Error; err != nil {
		respondInternal(c)
		return
	}
	if len(ids) == 0 {
		respondOK(c, gin.H{"users": []publicUser{}, "total": 0})
		return
	}

	var users []model.User
	if err := h.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		respondInternal(c)
		return
	}
	out := make([]publicUser, 0, len(users))
	for i := range users {
		out = append(out, h.toPublic(&users[i]))
	}
	respondOK(c, gin.H{"users": out, "total": len(out)})
}

func (h *UserHandler) targetByUsername(c *gin.Context) (*model.User, bool) {
	username := strings.ToLower(c.Param("username"))
	var user model.User
	if err := h.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("user %q not found", username))
		} else {
			respondInternal(c)
		}
		return nil, false
	}
	return &user, true
}
