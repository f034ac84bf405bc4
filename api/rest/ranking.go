package rest

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/cache"
	"github.com/proclinks/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RankingHandler handles the creator leaderboard REST endpoints.
type RankingHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	top    int
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler. top caps the leaderboard size.
func NewRankingHandler(db *gorm.DB, c cache.Cache, top int, logger *zap.Logger) *RankingHandler {
	if top < 1 {
		top = 100
	}
	return &RankingHandler{db: db, cache: c, top: top, logger: logger}
}

const rankingZKey = "ranking:followers"

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank      int    `json:"rank"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	Followers int64  `json:"followers"`
}

// TopCreators returns the most-followed public creators.
// GET /api/ranking/creators?limit=20
func (h *RankingHandler) TopCreators(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= h.top {
		limit = l
	}

	// Try cached ranking from the sorted set.
	ctx := c.Request.Context()
	members, err := h.cache.ZRevRange(ctx, rankingZKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		entries := make([]RankEntry, 0, len(members))
		for i, m := range members {
			userID, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			score, _ := h.cache.ZScore(ctx, rankingZKey, m)
			entries = append(entries, RankEntry{
				Rank:      i + 1,
				UserID:    userID,
				Followers: int64(score),
			})
		}
		h.enrichProfiles(entries)
		respondOK(c, gin.H{"ranking": entries})
		return
	}

	// Fall back to a DB aggregation and warm the cache on the way out.
	entries, err := h.queryTop(ctx, limit, true)
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"ranking": entries})
}

// Refresh rebuilds the ranking sorted set from the DB. Called periodically
// by the scheduler and from the admin API.
func (h *RankingHandler) Refresh(ctx context.Context) (int, error) {
	entries, err := h.queryTop(ctx, h.top, true)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RefreshHTTP exposes Refresh as POST /api/admin/ranking/refresh.
func (h *RankingHandler) RefreshHTTP(c *gin.Context) {
	n, err := h.Refresh(c.Request.Context())
	if err != nil {
		respondInternal(c)
		return
	}
	respondOK(c, gin.H{"refreshed": n})
}

type followerRow struct {
	UserID    int64
	Followers int64
}

func (h *RankingHandler) queryTop(ctx context.Context, limit int, warmCache bool) ([]RankEntry, error) {
	var rows []followerRow
	err := h.db.WithContext(ctx).Model(&model.Follow{}).
		Select("follows.followee_id AS user_id, COUNT(*) AS followers").
		Joins("JOIN users ON users.id = follows.followee_id AND users.is_public = ? AND users.status = 1", true).
		Group("follows.followee_id").
		Order("followers DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]RankEntry, len(rows))
	for i, r := range rows {
		entries[i] = RankEntry{Rank: i + 1, UserID: r.UserID, Followers: r.Followers}
		if warmCache {
			_ = h.cache.ZAdd(ctx, rankingZKey, float64(r.Followers), strconv.FormatInt(r.UserID, 10))
		}
	}
	h.enrichProfiles(entries)
	return entries, nil
}

func (h *RankingHandler) enrichProfiles(entries []RankEntry) {
	if len(entries) == 0 {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var users []model.User
	if err := h.db.Select("id, username, avatar").Where("id IN ?", ids).Find(&users).Error; err != nil {
		h.logger.Warn("ranking profile enrich failed", zap.Error(err))
		return
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i := range entries {
		if u, ok := byID[entries[i].UserID]; ok {
			entries[i].Username = u.Username
			entries[i].Avatar = u.Avatar
		}
	}
}
