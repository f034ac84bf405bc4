package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/proclinks/server/billing"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWebhookBody = 64 * 1024

// BillingHandler handles subscription REST endpoints and the Stripe webhook.
type BillingHandler struct {
	db     *gorm.DB
	svc    *billing.Service
	logger *zap.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(db *gorm.DB, svc *billing.Service, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{db: db, svc: svc, logger: logger}
}

// Plans handles GET /api/billing/plans.
func (h *BillingHandler) Plans(c *gin.Context) {
	respondOK(c, gin.H{"plans": billing.Plans()})
}

type checkoutBody struct {
	PlanType string `json:"plan_type" binding:"required"`
}

// Checkout handles POST /api/billing/checkout.
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req checkoutBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	url, err := h.svc.Checkout(c.Request.Context(), userID, req.PlanType)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, billing.ErrAlreadySubscribed):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, billing.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("checkout failed", zap.Int64("user_id", userID), zap.Error(err))
			respondInternal(c)
		}
		return
	}
	respondOK(c, gin.H{"checkout_url": url})
}

// Cancel handles POST /api/billing/cancel.
func (h *BillingHandler) Cancel(c *gin.Context) {
	userID := mw.GetUserID(c)
	if err := h.svc.Cancel(c.Request.Context(), userID); err != nil {
		switch {
		case errors.Is(err, billing.ErrNoSubscription):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, billing.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("cancel failed", zap.Int64("user_id", userID), zap.Error(err))
			respondInternal(c)
		}
		return
	}
	respondOK(c, nil)
}

// Subscription handles GET /api/billing/subscription: the caller's current
// plan state and payment history.
func (h *BillingHandler) Subscription(c *gin.Context) {
	userID := mw.GetUserID(c)

	var user model.User
	if err := h.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}

	var payments []model.Payment
	if err := h.db.Where("user_id = ?", userID).
		Order("id DESC").Limit(20).
		Find(&payments).Error; err != nil {
		respondInternal(c)
		return
	}

	respondOK(c, gin.H{
		"plan_type":       user.PlanType,
		"plan_status":     user.PlanStatus,
		"plan_started_at": user.PlanStartedAt,
		"plan_expires_at": user.PlanExpiresAt,
		"max_links":       billing.MaxLinksFor(&user),
		"payments":        payments,
	})
}

// Webhook handles POST /api/billing/webhook. Stripe signs the payload; a bad
// signature is rejected before any state is touched.
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "unreadable payload")
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := h.svc.VerifyAndHandle(c.Request.Context(), payload, sig); err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondError(c, http.StatusBadRequest, "webhook rejected")
		return
	}
	respondOK(c, nil)
}
