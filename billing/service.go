package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/proclinks/server/config"
	"github.com/proclinks/server/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Errors returned by Service operations.
var (
	ErrUnknownPlan       = errors.New("unknown plan type")
	ErrAlreadySubscribed = errors.New("plan already active")
	ErrNoSubscription    = errors.New("no active subscription")
	ErrUserNotFound      = errors.New("user not found")
)

// Notifier delivers plan change events. Implementations must not block.
type Notifier interface {
	PlanChanged(targetUserID int64, planType, planStatus string)
}

// Service drives the subscription lifecycle: checkout creation against
// Stripe and the webhook state machine that moves users between plans.
// All state transitions are plain DB updates, so they stay testable with no
// Stripe credentials.
type Service struct {
	db       *gorm.DB
	cfg      config.BillingConfig
	frontend string
	sc       *client.API
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a billing Service. The Stripe client is only touched by
// Checkout and Cancel; webhook transitions never call out.
func NewService(db *gorm.DB, cfg config.BillingConfig, frontendURL string, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := &client.API{}
	sc.Init(cfg.StripeSecretKey, nil)
	return &Service{
		db:       db,
		cfg:      cfg,
		frontend: frontendURL,
		sc:       sc,
		notifier: notifier,
		logger:   logger,
	}
}

func (svc *Service) priceCents(planType string) (int64, error) {
	if cents, ok := svc.cfg.PlanPriceCents[planType]; ok && cents > 0 {
		return cents, nil
	}
	p, ok := PlanByType(planType)
	if !ok || p.PriceCents == 0 {
		return 0, ErrUnknownPlan
	}
	return p.PriceCents, nil
}

// Checkout creates a Stripe subscription checkout session for the given paid
// plan and records a PENDING payment. Returns the session URL to redirect to.
func (svc *Service) Checkout(ctx context.Context, userID int64, planType string) (string, error) {
	cents, err := svc.priceCents(planType)
	if err != nil {
		return "", err
	}

	var user model.User
	if err := svc.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	// Any active paid plan blocks a new checkout; switching plans requires
	// cancelling first so two Stripe subscriptions never coexist.
	if user.PlanStatus == model.PlanStatusActive && user.PlanType != model.PlanFree {
		return "", ErrAlreadySubscribed
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		cust, err := svc.sc.Customers.New(&stripe.CustomerParams{
			Email: stripe.String(user.Email),
			Name:  stripe.String(user.Username),
		})
		if err != nil {
			return "", fmt.Errorf("create stripe customer: %w", err)
		}
		customerID = cust.ID
		if err := svc.db.WithContext(ctx).Model(&user).
			Update("stripe_customer_id", customerID).Error; err != nil {
			return "", err
		}
	}

	sess, err := svc.sc.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", userID)),
		SuccessURL:        stripe.String(svc.frontend + svc.cfg.SuccessPath),
		CancelURL:         stripe.String(svc.frontend + svc.cfg.CancelPath),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(svc.cfg.Currency),
				UnitAmount: stripe.Int64(cents),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("ProcLinks " + planType),
				},
			},
		}},
		Metadata: map[string]string{"plan_type": planType},
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	payment := &model.Payment{
		UserID:          userID,
		PlanType:        planType,
		AmountCents:     cents,
		Currency:        svc.cfg.Currency,
		Status:          model.PaymentPending,
		StripeSessionID: sess.ID,
	}
	if err := svc.db.WithContext(ctx).Create(payment).Error; err != nil {
		return "", err
	}

	svc.logger.Info("checkout session created",
		zap.Int64("user_id", userID),
		zap.String("plan_type", planType),
		zap.String("session_id", sess.ID))
	return sess.URL, nil
}

// Cancel ends the user's Stripe subscription immediately and downgrades them
// to FREE/CANCELLED.
func (svc *Service) Cancel(ctx context.Context, userID int64) error {
	var user model.User
	if err := svc.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.StripeSubscriptionID == "" || user.PlanStatus != model.PlanStatusActive {
		return ErrNoSubscription
	}

	if _, err := svc.sc.Subscriptions.Cancel(user.StripeSubscriptionID, nil); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return svc.ApplySubscriptionDeleted(ctx, user.StripeCustomerID)
}

// VerifyAndHandle checks the webhook signature and applies the event.
func (svc *Service) VerifyAndHandle(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, svc.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("verify webhook: %w", err)
	}
	return svc.HandleEvent(ctx, event)
}

// HandleEvent applies one Stripe event to local plan state. Unhandled event
// types are logged and ignored.
func (svc *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("parse checkout session: %w", err)
		}
		subID := ""
		if sess.Subscription != nil {
			subID = sess.Subscription.ID
		}
		return svc.ApplyCheckoutCompleted(ctx, sess.ID, subID, event.Data.Raw)

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("parse invoice: %w", err)
		}
		if inv.Customer == nil {
			return nil
		}
		return svc.ApplyRenewal(ctx, inv.Customer.ID)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("parse invoice: %w", err)
		}
		if inv.Customer == nil {
			return nil
		}
		return svc.ApplyPaymentFailed(ctx, inv.Customer.ID)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parse subscription: %w", err)
		}
		if sub.Customer == nil {
			return nil
		}
		return svc.ApplySubscriptionDeleted(ctx, sub.Customer.ID)

	default:
		svc.logger.Debug("ignoring webhook event", zap.String("type", string(event.Type)))
		return nil
	}
}

// ApplyCheckoutCompleted activates the plan recorded on the payment row for
// the checkout session and marks the payment COMPLETED.
func (svc *Service) ApplyCheckoutCompleted(ctx context.Context, sessionID, subscriptionID string, raw []byte) error {
	var payment model.Payment
	if err := svc.db.WithContext(ctx).
		Where("stripe_session_id = ?", sessionID).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			svc.logger.Warn("checkout completed for unknown session",
				zap.String("session_id", sessionID))
			return nil
		}
		return err
	}
	if payment.Status == model.PaymentCompleted {
		return nil // webhook retry
	}

	now := time.Now()
	expires := now.AddDate(0, 1, 0)
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]interface{}{
				"status":    model.PaymentCompleted,
				"raw_event": datatypes.JSON(raw),
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).
			Where("id = ?", payment.UserID).
			Updates(map[string]interface{}{
				"plan_type":              payment.PlanType,
				"plan_status":            model.PlanStatusActive,
				"plan_started_at":        now,
				"plan_expires_at":        expires,
				"stripe_subscription_id": subscriptionID,
			}).Error
	})
	if err != nil {
		return err
	}

	svc.notifyPlan(payment.UserID, payment.PlanType, model.PlanStatusActive)
	svc.logger.Info("plan activated",
		zap.Int64("user_id", payment.UserID),
		zap.String("plan_type", payment.PlanType))
	return nil
}

// ApplyRenewal extends the expiry of the customer's active plan by a month.
func (svc *Service) ApplyRenewal(ctx context.Context, customerID string) error {
	user, err := svc.userByCustomer(ctx, customerID)
	if err != nil || user == nil {
		return err
	}

	base := time.Now()
	if user.PlanExpiresAt != nil && user.PlanExpiresAt.After(base) {
		base = *user.PlanExpiresAt
	}
	expires := base.AddDate(0, 1, 0)

	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"plan_status":     model.PlanStatusActive,
			"plan_expires_at": expires,
		}).Error; err != nil {
		return err
	}

	svc.notifyPlan(user.ID, user.PlanType, model.PlanStatusActive)
	return nil
}

// ApplyPaymentFailed deactivates the customer's plan without removing it;
// a later successful invoice reactivates.
func (svc *Service) ApplyPaymentFailed(ctx context.Context, customerID string) error {
	user, err := svc.userByCustomer(ctx, customerID)
	if err != nil || user == nil {
		return err
	}

	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.ID).
		Update("plan_status", model.PlanStatusInactive).Error; err != nil {
		return err
	}

	svc.notifyPlan(user.ID, user.PlanType, model.PlanStatusInactive)
	svc.logger.Warn("plan payment failed",
		zap.Int64("user_id", user.ID),
		zap.String("plan_type", user.PlanType))
	return nil
}

// ApplySubscriptionDeleted drops the customer back to FREE/CANCELLED.
func (svc *Service) ApplySubscriptionDeleted(ctx context.Context, customerID string) error {
	user, err := svc.userByCustomer(ctx, customerID)
	if err != nil || user == nil {
		return err
	}

	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"plan_type":              model.PlanFree,
			"plan_status":            model.PlanStatusCancelled,
			"plan_expires_at":        nil,
			"stripe_subscription_id": "",
		}).Error; err != nil {
		return err
	}

	svc.notifyPlan(user.ID, model.PlanFree, model.PlanStatusCancelled)
	svc.logger.Info("subscription cancelled", zap.Int64("user_id", user.ID))
	return nil
}

// ExpireOverdue deactivates every ACTIVE plan past its expiry. Run
// periodically by the scheduler; returns the user IDs affected.
func (svc *Service) ExpireOverdue(ctx context.Context) ([]int64, error) {
	var users []model.User
	if err := svc.db.WithContext(ctx).
		Where("plan_status = ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?",
			model.PlanStatusActive, time.Now()).
		Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id IN ?", ids).
		Update("plan_status", model.PlanStatusInactive).Error; err != nil {
		return nil, err
	}

	for _, u := range users {
		svc.notifyPlan(u.ID, u.PlanType, model.PlanStatusInactive)
	}
	svc.logger.Info("expired overdue plans", zap.Int("count", len(ids)))
	return ids, nil
}

func (svc *Service) userByCustomer(ctx context.Context, customerID string) (*model.User, error) {
	if customerID == "" {
		return nil, nil
	}
	var user model.User
	err := svc.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		svc.logger.Warn("webhook for unknown customer", zap.String("customer_id", customerID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (svc *Service) notifyPlan(userID int64, planType, planStatus string) {
	if svc.notifier == nil {
		return
	}
	svc.notifier.PlanChanged(userID, planType, planStatus)
}
