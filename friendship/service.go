package friendship

import (
	"context"
	"errors"
	"strings"

	"github.com/proclinks/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier delivers relationship events to a user. Implementations must not
// block the caller; delivery is fire-and-forget and failures never surface
// back into the operation that triggered them.
type Notifier interface {
	RelationshipChanged(targetUserID int64, event string, rel *model.Relationship)
}

// Events dispatched through the Notifier.
const (
	EventRequestReceived = "friend_request_received"
	EventRequestAccepted = "friend_request_accepted"
	EventRequestDeclined = "friend_request_declined"
	EventUnfriended      = "unfriended"
)

// Page controls pagination and ordering of friend listings.
type Page struct {
	Page int    // 1-based
	Size int    // defaults to 20, capped at 100
	Sort string // "recent" (default) or "username"
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	if p.Sort != SortUsername {
		p.Sort = SortRecent
	}
	return p
}

const (
	SortRecent   = "recent"
	SortUsername = "username"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// StatusInfo is the result of a status query between two users.
type StatusInfo struct {
	Status         string `json:"status"`
	RelationshipID *int64 `json:"relationship_id"`
	IsRequester    bool   `json:"is_requester"`
	IsRecipient    bool   `json:"is_recipient"`
}

// FriendEntry pairs a FRIENDLY relationship with the other party's profile.
type FriendEntry struct {
	Relationship model.Relationship `json:"relationship"`
	User         model.User         `json:"user"`
}

// Service owns the relationship lifecycle between pairs of users.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a friendship Service. notifier may be nil in tests.
func NewService(db *gorm.DB, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, notifier: notifier, logger: logger}
}

// SendRequest creates or revives the relationship between requester and
// recipient, leaving it PENDING with the caller as requester. The pair's
// single row is reused across its whole history; a row that was reset to
// NONE is flipped back to PENDING in place so its id stays stable.
func (svc *Service) SendRequest(ctx context.Context, requesterID, recipientID int64) (*model.Relationship, error) {
	if requesterID == recipientID {
		return nil, ErrInvalidOperation
	}

	var count int64
	if err := svc.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", recipientID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var rel model.Relationship
	err := svc.db.WithContext(ctx).
		Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)",
			requesterID, recipientID, recipientID, requesterID).
		First(&rel).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rel = model.Relationship{
			RequesterID: requesterID,
			RecipientID: recipientID,
			PairKey:     model.RelationPairKey(requesterID, recipientID),
			Status:      model.RelationPending,
		}
		if createErr := svc.db.WithContext(ctx).Create(&rel).Error; createErr != nil {
			// Two concurrent first-requests race on pair_key; the loser
			// sees the other side's request as already pending.
			if isUniqueViolation(createErr) {
				return nil, ErrAlreadyPending
			}
			return nil, createErr
		}
	case err != nil:
		return nil, err

	case rel.Status == model.RelationPending:
		return nil, ErrAlreadyPending
	case rel.Status == model.RelationFriendly:
		return nil, ErrAlreadyFriends

	default: // NONE: revive in place, re-pointing direction at the new caller.
		res := svc.db.WithContext(ctx).Model(&model.Relationship{}).
			Where("id = ? AND status = ?", rel.ID, model.RelationNone).
			Updates(map[string]interface{}{
				"requester_id": requesterID,
				"recipient_id": recipientID,
				"status":       model.RelationPending,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrAlreadyPending
		}
		if err := svc.db.WithContext(ctx).First(&rel, rel.ID).Error; err != nil {
			return nil, err
		}
	}

	svc.notify(EventRequestReceived, &rel)
	return &rel, nil
}

// Accept transitions a PENDING relationship to FRIENDLY. Only the recipient
// of the request may accept it.
func (svc *Service) Accept(ctx context.Context, recipientID, relationshipID int64) (*model.Relationship, error) {
	rel, err := svc.get(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.Involves(recipientID) {
		return nil, ErrNotFound
	}
	if rel.RecipientID != recipientID {
		return nil, ErrForbidden
	}
	if rel.Status != model.RelationPending {
		return nil, ErrNotFound
	}

	res := svc.db.WithContext(ctx).Model(&model.Relationship{}).
		Where("id = ? AND status = ?", rel.ID, model.RelationPending).
		Update("status", model.RelationFriendly)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	if err := svc.db.WithContext(ctx).First(rel, rel.ID).Error; err != nil {
		return nil, err
	}

	svc.notify(EventRequestAccepted, rel)
	return rel, nil
}

// RejectOrCancel resets a relationship to NONE. The recipient rejecting a
// request and the requester cancelling their own are the same transition.
func (svc *Service) RejectOrCancel(ctx context.Context, callerID, relationshipID int64) error {
	rel, err := svc.get(ctx, relationshipID)
	if err != nil {
		return err
	}
	if !rel.Involves(callerID) {
		return ErrNotFound
	}
	if rel.Status == model.RelationNone {
		return ErrInvalidOperation
	}

	res := svc.db.WithContext(ctx).Model(&model.Relationship{}).
		Where("id = ? AND status = ?", rel.ID, rel.Status).
		Update("status", model.RelationNone)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidOperation
	}

	rel.Status = model.RelationNone
	svc.notify(EventRequestDeclined, rel)
	return nil
}

// Unfriend resets a FRIENDLY relationship to NONE. Either party may do it.
func (svc *Service) Unfriend(ctx context.Context, callerID, relationshipID int64) error {
	rel, err := svc.get(ctx, relationshipID)
	if err != nil {
		return err
	}
	if !rel.Involves(callerID) {
		return ErrForbidden
	}
	if rel.Status != model.RelationFriendly {
		return ErrInvalidOperation
	}

	res := svc.db.WithContext(ctx).Model(&model.Relationship{}).
		Where("id = ? AND status = ?", rel.ID, model.RelationFriendly).
		Update("status", model.RelationNone)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidOperation
	}

	rel.Status = model.RelationNone
	svc.notify(EventUnfriended, rel)
	return nil
}

// Status reports the relationship state between caller and another user
// without mutating anything. A pair with no row reports NONE.
func (svc *Service) Status(ctx context.Context, callerID, otherUserID int64) (*StatusInfo, error) {
	var rel model.Relationship
	err := svc.db.WithContext(ctx).
		Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)",
			callerID, otherUserID, otherUserID, callerID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &StatusInfo{Status: model.RelationNone}, nil
	}
	if err != nil {
		return nil, err
	}
	id := rel.ID
	return &StatusInfo{
		Status:         rel.Status,
		RelationshipID: &id,
		IsRequester:    rel.RequesterID == callerID,
		IsRecipient:    rel.RecipientID == callerID,
	}, nil
}

// ListFriends returns the user's FRIENDLY relationships resolved to the
// other party, paginated. Sort "recent" orders by last transition,
// "username" by the other party's username.
func (svc *Service) ListFriends(ctx context.Context, userID int64, page Page) ([]FriendEntry, int64, error) {
	page = page.normalize()

	q := svc.db.WithContext(ctx).Model(&model.Relationship{}).
		Joins("JOIN users ON users.id = CASE WHEN relationships.requester_id = ? THEN relationships.recipient_id ELSE relationships.requester_id END", userID).
		Where("(relationships.requester_id = ? OR relationships.recipient_id = ?) AND relationships.status = ?",
			userID, userID, model.RelationFriendly)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "relationships.updated_at DESC"
	if page.Sort == SortUsername {
		order = "users.username ASC"
	}

	var rels []model.Relationship
	if err := q.Select("relationships.*").Order(order).
		Offset((page.Page - 1) * page.Size).Limit(page.Size).
		Find(&rels).Error; err != nil {
		return nil, 0, err
	}

	return svc.attachOtherParty(ctx, userID, rels, total)
}

// ListPending returns the user's PENDING relationships in one direction:
// "sent" (user is requester) or "received" (user is recipient).
func (svc *Service) ListPending(ctx context.Context, userID int64, direction string) ([]FriendEntry, error) {
	q := svc.db.WithContext(ctx).Where("status = ?", model.RelationPending)
	switch direction {
	case DirectionSent:
		q = q.Where("requester_id = ?", userID)
	case DirectionReceived:
		q = q.Where("recipient_id = ?", userID)
	default:
		return nil, ErrInvalidOperation
	}

	var rels []model.Relationship
	if err := q.Order("updated_at DESC").Find(&rels).Error; err != nil {
		return nil, err
	}
	entries, _, err := svc.attachOtherParty(ctx, userID, rels, 0)
	return entries, err
}

func (svc *Service) get(ctx context.Context, id int64) (*model.Relationship, error) {
	var rel model.Relationship
	if err := svc.db.WithContext(ctx).First(&rel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rel, nil
}

// attachOtherParty batch-loads the users on the far side of each
// relationship and preserves the input ordering.
func (svc *Service) attachOtherParty(ctx context.Context, userID int64, rels []model.Relationship, total int64) ([]FriendEntry, int64, error) {
	if len(rels) == 0 {
		return []FriendEntry{}, total, nil
	}

	ids := make([]int64, 0, len(rels))
	for _, r := range rels {
		ids = append(ids, r.OtherParty(userID))
	}
	var users []model.User
	if err := svc.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	entries := make([]FriendEntry, 0, len(rels))
	for _, r := range rels {
		entries = append(entries, FriendEntry{Relationship: r, User: byID[r.OtherParty(userID)]})
	}
	return entries, total, nil
}

// notify delivers a status-change event to both sides of the relationship,
// best-effort.
func (svc *Service) notify(event string, rel *model.Relationship) {
	if svc.notifier == nil {
		return
	}
	svc.notifier.RelationshipChanged(rel.RequesterID, event, rel)
	svc.notifier.RelationshipChanged(rel.RecipientID, event, rel)
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
