package message

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/proclinks/server/friendship"
	"github.com/proclinks/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Errors returned by Service operations.
var (
	ErrNotFriends   = errors.New("users are not friends")
	ErrEmptyContent = errors.New("message content is empty")
	ErrSelfMessage  = errors.New("cannot message yourself")
)

const maxContentLen = 2000

// Notifier delivers message events. Implementations must not block.
type Notifier interface {
	MessageReceived(targetUserID int64, msg *model.Message)
	MessagesRead(targetUserID, readerID int64)
}

// Conversation summarizes one peer's thread for the inbox view.
type Conversation struct {
	User        model.User    `json:"user"`
	LastMessage model.Message `json:"last_message"`
	UnreadCount int64         `json:"unread_count"`
}

// Service handles direct messages. Messaging is reserved for FRIENDLY pairs.
type Service struct {
	db       *gorm.DB
	friends  *friendship.Service
	notifier Notifier
	logger   *zap.Logger
	pageSize int
}

// NewService creates a message Service. notifier may be nil in tests.
func NewService(db *gorm.DB, friends *friendship.Service, notifier Notifier, pageSize int, logger *zap.Logger) *Service {
	if pageSize < 1 {
		pageSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, friends: friends, notifier: notifier, pageSize: pageSize, logger: logger}
}

// Send stores a direct message from sender to recipient. The pair must be
// FRIENDLY at the moment of sending.
func (svc *Service) Send(ctx context.Context, senderID, recipientID int64, content string) (*model.Message, error) {
	if senderID == recipientID {
		return nil, ErrSelfMessage
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxContentLen {
		// Back up to a rune boundary so truncation never stores invalid UTF-8.
		cut := maxContentLen
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	info, err := svc.friends.Status(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if info.Status != model.RelationFriendly {
		return nil, ErrNotFriends
	}

	msg := &model.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}
	if err := svc.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}

	if svc.notifier != nil {
		svc.notifier.MessageReceived(recipientID, msg)
	}
	return msg, nil
}

// History returns messages between two users, newest first, paginated.
func (svc *Service) History(ctx context.Context, userID, peerID int64, page int) ([]model.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	q := svc.db.WithContext(ctx).Model(&model.Message{}).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userID, peerID, peerID, userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []model.Message
	if err := q.Order("id DESC").
		Offset((page - 1) * svc.pageSize).Limit(svc.pageSize).
		Find(&msgs).Error; err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// MarkRead marks all unread messages from peer to user as read and tells the
// peer their messages were seen. Returns the number of messages affected.
func (svc *Service) MarkRead(ctx context.Context, userID, peerID int64) (int64, error) {
	res := svc.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND recipient_id = ? AND read = ?", peerID, userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 && svc.notifier != nil {
		svc.notifier.MessagesRead(peerID, userID)
	}
	return res.RowsAffected, nil
}

// UnreadCount returns the user's total number of unread messages.
func (svc *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := svc.db.WithContext(ctx).Model(&model.Message{}).
		Where("recipient_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// Conversations returns the user's inbox: one entry per peer with the most
// recent message and the unread count, ordered by latest activity.
func (svc *Service) Conversations(ctx context.Context, userID int64) ([]Conversation, error) {
	var msgs []model.Message
	if err := svc.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("id DESC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}

	// Messages arrive newest first, so the first one seen per peer is the
	// latest in that thread.
	peerOrder := make([]int64, 0)
	latest := make(map[int64]model.Message)
	unread := make(map[int64]int64)
	for _, m := range msgs {
		peer := m.SenderID
		if peer == userID {
			peer = m.RecipientID
		}
		if _, ok := latest[peer]; !ok {
			latest[peer] = m
			peerOrder = append(peerOrder, peer)
		}
		if m.RecipientID == userID && !m.Read {
			unread[peer]++
		}
	}
	if len(peerOrder) == 0 {
		return []Conversation{}, nil
	}

	var users []model.User
	if err := svc.db.WithContext(ctx).Where("id IN ?", peerOrder).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]Conversation, 0, len(peerOrder))
	for _, peer := range peerOrder {
		out = append(out, Conversation{
			User:        byID[peer],
			LastMessage: latest[peer],
			UnreadCount: unread[peer],
		})
	}
	return out, nil
}
