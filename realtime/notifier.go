package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/proclinks/server/cache"
	"github.com/proclinks/server/model"
	"go.uber.org/zap"
)

// UserChannel returns the pub/sub channel name carrying a user's events.
// SSE subscribers listen here; WS sessions get the same payloads directly.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// AnnounceChannel carries site-wide announcements.
const AnnounceChannel = "announce"

const publishTimeout = 5 * time.Second

// Notifier fans user-facing events out to the target's WebSocket session
// (when connected) and the target's pub/sub channel (for SSE and other
// nodes). Delivery is fire-and-forget: every method returns immediately and
// failures are only logged.
type Notifier struct {
	presence *Presence
	pubsub   cache.PubSub
	logger   *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(presence *Presence, pubsub cache.PubSub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{presence: presence, pubsub: pubsub, logger: logger}
}

// RelationshipChanged notifies a user that a relationship involving them
// changed state (request received/accepted/declined, unfriended).
func (n *Notifier) RelationshipChanged(targetUserID int64, event string, rel *model.Relationship) {
	n.dispatch(targetUserID, "relationship", map[string]interface{}{
		"event":        event,
		"relationship": rel,
	})
}

// MessageReceived notifies a user of a new direct message.
func (n *Notifier) MessageReceived(targetUserID int64, msg *model.Message) {
	n.dispatch(targetUserID, "message", map[string]interface{}{
		"message": msg,
	})
}

// MessagesRead notifies a sender that their messages were read.
func (n *Notifier) MessagesRead(targetUserID, readerID int64) {
	n.dispatch(targetUserID, "message_read", map[string]interface{}{
		"reader_id": readerID,
	})
}

// PlanChanged notifies a user that their subscription plan changed.
func (n *Notifier) PlanChanged(targetUserID int64, planType, planStatus string) {
	n.dispatch(targetUserID, "plan", map[string]interface{}{
		"plan_type":   planType,
		"plan_status": planStatus,
	})
}

// Announce broadcasts a site-wide message to every connected session and
// the announce channel.
func (n *Notifier) Announce(message string) {
	payload, _ := json.Marshal(map[string]interface{}{"message": message})
	pkt := &Packet{Type: "announce", Payload: payload}
	go func() {
		n.presence.BroadcastPacket(pkt)
		data, _ := json.Marshal(pkt)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.pubsub.Publish(ctx, AnnounceChannel, string(data)); err != nil {
			n.logger.Warn("announce publish failed", zap.Error(err))
		}
	}()
}

// dispatch delivers one typed event to one user on a detached goroutine.
func (n *Notifier) dispatch(targetUserID int64, typ string, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("notify marshal failed", zap.String("type", typ), zap.Error(err))
		return
	}
	pkt := &Packet{Type: typ, Payload: raw}

	go func() {
		if s := n.presence.Get(targetUserID); s != nil {
			pkt.Seq = s.NextSeq()
			s.Send(pkt)
		}

		data, _ := json.Marshal(pkt)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.pubsub.Publish(ctx, UserChannel(targetUserID), string(data)); err != nil {
			n.logger.Warn("notify publish failed",
				zap.Int64("user_id", targetUserID),
				zap.String("type", typ),
				zap.Error(err))
		}
	}()
}
