package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/proclinks/server/message"
	"github.com/proclinks/server/realtime"
	"go.uber.org/zap"
)

// ChatHandlers bundles the dependencies needed by the WS message handlers.
type ChatHandlers struct {
	messages *message.Service
	logger   *zap.Logger
}

// NewChatHandlers creates a new ChatHandlers.
func NewChatHandlers(messages *message.Service, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{messages: messages, logger: logger}
}

// RegisterHandlers registers all handlers on the given Router.
func (ch *ChatHandlers) RegisterHandlers(r *Router) {
	r.On("ping", ch.HandlePing)
	r.On("message_send", ch.HandleMessageSend)
	r.On("message_read", ch.HandleMessageRead)
}

// sendError delivers an error packet to the session.
func sendError(s *realtime.ClientSession, msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	s.Send(&realtime.Packet{Type: "error", Payload: payload})
}

// ------------------------------------------------------------------ ping

type pingPayload struct {
	TS int64 `json:"ts"`
}

// HandlePing responds to client heartbeat pings.
func (ch *ChatHandlers) HandlePing(_ context.Context, s *realtime.ClientSession, raw json.RawMessage) error {
	var p pingPayload
	_ = json.Unmarshal(raw, &p)
	payload, _ := json.Marshal(map[string]int64{
		"client_ts": p.TS,
		"server_ts": time.Now().UnixMilli(),
	})
	s.Send(&realtime.Packet{Type: "pong", Payload: payload})
	return nil
}

// ------------------------------------------------------------------ message_send

type messageSendReq struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
}

// HandleMessageSend sends a direct message over the socket. The recipient is
// notified through the Notifier like a REST-sent message.
func (ch *ChatHandlers) HandleMessageSend(ctx context.Context, s *realtime.ClientSession, raw json.RawMessage) error {
	var req messageSendReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	msg, err := ch.messages.Send(ctx, s.UserID, req.RecipientID, req.Content)
	if err != nil {
		if errors.Is(err, message.ErrNotFriends) ||
			errors.Is(err, message.ErrEmptyContent) ||
			errors.Is(err, message.ErrSelfMessage) {
			sendError(s, err.Error())
			return nil
		}
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{"message": msg})
	s.Send(&realtime.Packet{Type: "message_sent", Payload: payload})
	return nil
}

// ------------------------------------------------------------------ message_read

type messageReadReq struct {
	PeerID int64 `json:"peer_id"`
}

// HandleMessageRead marks the thread with peer as read.
func (ch *ChatHandlers) HandleMessageRead(ctx context.Context, s *realtime.ClientSession, raw json.RawMessage) error {
	var req messageReadReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	affected, err := ch.messages.MarkRead(ctx, s.UserID, req.PeerID)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"peer_id": req.PeerID,
		"marked":  affected,
	})
	s.Send(&realtime.Packet{Type: "message_read_ack", Payload: payload})
	return nil
}
