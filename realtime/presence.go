package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Presence maintains the registry of all connected ClientSessions, keyed by
// user ID. It answers "who is online" for the rest of the system.
type Presence struct {
	mu       sync.RWMutex
	sessions map[int64]*ClientSession
	logger   *zap.Logger
}

// NewPresence creates an empty Presence registry.
func NewPresence(logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{
		sessions: make(map[int64]*ClientSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same user,
// it is closed first (handles duplicate login / reconnect).
func (p *Presence) Register(s *ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.sessions[s.UserID]; ok {
		old.Close()
		p.logger.Info("duplicate session displaced",
			zap.Int64("user_id", s.UserID))
	}
	p.sessions[s.UserID] = s
	p.logger.Info("client session registered",
		zap.Int64("user_id", s.UserID),
		zap.String("username", s.Username))
}

// Unregister removes the session for a user, but only if it is still the
// registered one; a displaced session unregistering must not evict its
// replacement.
func (p *Presence) Unregister(s *ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[s.UserID]; ok && cur == s {
		delete(p.sessions, s.UserID)
		p.logger.Info("client session unregistered", zap.Int64("user_id", s.UserID))
	}
}

// Get returns the session for a user, or nil if not connected.
func (p *Presence) Get(userID int64) *ClientSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[userID]
}

// GetByUsername finds a session by username (case-insensitive).
func (p *Presence) GetByUsername(name string) *ClientSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nameLower := strings.ToLower(name)
	for _, s := range p.sessions {
		if strings.ToLower(s.Username) == nameLower {
			return s
		}
	}
	return nil
}

// IsOnline reports whether a user is currently connected.
func (p *Presence) IsOnline(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.sessions[userID]
	return ok
}

// Count returns the number of currently connected sessions.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// All returns a snapshot slice of all current sessions.
func (p *Presence) All() []*ClientSession {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ClientSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	return out
}

// BroadcastAll sends a raw pre-encoded packet to every connected session.
// Uses non-blocking send so slow connections cannot stall the broadcast.
func (p *Presence) BroadcastAll(data []byte) {
	for _, s := range p.All() {
		select {
		case s.SendChan <- data:
		default:
			p.logger.Warn("broadcast dropped packet for slow client",
				zap.Int64("user_id", s.UserID))
		}
	}
}

// BroadcastPacket sends a packet to every connected session (typed version).
func (p *Presence) BroadcastPacket(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		p.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	p.BroadcastAll(data)
}

// CloseAll gracefully closes all connected sessions and waits briefly for
// them to drain.
func (p *Presence) CloseAll() {
	sessions := p.All()
	p.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if p.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
