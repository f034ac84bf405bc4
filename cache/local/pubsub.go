package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalPubSub is an in-process fan-out pub/sub used when no Redis is
// configured. Delivery is best-effort: a subscriber whose buffer is full
// misses the message rather than blocking the publisher.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan *LocalMessage]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[chan *LocalMessage]struct{}),
		bufSize: bufSize,
	}
}

// Publish fans message out to every subscriber of channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for ch := range ps.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a message stream covering all the given channels plus a
// cancel function. Cancel detaches the subscriber and closes the stream;
// calling it twice panics on the double close, so callers hold it once.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)

	ps.mu.Lock()
	for _, name := range channels {
		if ps.subs[name] == nil {
			ps.subs[name] = make(map[chan *LocalMessage]struct{})
		}
		ps.subs[name][ch] = struct{}{}
	}
	ps.mu.Unlock()

	cancel := func() {
		ps.mu.Lock()
		for _, name := range channels {
			delete(ps.subs[name], ch)
			if len(ps.subs[name]) == 0 {
				delete(ps.subs, name)
			}
		}
		ps.mu.Unlock()
		close(ch)
	}
	return ch, cancel, nil
}
