package ai

import (
	"context"
	"sync"
)

type conversationSlot struct {
	sem  chan struct{}
	refs int
}

// ConversationLocks allows one in-flight send per conversation id.
// Entries are dropped once nobody holds or waits for them.
type ConversationLocks struct {
	mu    sync.Mutex
	slots map[string]*conversationSlot
}

func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{slots: make(map[string]*conversationSlot)}
}

// Acquire blocks until the conversation is free or ctx is done. The returned
// release func must be called exactly once.
func (l *ConversationLocks) Acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &conversationSlot{sem: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.unref(id, slot)
		})
	}, nil
}

func (l *ConversationLocks) unref(id string, slot *conversationSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && l.slots[id] == slot {
		delete(l.slots, id)
	}
}

// Busy reports whether a send currently holds the conversation.
func (l *ConversationLocks) Busy(id string) bool {
	l.mu.Lock()
	slot, ok := l.slots[id]
	l.mu.Unlock()
	return ok && len(slot.sem) > 0
}
