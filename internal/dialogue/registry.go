package dialogue

import (
	"context"
	"sync"
)

// Creator opens a new backend conversation.
type Creator interface {
	CreateConversation(ctx context.Context) (string, error)
}

// Registry maps identities to conversation handles. A handle is created on
// first contact and never replaced.
type Registry struct {
	creator Creator

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu     sync.Mutex
	handle string
}

func NewRegistry(creator Creator) *Registry {
	return &Registry{
		creator: creator,
		slots:   make(map[string]*slot),
	}
}

func (r *Registry) slotFor(identity string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[identity]
	if !ok {
		s = &slot{}
		r.slots[identity] = s
	}
	return s
}

// Resolve returns the handle for identity, creating the conversation if
// there is none yet. Concurrent callers for one identity share a single
// creation; a failed creation records nothing, so the next call retries.
func (r *Registry) Resolve(ctx context.Context, identity string) (string, error) {
	s := r.slotFor(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != "" {
		return s.handle, nil
	}
	handle, err := r.creator.CreateConversation(ctx)
	if err != nil {
		return "", newError(KindBackendUnavailable, identity, err)
	}
	s.handle = handle
	return handle, nil
}

// Lookup returns the handle without creating one.
func (r *Registry) Lookup(identity string) (string, bool) {
	r.mu.Lock()
	s, ok := r.slots[identity]
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.handle != ""
}

// Len counts identities that hold a handle.
func (r *Registry) Len() int {
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.handle != "" {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
