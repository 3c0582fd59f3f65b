// Package anchor tracks the stable identifiers bound to highlighted spans of
// narration text. Each anchor roots one conversation thread.
package anchor

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/eigensight/internal/conversation"
)

// ErrInvalidAnchor is returned when a caller tries to create an anchor from
// an empty selection or resolve an id that was never allocated.
var ErrInvalidAnchor = errors.New("invalid anchor")

// Anchor binds a unique id to the span of source text it denotes.
type Anchor struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Context string `json:"context"`
}

// Registry allocates anchors and owns their lifetime. Every anchor gets a
// draft conversation thread at creation; both are destroyed together on
// session reset.
type Registry struct {
	mu      sync.Mutex
	anchors map[string]Anchor
	threads *conversation.Store
}

// NewRegistry creates an empty registry whose anchors seed draft threads in
// the given store.
func NewRegistry(threads *conversation.Store) *Registry {
	return &Registry{
		anchors: make(map[string]Anchor),
		threads: threads,
	}
}

// Create allocates a fresh anchor for the highlighted snippet and registers
// its draft thread. The snippet must be non-empty: a collapsed selection
// never produces an anchor.
func (r *Registry) Create(snippet, context string) (string, error) {
	if snippet == "" {
		return "", ErrInvalidAnchor
	}

	id := uuid.NewString()

	r.mu.Lock()
	r.anchors[id] = Anchor{ID: id, Snippet: snippet, Context: context}
	r.mu.Unlock()

	if r.threads != nil {
		r.threads.CreateDraft(id)
	}
	return id, nil
}

// Resolve returns the anchor for id.
func (r *Registry) Resolve(id string) (Anchor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.anchors[id]
	return a, ok
}

// Count returns the number of live anchors.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.anchors)
}

// ClearAll removes every anchor and its thread. Invoked on session reset,
// when a new base narration supersedes all anchored commentary.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.anchors = make(map[string]Anchor)
	r.mu.Unlock()

	if r.threads != nil {
		r.threads.Clear()
	}
}
