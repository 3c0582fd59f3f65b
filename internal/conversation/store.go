// Package conversation is the reconciliation engine for anchor-bound
// discussion threads. It merges optimistic local user turns with
// asynchronously arriving narrator replies while keeping every thread in
// strict USER/ASSISTANT alternation.
package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status describes where a thread is in its lifecycle. A thread is DRAFT
// until the first question is submitted, PENDING while a question awaits its
// reply, and SETTLED once the latest question has been answered.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
)

// Turn is one message within a thread.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Thread is the ordered conversation under one anchor.
type Thread struct {
	Turns  []Turn `json:"turns"`
	Status Status `json:"status"`
}

var (
	// ErrEmptyContent is returned when a user turn carries no text.
	ErrEmptyContent = errors.New("turn content must not be empty")
	// ErrUnknownThread is returned when an operation names an id with no
	// thread and no way to synthesize one.
	ErrUnknownThread = errors.New("no thread for id")
)

// SnippetFunc resolves an anchor id to the snippet text currently displayed
// for it. The store uses it to seed a user turn when a reply arrives for an
// anchor whose local thread state was lost.
type SnippetFunc func(id string) (string, bool)

// Store holds every live thread, keyed by anchor id. All mutation goes
// through its methods; reads always reflect the latest completed mutation.
type Store struct {
	mu       sync.Mutex
	threads  map[string]*Thread
	snippets SnippetFunc
}

// NewStore creates an empty store. snippets may be nil, in which case orphan
// replies are seeded with an empty question marker.
func NewStore(snippets SnippetFunc) *Store {
	return &Store{
		threads:  make(map[string]*Thread),
		snippets: snippets,
	}
}

// CreateDraft registers an empty thread for a freshly created anchor. It is
// a no-op when a thread already exists for the id.
func (s *Store) CreateDraft(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; ok {
		return
	}
	s.threads[id] = &Thread{Status: StatusDraft}
}

// SubmitUserTurn appends a user question to the thread and returns the
// resulting turn snapshot synchronously, so callers can render it before any
// network round-trip completes.
//
// Submitting while a prior question is still unanswered supersedes it: the
// pending user turn takes the new content. The earlier send is not retracted
// (it cannot be), but the pending slot always shows the latest question, and
// strict alternation is preserved at every step.
func (s *Store) SubmitUserTurn(id, content string) ([]Turn, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}

	if n := len(t.Turns); n > 0 && t.Turns[n-1].Role == RoleUser {
		t.Turns[n-1].Content = content
	} else {
		t.Turns = append(t.Turns, Turn{Role: RoleUser, Content: content})
	}
	t.Status = StatusPending

	return snapshotTurns(t), nil
}

// ApplyAssistantReply reconciles an inbound reply frame into the thread for
// id. It never fails: replies for unknown ids synthesize a thread seeded
// from the anchor's displayed snippet, and redundant replies for an
// already-settled thread are discarded.
func (s *Store) ApplyAssistantReply(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		// Local state for this anchor is gone (or never existed). Seed a
		// user turn from whatever the document still shows for the anchor so
		// the reply lands in a well-formed thread.
		seed := ""
		if s.snippets != nil {
			if snippet, found := s.snippets(id); found {
				seed = snippet
			}
		}
		log.Debug().Str("anchor", id).Msg("reply for unknown thread, synthesizing from snippet")
		t = &Thread{Turns: []Turn{{Role: RoleUser, Content: seed}}}
		s.threads[id] = t
	}

	n := len(t.Turns)
	switch {
	case n == 0:
		// A draft thread got a reply before any question was submitted.
		// Repair with the snippet text so alternation starts with USER.
		seed := ""
		if s.snippets != nil {
			if snippet, found := s.snippets(id); found {
				seed = snippet
			}
		}
		t.Turns = append(t.Turns, Turn{Role: RoleUser, Content: seed})
	case t.Turns[n-1].Role == RoleAssistant:
		// The latest question already has its answer; a second reply is
		// redundant delivery, not new information.
		log.Debug().Str("anchor", id).Msg("discarding duplicate reply for settled thread")
		return
	}

	t.Turns = append(t.Turns, Turn{Role: RoleAssistant, Content: content})
	t.Status = StatusSettled
}

// ReadThread returns a copy of the thread for id. The copy reflects every
// mutation completed before the call; callers must re-read after any
// operation they trigger rather than caching snapshots across asynchronous
// boundaries.
func (s *Store) ReadThread(id string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	return Thread{Turns: snapshotTurns(t), Status: t.Status}, true
}

// HasThread reports whether a thread exists for id.
func (s *Store) HasThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[id]
	return ok
}

// Remove drops the thread for id, if any.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
}

// Clear drops every thread. Fired on session reset, when a new base
// narration supersedes all anchored commentary.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*Thread)
}

func snapshotTurns(t *Thread) []Turn {
	out := make([]Turn, len(t.Turns))
	copy(out, t.Turns)
	return out
}
