// Package session wires the channel, router, anchor registry, conversation
// store and transcript into the client-side sync core. It owns the session
// reset: whenever a new base narration arrives, the narration line is
// replaced, every anchor and thread is cleared, and reset observers are
// notified so visual bindings can invalidate.
package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eigensight/internal/anchor"
	"github.com/eigensight/internal/channel"
	"github.com/eigensight/internal/conversation"
	"github.com/eigensight/internal/router"
	"github.com/eigensight/pkg/frames"
)

// ResetObserver is notified with the new narration line whenever a session
// reset fires.
type ResetObserver func(line string)

// Session is the client-side sync core. All server frames flow through its
// router subscriptions; all user actions flow out through its send methods.
// Handlers are registered once at setup and read current state through the
// store's accessors at call time, never through values captured at setup.
type Session struct {
	manager    *channel.Manager
	router     *router.Router
	registry   *anchor.Registry
	store      *conversation.Store
	transcript *Transcript

	mu        sync.Mutex
	observers []ResetObserver
}

// New builds a session that dials endpoint on demand.
func New(endpoint string, dialer channel.Dialer) *Session {
	s := &Session{
		router:     router.New(),
		transcript: NewTranscript(),
	}

	// The snippet lookup resolves through the registry at call time, so an
	// orphan reply seeds from whatever the document currently displays.
	s.store = conversation.NewStore(func(id string) (string, bool) {
		a, ok := s.registry.Resolve(id)
		if !ok {
			return "", false
		}
		return a.Snippet, true
	})
	s.registry = anchor.NewRegistry(s.store)

	s.manager = channel.NewManager(endpoint, dialer, func(raw []byte) {
		s.router.Dispatch(raw)
	})

	s.router.Subscribe(frames.KindNarration, s.handleNarration)
	s.router.Subscribe(frames.KindReply, s.handleReply)
	s.router.Subscribe(frames.KindChatReply, s.handleChatReply)

	return s
}

// Router exposes the frame router so additional UI surfaces can subscribe to
// the kinds they render.
func (s *Session) Router() *router.Router {
	return s.router
}

// Registry exposes the anchor registry.
func (s *Session) Registry() *anchor.Registry {
	return s.registry
}

// Store exposes the conversation store.
func (s *Session) Store() *conversation.Store {
	return s.store
}

// Transcript exposes the display transcript.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// OnReset registers an observer for the session reset event.
func (s *Session) OnReset(fn ResetObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// CreateAnchor allocates an anchor for a highlighted snippet and its
// surrounding paragraph. The snippet must be non-empty.
func (s *Session) CreateAnchor(snippet, paragraph string) (string, error) {
	return s.registry.Create(snippet, paragraph)
}

// CommentOn submits a user question under an anchor. The turn is appended to
// the thread synchronously and the resulting snapshot returned before any
// network traffic, so the UI never shows a gap between sent and shown. The
// comment frame itself goes out once the channel is ready.
func (s *Session) CommentOn(id, text string) ([]conversation.Turn, error) {
	a, ok := s.registry.Resolve(id)
	if !ok {
		return nil, anchor.ErrInvalidAnchor
	}

	// Follow-up status is derived from local thread state, not tracked
	// separately: the thread already holding turns means this question
	// continues an existing exchange.
	isFollowup := false
	if t, found := s.store.ReadThread(id); found && len(t.Turns) > 0 {
		isFollowup = true
	}

	turns, err := s.store.SubmitUserTurn(id, text)
	if err != nil {
		return nil, err
	}

	frame := frames.NewComment(id, text, a.Snippet, a.Context, isFollowup)
	s.manager.WhenReady(func() {
		if err := s.manager.Acquire().Send(frame); err != nil {
			log.Warn().Err(err).Str("anchor", id).Msg("comment send dropped")
		}
	})
	return turns, nil
}

// SendChat submits a free-form question. The user line lands in the chat
// transcript immediately; the answer arrives later as a chat-reply frame.
func (s *Session) SendChat(text string) {
	if text == "" {
		return
	}
	s.transcript.AppendChat(conversation.RoleUser, text)

	frame := frames.NewChat(text)
	s.manager.WhenReady(func() {
		if err := s.manager.Acquire().Send(frame); err != nil {
			log.Warn().Err(err).Msg("chat send dropped")
		}
	})
}

// SendMatrix reports a new transformation state to the narrator. The
// narrator answers with a narration frame, which triggers the session reset.
func (s *Session) SendMatrix(state frames.Matrix) {
	state.Kind = frames.KindMatrix
	s.manager.WhenReady(func() {
		if err := s.manager.Acquire().Send(state); err != nil {
			log.Warn().Err(err).Msg("matrix send dropped")
		}
	})
}

func (s *Session) handleNarration(raw []byte) {
	var f frames.Narration
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable narration frame")
		return
	}

	// Session reset: new base narration supersedes all anchored commentary.
	s.transcript.ReplaceNarration(f.Text)
	s.registry.ClearAll()

	s.mu.Lock()
	observers := make([]ResetObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(f.Text)
	}
	log.Debug().Int("chars", len(f.Text)).Msg("narration replaced, session reset")
}

func (s *Session) handleReply(raw []byte) {
	var f frames.Reply
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable reply frame")
		return
	}
	s.store.ApplyAssistantReply(f.TargetID, f.Text)
}

func (s *Session) handleChatReply(raw []byte) {
	var f frames.ChatReply
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable chat-reply frame")
		return
	}
	s.transcript.AppendChat(conversation.RoleAssistant, f.Text)
}
