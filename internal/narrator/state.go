package narrator

import (
	"github.com/eigensight/internal/conversation"
	"github.com/eigensight/pkg/matrix"
)

// chatHistoryWindow bounds how many chat turns travel with each chat prompt,
// to stay within the model's context window.
const chatHistoryWindow = 6

// sessionState is the narrator's memory for one connection: which concepts
// it has already explained, the previous matrix so it can narrate what
// changed, the last narrative for chat context, and the running chat
// history. A new matrix event clears the chat history because the context it
// referred to is gone.
type sessionState struct {
	concepts      map[string]bool
	current       *matrix.State
	lastNarrative string
	chatHistory   []conversation.Turn
}

func newSessionState() *sessionState {
	return &sessionState{concepts: make(map[string]bool)}
}

// observeMatrix records a new matrix state, returning the previous one for
// change narration. Chat history is reset: the conversation context changed.
func (s *sessionState) observeMatrix(state matrix.State) *matrix.State {
	prev := s.current
	s.current = &state
	s.chatHistory = nil
	return prev
}

// nextConcepts returns the definitions still owed to the user, in teaching
// order: basis first, then test vectors, then eigenvectors (only once real
// eigenvectors exist to point at). The returned concepts are marked taught.
func (s *sessionState) nextConcepts(state matrix.State) []string {
	var want []string
	if !s.concepts["basis"] {
		want = append(want, "basis")
	}
	if s.concepts["basis"] && !s.concepts["test"] {
		want = append(want, "test")
	}
	if state.Disc >= 0 && s.concepts["basis"] && !s.concepts["eigen"] {
		want = append(want, "eigen")
	}
	for _, c := range want {
		s.concepts[c] = true
	}
	return want
}

// appendChat records one chat turn.
func (s *sessionState) appendChat(role conversation.Role, content string) {
	s.chatHistory = append(s.chatHistory, conversation.Turn{Role: role, Content: content})
}

// recentChat returns the chat history windowed to the most recent turns.
func (s *sessionState) recentChat() []conversation.Turn {
	if len(s.chatHistory) <= chatHistoryWindow {
		return s.chatHistory
	}
	return s.chatHistory[len(s.chatHistory)-chatHistoryWindow:]
}
