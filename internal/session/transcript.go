package session

import (
	"sync"

	"github.com/eigensight/internal/conversation"
)

// ChatLine is one free-form chat exchange entry in the transcript.
type ChatLine struct {
	Role conversation.Role `json:"role"`
	Text string            `json:"text"`
}

// Transcript holds what the document displays below the visualization.
// Narration is state: it reflects the current matrix and is replaced
// wholesale when a new base narration arrives. Chat is history: it
// accumulates across narration changes and is never cleared by a reset.
type Transcript struct {
	mu        sync.Mutex
	narration []string
	chat      []ChatLine
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// ReplaceNarration replaces the narration with a singleton line.
func (t *Transcript) ReplaceNarration(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.narration = []string{line}
}

// AppendChat appends one chat exchange line. Chat lines survive narration
// resets.
func (t *Transcript) AppendChat(role conversation.Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chat = append(t.chat, ChatLine{Role: role, Text: text})
}

// Narration returns a copy of the current narration lines.
func (t *Transcript) Narration() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.narration))
	copy(out, t.narration)
	return out
}

// Chat returns a copy of the accumulated chat lines.
func (t *Transcript) Chat() []ChatLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ChatLine, len(t.chat))
	copy(out, t.chat)
	return out
}
