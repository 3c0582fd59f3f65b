// Package frames defines the JSON wire protocol shared by the Eigensight
// client core and the narrator service. Every message on the channel is one
// frame: a JSON object carrying a "kind" discriminant plus kind-specific
// fields.
package frames

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame kinds. Narration, ChatReply and Reply flow server→client; Comment,
// Chat and Matrix flow client→server.
const (
	KindNarration = "narration"
	KindChatReply = "chat-reply"
	KindReply     = "reply"
	KindComment   = "comment"
	KindChat      = "chat"
	KindMatrix    = "matrix"
)

// ErrMissingKind is returned when a frame parses as JSON but carries no kind
// discriminant.
var ErrMissingKind = errors.New("frame has no kind field")

// Envelope is the minimal view of any frame, used to pick a decoder.
type Envelope struct {
	Kind string `json:"kind"`
}

// Narration is the narrator's explanation of the current matrix state. It
// replaces the previous narration wholesale.
type Narration struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// ChatReply answers a free-form chat question.
type ChatReply struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Reply answers a comment thread anchored to a narration passage. TargetID is
// the anchor id the comment was submitted under.
type Reply struct {
	Kind     string `json:"kind"`
	TargetID string `json:"targetId"`
	Text     string `json:"text"`
}

// Comment submits a user question anchored to a highlighted snippet of the
// narration. IsFollowup is advisory metadata for the narrator; the client
// derives follow-up status from its own thread state.
type Comment struct {
	Kind       string `json:"kind"`
	TargetID   string `json:"targetId"`
	Text       string `json:"text"`
	Snippet    string `json:"snippet"`
	Paragraph  string `json:"paragraph"`
	IsFollowup bool   `json:"isFollowup,omitempty"`
}

// Chat submits a free-form question not anchored to any passage.
type Chat struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Matrix reports a new transformation state to the narrator. The client
// computes the derived quantities (trace, determinant, discriminant) so the
// narrator never re-does the algebra.
type Matrix struct {
	Kind        string    `json:"kind"`
	A           float64   `json:"a"`
	B           float64   `json:"b"`
	C           float64   `json:"c"`
	D           float64   `json:"d"`
	Trace       float64   `json:"trace"`
	Det         float64   `json:"det"`
	Disc        float64   `json:"disc"`
	Collapsed   bool      `json:"collapsed"`
	Eigenvalues []float64 `json:"eigenvalues,omitempty"`
}

// Encode marshals a frame to its wire form.
func Encode(frame interface{}) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// PeekKind extracts the kind discriminant from a raw frame without decoding
// the full payload. Returns ErrMissingKind when the object has no kind, or a
// JSON error when the bytes are not a valid object.
func PeekKind(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("failed to parse frame: %w", err)
	}
	if env.Kind == "" {
		return "", ErrMissingKind
	}
	return env.Kind, nil
}

// NewNarration builds a narration frame.
func NewNarration(text string) Narration {
	return Narration{Kind: KindNarration, Text: text}
}

// NewChatReply builds a chat-reply frame.
func NewChatReply(text string) ChatReply {
	return ChatReply{Kind: KindChatReply, Text: text}
}

// NewReply builds a reply frame for the given anchor.
func NewReply(targetID, text string) Reply {
	return Reply{Kind: KindReply, TargetID: targetID, Text: text}
}

// NewComment builds a comment frame for the given anchor.
func NewComment(targetID, text, snippet, paragraph string, isFollowup bool) Comment {
	return Comment{
		Kind:       KindComment,
		TargetID:   targetID,
		Text:       text,
		Snippet:    snippet,
		Paragraph:  paragraph,
		IsFollowup: isFollowup,
	}
}

// NewChat builds a chat frame.
func NewChat(text string) Chat {
	return Chat{Kind: KindChat, Text: text}
}
