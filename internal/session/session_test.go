package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigensight/internal/channel"
	"github.com/eigensight/internal/conversation"
	"github.com/eigensight/pkg/frames"
)

// pipeConn is an in-memory stand-in for the websocket connection.
type pipeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// deliver pushes a server frame into the session's read loop.
func (c *pipeConn) deliver(t *testing.T, frame interface{}) {
	t.Helper()
	raw, err := frames.Encode(frame)
	require.NoError(t, err)
	c.inbound <- raw
}

type pipeDialer struct {
	mu   sync.Mutex
	conn *pipeConn
}

func (d *pipeDialer) Dial(ctx context.Context, endpoint string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = newPipeConn()
	return d.conn, nil
}

func (d *pipeDialer) current() *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func TestCommentFlow(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	id, err := s.CreateAnchor("eigen", "the whole paragraph about eigenvectors")
	require.NoError(t, err)

	// Optimistic: the snapshot shows the turn before any network traffic.
	turns, err := s.CommentOn(id, "why?")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleUser, Content: "why?"}, turns[0])

	thread, ok := s.Store().ReadThread(id)
	require.True(t, ok)
	assert.Equal(t, conversation.StatusPending, thread.Status)

	// The comment frame goes out once the channel opens.
	var sent frames.Comment
	require.Eventually(t, func() bool {
		conn := dialer.current()
		if conn == nil {
			return false
		}
		for _, raw := range conn.sentFrames() {
			if json.Unmarshal(raw, &sent) == nil && sent.Kind == frames.KindComment {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, id, sent.TargetID)
	assert.Equal(t, "why?", sent.Text)
	assert.Equal(t, "eigen", sent.Snippet)
	assert.Equal(t, "the whole paragraph about eigenvectors", sent.Paragraph)
	assert.False(t, sent.IsFollowup)

	// The narrator's reply settles the thread.
	dialer.current().deliver(t, frames.NewReply(id, "because..."))
	require.Eventually(t, func() bool {
		thread, _ := s.Store().ReadThread(id)
		return thread.Status == conversation.StatusSettled
	}, 2*time.Second, 10*time.Millisecond)

	thread, _ = s.Store().ReadThread(id)
	require.Len(t, thread.Turns, 2)
	assert.Equal(t, "because...", thread.Turns[1].Content)
}

func TestFollowupDerivedFromThreadState(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	id, err := s.CreateAnchor("snippet", "paragraph")
	require.NoError(t, err)

	_, err = s.CommentOn(id, "first question")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return dialer.current() != nil && len(dialer.current().sentFrames()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	dialer.current().deliver(t, frames.NewReply(id, "first answer"))

	require.Eventually(t, func() bool {
		thread, _ := s.Store().ReadThread(id)
		return thread.Status == conversation.StatusSettled
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.CommentOn(id, "but what about shear?")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(dialer.current().sentFrames()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	var second frames.Comment
	raw := dialer.current().sentFrames()[1]
	require.NoError(t, json.Unmarshal(raw, &second))
	assert.True(t, second.IsFollowup)
}

func TestCommentOnUnknownAnchor(t *testing.T) {
	s := New("ws://test/ws", &pipeDialer{})
	_, err := s.CommentOn("missing", "question")
	assert.Error(t, err)
}

func TestSessionReset(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	// Two anchors with active threads plus some chat history.
	id1, err := s.CreateAnchor("det", "determinant paragraph")
	require.NoError(t, err)
	id2, err := s.CreateAnchor("disc", "discriminant paragraph")
	require.NoError(t, err)
	_, err = s.CommentOn(id1, "what is det?")
	require.NoError(t, err)

	s.SendChat("hi narrator")
	s.Transcript().AppendChat(conversation.RoleAssistant, "hi yourself")

	reset := make(chan string, 1)
	s.OnReset(func(line string) { reset <- line })

	require.Eventually(t, func() bool {
		return dialer.current() != nil
	}, 2*time.Second, 10*time.Millisecond)
	dialer.current().deliver(t, frames.NewNarration("Matrix is now singular"))

	select {
	case line := <-reset:
		assert.Equal(t, "Matrix is now singular", line)
	case <-time.After(2 * time.Second):
		t.Fatal("reset observer never fired")
	}

	// Narration becomes the singleton new line.
	assert.Equal(t, []string{"Matrix is now singular"}, s.Transcript().Narration())
	assert.Zero(t, s.Registry().Count())

	// Anchors and threads are gone.
	_, ok := s.Registry().Resolve(id1)
	assert.False(t, ok)
	assert.False(t, s.Store().HasThread(id1))
	assert.False(t, s.Store().HasThread(id2))

	// Chat history survives the reset.
	chat := s.Transcript().Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "hi narrator", chat[0].Text)
	assert.Equal(t, "hi yourself", chat[1].Text)
}

func TestChatFlow(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	s.SendChat("what does the trace mean?")

	chat := s.Transcript().Chat()
	require.Len(t, chat, 1)
	assert.Equal(t, conversation.RoleUser, chat[0].Role)

	require.Eventually(t, func() bool {
		return dialer.current() != nil && len(dialer.current().sentFrames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dialer.current().deliver(t, frames.NewChatReply("sum of the diagonal"))

	require.Eventually(t, func() bool {
		return len(s.Transcript().Chat()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	chat = s.Transcript().Chat()
	assert.Equal(t, conversation.RoleAssistant, chat[1].Role)
	assert.Equal(t, "sum of the diagonal", chat[1].Text)
}

func TestOrphanReplySeedsFromDisplayedSnippet(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	// The anchor is still displayed but its thread state was lost.
	id, err := s.CreateAnchor("orig snippet", "paragraph")
	require.NoError(t, err)
	s.Store().Remove(id)

	s.SendChat("wake the channel")
	require.Eventually(t, func() bool {
		return dialer.current() != nil
	}, 2*time.Second, 10*time.Millisecond)

	dialer.current().deliver(t, frames.NewReply(id, "reply text"))

	require.Eventually(t, func() bool {
		return s.Store().HasThread(id)
	}, 2*time.Second, 10*time.Millisecond)

	thread, _ := s.Store().ReadThread(id)
	assert.Equal(t, conversation.StatusSettled, thread.Status)
	require.Len(t, thread.Turns, 2)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleUser, Content: "orig snippet"}, thread.Turns[0])
	assert.Equal(t, conversation.Turn{Role: conversation.RoleAssistant, Content: "reply text"}, thread.Turns[1])
}

func TestMatrixFrameGoesOut(t *testing.T) {
	dialer := &pipeDialer{}
	s := New("ws://test/ws", dialer)

	s.SendMatrix(frames.Matrix{A: 1, B: 0, C: 0, D: 2, Trace: 3, Det: 2, Disc: 1})

	require.Eventually(t, func() bool {
		return dialer.current() != nil && len(dialer.current().sentFrames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var f frames.Matrix
	require.NoError(t, json.Unmarshal(dialer.current().sentFrames()[0], &f))
	assert.Equal(t, frames.KindMatrix, f.Kind)
	assert.Equal(t, 2.0, f.Det)
}
