package narrator

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/eigensight/internal/config"
	"github.com/eigensight/pkg/frames"
)

// stubModel records every request and answers with canned text.
type stubModel struct {
	mu       sync.Mutex
	requests [][]llms.MessageContent
	reply    string
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, messages)
	m.mu.Unlock()
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.reply}},
	}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.reply, nil
}

func (m *stubModel) lastRequest() []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func flatten(messages []llms.MessageContent) string {
	var sb strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				sb.WriteString(text.Text)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.AI.Temperature = 0.6
	cfg.AI.MaxTokens = 1000
	return cfg
}

func dialTestServer(t *testing.T, model *stubModel) *websocket.Conn {
	t.Helper()

	server := NewServer(0, NewLLMClientWithModel(model, testConfig()))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	raw, err := frames.Encode(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readFrame(t *testing.T, conn *websocket.Conn, out interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func matrixFrame(det, disc float64) frames.Matrix {
	return frames.Matrix{
		Kind: frames.KindMatrix,
		A:    1, B: 0, C: 0, D: det,
		Trace: 1 + det,
		Det:   det,
		Disc:  disc,
	}
}

func TestMatrixProducesNarration(t *testing.T) {
	model := &stubModel{reply: "The plane stretches by 2 along y."}
	conn := dialTestServer(t, model)

	send(t, conn, matrixFrame(2, 1))

	var narration frames.Narration
	readFrame(t, conn, &narration)
	assert.Equal(t, frames.KindNarration, narration.Kind)
	assert.Equal(t, "The plane stretches by 2 along y.", narration.Text)

	prompt := flatten(model.lastRequest())
	assert.Contains(t, prompt, "[[1.00, 0.00], [0.00, 2.00]]")
	assert.Contains(t, prompt, "basis vector")
}

func TestConceptProgression(t *testing.T) {
	model := &stubModel{reply: "narration"}
	conn := dialTestServer(t, model)

	// First matrix teaches basis vectors.
	send(t, conn, matrixFrame(2, 1))
	var n frames.Narration
	readFrame(t, conn, &n)
	first := flatten(model.lastRequest())
	assert.Contains(t, first, "basis vector")
	assert.NotContains(t, first, "Test vectors")

	// Second teaches test vectors, and eigenvectors once basis is known.
	send(t, conn, matrixFrame(3, 1))
	readFrame(t, conn, &n)
	second := flatten(model.lastRequest())
	assert.NotContains(t, second, "basis vector is one of")
	assert.Contains(t, second, "Test vectors")
	assert.Contains(t, second, "eigenvector")

	// Nothing left to teach afterwards.
	send(t, conn, matrixFrame(4, 1))
	readFrame(t, conn, &n)
	third := flatten(model.lastRequest())
	assert.NotContains(t, third, "Test vectors")
	assert.NotContains(t, third, "eigenvector keeps its direction")
}

func TestNarrationMentionsChanges(t *testing.T) {
	model := &stubModel{reply: "narration"}
	conn := dialTestServer(t, model)

	send(t, conn, matrixFrame(2, 1))
	var n frames.Narration
	readFrame(t, conn, &n)

	// Determinant sign flip should be called out.
	send(t, conn, matrixFrame(-2, 1))
	readFrame(t, conn, &n)
	prompt := flatten(model.lastRequest())
	assert.Contains(t, prompt, "orientation reversed")
}

func TestCommentProducesReply(t *testing.T) {
	model := &stubModel{reply: "det means area scaling"}
	conn := dialTestServer(t, model)

	send(t, conn, matrixFrame(2, 1))
	var n frames.Narration
	readFrame(t, conn, &n)

	send(t, conn, frames.NewComment("anchor-7", "what is det?", "determinant", "the paragraph", false))

	var reply frames.Reply
	readFrame(t, conn, &reply)
	assert.Equal(t, frames.KindReply, reply.Kind)
	assert.Equal(t, "anchor-7", reply.TargetID)
	assert.Equal(t, "det means area scaling", reply.Text)

	prompt := flatten(model.lastRequest())
	assert.Contains(t, prompt, "Highlighted snippet: 'determinant'")
	assert.Contains(t, prompt, "Visitor comment: 'what is det?'")
}

func TestFollowupCommentPrompt(t *testing.T) {
	model := &stubModel{reply: "sure"}
	conn := dialTestServer(t, model)

	send(t, conn, frames.NewComment("anchor-7", "and shear?", "determinant", "", true))

	var reply frames.Reply
	readFrame(t, conn, &reply)

	prompt := flatten(model.lastRequest())
	assert.Contains(t, prompt, "follow-up question in a comment thread")
	assert.Contains(t, prompt, "previously highlighted: 'determinant'")
}

func TestChatCarriesLastNarrative(t *testing.T) {
	model := &stubModel{reply: "the stretch you see"}
	conn := dialTestServer(t, model)

	send(t, conn, matrixFrame(2, 1))
	var n frames.Narration
	readFrame(t, conn, &n)

	send(t, conn, frames.NewChat("what am I looking at?"))

	var chatReply frames.ChatReply
	readFrame(t, conn, &chatReply)
	assert.Equal(t, frames.KindChatReply, chatReply.Kind)
	assert.Equal(t, "the stretch you see", chatReply.Text)

	prompt := flatten(model.lastRequest())
	assert.Contains(t, prompt, "Last explanation: 'the stretch you see'")
}

func TestChatHistoryWindowed(t *testing.T) {
	model := &stubModel{reply: "ok"}
	conn := dialTestServer(t, model)

	for i := 0; i < 5; i++ {
		send(t, conn, frames.NewChat("question"))
		var reply frames.ChatReply
		readFrame(t, conn, &reply)
	}

	// 5 questions and 4 answers in history by the last request, windowed to
	// 6 turns plus the system message.
	last := model.lastRequest()
	assert.LessOrEqual(t, len(last), chatHistoryWindow+1)
}

func TestChatHistoryResetOnMatrix(t *testing.T) {
	model := &stubModel{reply: "ok"}
	conn := dialTestServer(t, model)

	send(t, conn, frames.NewChat("first question"))
	var reply frames.ChatReply
	readFrame(t, conn, &reply)

	send(t, conn, matrixFrame(2, 1))
	var n frames.Narration
	readFrame(t, conn, &n)

	send(t, conn, frames.NewChat("second question"))
	readFrame(t, conn, &reply)

	// Only the system message and the fresh question: the old history was
	// cleared with the context change.
	last := model.lastRequest()
	require.Len(t, last, 2)
	assert.NotContains(t, flatten(last), "first question")
}

func TestMalformedAndUnknownFramesSkipped(t *testing.T) {
	model := &stubModel{reply: "still here"}
	conn := dialTestServer(t, model)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"mystery"}`)))

	send(t, conn, frames.NewChat("are you alive?"))

	var reply frames.ChatReply
	readFrame(t, conn, &reply)
	assert.Equal(t, "still here", reply.Text)
}
