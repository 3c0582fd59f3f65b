// Package narrator is the server side of Eigensight: a websocket service
// that turns matrix events into narration and answers anchored comments and
// free-form chat, backed by an LLM.
package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/eigensight/internal/conversation"
	"github.com/eigensight/pkg/frames"
	"github.com/eigensight/pkg/matrix"
)

// Server hosts the /ws frame endpoint and a health check.
type Server struct {
	echo     *echo.Echo
	port     int
	llm      *LLMClient
	upgrader websocket.Upgrader
}

// NewServer creates the narrator server.
func NewServer(port int, llm *LLMClient) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		llm:  llm,
		upgrader: websocket.Upgrader{
			// The visualization page may be served from anywhere.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})
	s.echo.GET("/ws", s.handleWS)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins the narrator server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}
	defer conn.Close()

	state := newSessionState()
	ctx := c.Request().Context()

	// Frames are handled sequentially per connection, so replies go out in
	// the order their requests arrived.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("websocket closed")
			return nil
		}
		if err := s.handleFrame(ctx, conn, state, raw); err != nil {
			log.Warn().Err(err).Msg("frame handling failed")
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, state *sessionState, raw []byte) error {
	kind, err := frames.PeekKind(raw)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return nil
	}

	switch kind {
	case frames.KindMatrix:
		return s.handleMatrix(ctx, conn, state, raw)
	case frames.KindComment:
		return s.handleComment(ctx, conn, state, raw)
	case frames.KindChat:
		return s.handleChat(ctx, conn, state, raw)
	default:
		// Unknown kinds are ignored, not errors.
		return nil
	}
}

func (s *Server) handleMatrix(ctx context.Context, conn *websocket.Conn, state *sessionState, raw []byte) error {
	var f frames.Matrix
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable matrix frame")
		return nil
	}

	st := matrix.FromFrame(f)
	prev := state.observeMatrix(st)
	concepts := state.nextConcepts(st)
	prompt := buildNarratorPrompt(st, st.Changes(prev), concepts)

	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("narration generation failed: %w", err)
	}
	state.lastNarrative = text

	return s.send(conn, frames.NewNarration(text))
}

func (s *Server) handleComment(ctx context.Context, conn *websocket.Conn, state *sessionState, raw []byte) error {
	var f frames.Comment
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable comment frame")
		return nil
	}

	paragraph := f.Paragraph
	if paragraph == "" {
		paragraph = state.lastNarrative
	}
	prompt := buildCommentPrompt(state.current, f.Snippet, paragraph, f.Text, f.IsFollowup)

	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("reply generation failed: %w", err)
	}

	return s.send(conn, frames.NewReply(f.TargetID, text))
}

func (s *Server) handleChat(ctx context.Context, conn *websocket.Conn, state *sessionState, raw []byte) error {
	var f frames.Chat
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable chat frame")
		return nil
	}

	state.appendChat(conversation.RoleUser, f.Text)
	systemContext := buildChatContext(state.current, state.lastNarrative)

	answer, err := s.llm.Chat(ctx, systemContext, state.recentChat())
	if err != nil {
		return fmt.Errorf("chat answer generation failed: %w", err)
	}
	state.appendChat(conversation.RoleAssistant, answer)

	return s.send(conn, frames.NewChatReply(answer))
}

func (s *Server) send(conn *websocket.Conn, frame interface{}) error {
	data, err := frames.Encode(frame)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}
