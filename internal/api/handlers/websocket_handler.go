package handlers

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/query"
	"github.com/personas-nlq/backend/pkg/logger"
)

// StagedAnswerer is satisfied by *query.Engine.
type StagedAnswerer interface {
	AnswerStaged(ctx context.Context, question string, onStage func(query.Stage)) (*query.Response, error)
}

type WebSocketHandler struct {
	engine         StagedAnswerer
	timeout        time.Duration
	maxQueryLength int
}

func NewWebSocketHandler(engine StagedAnswerer, timeout time.Duration, maxQueryLength int) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxQueryLength <= 0 {
		maxQueryLength = 1000
	}
	return &WebSocketHandler{
		engine:         engine,
		timeout:        timeout,
		maxQueryLength: maxQueryLength,
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	Consulta string `json:"consulta"`
	Content  string `json:"content"`
}

func (m wsMessage) question() string {
	if m.Consulta != "" {
		return m.Consulta
	}
	return m.Content
}

// HandleConnection serves GET /ws/consulta. Each {"type":"query"} message
// gets status frames for the pipeline stages, the answer in word chunks
// and a closing "complete" frame with the metadata.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read ended", zap.Error(err))
			}
			return
		}

		if msg.Type != "" && msg.Type != "query" {
			continue
		}

		question := strings.TrimSpace(msg.question())
		if utf8.RuneCountInString(question) > h.maxQueryLength {
			h.sendError(c, "La consulta excede la longitud máxima permitida")
			continue
		}

		if err := h.streamResponse(c, question); err != nil {
			logger.Warn("Failed to stream response", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, question string) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var writeErr error
	onStage := func(s query.Stage) {
		if writeErr == nil {
			writeErr = c.WriteJSON(map[string]interface{}{
				"type":  "status",
				"stage": string(s),
			})
		}
	}

	response, err := h.engine.AnswerStaged(ctx, question, onStage)
	if errors.Is(err, query.ErrEmptyQuery) {
		h.sendError(c, "La consulta no puede estar vacía")
		return nil
	}
	if err != nil {
		h.sendError(c, "Error al procesar la consulta")
		return nil
	}
	if writeErr != nil {
		return writeErr
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := c.WriteJSON(map[string]interface{}{
			"type":    "chunk",
			"content": chunk,
		}); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"answer":   response.Answer,
		"metadata": response.Metadata,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
