package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/middleware/validation"
	"github.com/personas-nlq/backend/internal/query"
	"github.com/personas-nlq/backend/pkg/logger"
)

// Answerer is satisfied by *query.Engine.
type Answerer interface {
	Answer(ctx context.Context, question string) (*query.Response, error)
}

type QueryHandler struct {
	engine Answerer
}

func NewQueryHandler(engine Answerer) *QueryHandler {
	return &QueryHandler{
		engine: engine,
	}
}

// HandleQuery serves POST /consulta-natural and its /query alias. The
// question is read from Locals, where validation.QuestionMiddleware put it.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	question := validation.Question(c)

	response, err := h.engine.Answer(c.UserContext(), question)
	if errors.Is(err, query.ErrEmptyQuery) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "La consulta no puede estar vacía",
		})
	}
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error al procesar la consulta",
		})
	}

	return c.JSON(response)
}
