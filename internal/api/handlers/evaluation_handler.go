package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/evaluation"
	"github.com/personas-nlq/backend/pkg/logger"
)

// BatteryRunner is satisfied by *evaluation.Evaluator.
type BatteryRunner interface {
	Run(ctx context.Context, battery evaluation.Battery) (*evaluation.Report, error)
}

type EvaluationHandler struct {
	runner  BatteryRunner
	battery evaluation.Battery
}

// NewEvaluationHandler runs battery unless a request brings its own cases.
func NewEvaluationHandler(runner BatteryRunner, battery evaluation.Battery) *EvaluationHandler {
	return &EvaluationHandler{runner: runner, battery: battery}
}

func (h *EvaluationHandler) Evaluate(c *fiber.Ctx) error {
	battery := h.battery

	if len(c.Body()) > 0 {
		var req struct {
			Name  string            `json:"name"`
			Cases []evaluation.Case `json:"cases"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Formato JSON inválido",
			})
		}
		var cases []evaluation.Case
		for _, cs := range req.Cases {
			if cs.Query = strings.TrimSpace(cs.Query); cs.Query != "" {
				cases = append(cases, cs)
			}
		}
		if len(cases) > 0 {
			battery = evaluation.Battery{Name: req.Name, Cases: cases}
			if battery.Name == "" {
				battery.Name = "request"
			}
		}
	}

	report, err := h.runner.Run(c.UserContext(), battery)
	if errors.Is(err, evaluation.ErrEmptyBattery) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "La batería no tiene consultas"})
	}
	if err != nil {
		logger.Error("Evaluation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error al ejecutar la evaluación",
		})
	}

	return c.JSON(report)
}
