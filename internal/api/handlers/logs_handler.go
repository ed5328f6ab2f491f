package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

// AuditLister is satisfied by *audit.Logger.
type AuditLister interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

type LogsHandler struct {
	audit AuditLister
}

func NewLogsHandler(audit AuditLister) *LogsHandler {
	return &LogsHandler{audit: audit}
}

// List serves GET /logs?accion=&texto=&desde=&hasta=&limit=. Dates are
// YYYY-MM-DD or RFC 3339; a bare "hasta" date covers the whole day.
func (h *LogsHandler) List(c *fiber.Ctx) error {
	filter := models.AuditFilter{
		Action: firstQuery(c, "accion", "action"),
		Text:   firstQuery(c, "texto", "q"),
		Limit:  c.QueryInt("limit", 0),
	}

	var err error
	if filter.From, err = parseDateParam(firstQuery(c, "desde", "from"), false); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Fecha 'desde' inválida"})
	}
	if filter.To, err = parseDateParam(firstQuery(c, "hasta", "to"), true); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Fecha 'hasta' inválida"})
	}

	records, err := h.audit.List(c.UserContext(), filter)
	if err != nil {
		logger.Error("Failed to list audit records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error al obtener logs",
		})
	}
	if records == nil {
		records = []models.AuditRecord{}
	}

	return c.JSON(fiber.Map{
		"logs":  records,
		"total": len(records),
	})
}

func firstQuery(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func parseDateParam(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, nil
}
