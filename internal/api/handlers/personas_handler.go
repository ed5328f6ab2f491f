package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/persons"
	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

// DatasetSource is satisfied by *dataset.Cache.
type DatasetSource interface {
	Get(ctx context.Context, forceRefresh bool) (dataset.Dataset, error)
}

// Registrar is satisfied by *persons.Registry.
type Registrar interface {
	Register(ctx context.Context, in models.PersonSeed) (persons.Person, error)
}

type PersonasHandler struct {
	data     DatasetSource
	registry Registrar
}

// NewPersonasHandler serves the dataset listing. registry may be nil, in
// which case registration answers 501.
func NewPersonasHandler(data DatasetSource, registry Registrar) *PersonasHandler {
	return &PersonasHandler{data: data, registry: registry}
}

// List serves GET /personas. refresh=true bypasses the cache TTL.
func (h *PersonasHandler) List(c *fiber.Ctx) error {
	ds, err := h.data.Get(c.UserContext(), c.QueryBool("refresh", false))
	if err != nil {
		logger.Error("Failed to load personas", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Error al obtener datos",
		})
	}

	records := ds.Records
	if records == nil {
		records = []persons.Person{}
	}

	return c.JSON(fiber.Map{
		"personas":   records,
		"total":      ds.Size(),
		"fetched_at": ds.FetchedAt,
		"stale":      ds.Stale,
	})
}

// Create serves POST /personas.
func (h *PersonasHandler) Create(c *fiber.Ctx) error {
	if h.registry == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "El registro de personas no está disponible",
		})
	}

	var in models.PersonSeed
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cuerpo de la solicitud inválido",
		})
	}

	p, err := h.registry.Register(c.UserContext(), in)

	var verr *persons.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": verr.Message,
			"campo": verr.Field,
		})
	case errors.Is(err, models.ErrDuplicateDocument):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("Ya existe una persona registrada con el número de documento %s", in.DocumentID),
			"campo": models.FieldDocumentID,
		})
	case err != nil:
		logger.Error("Failed to register person", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error al registrar la persona",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(p)
}
