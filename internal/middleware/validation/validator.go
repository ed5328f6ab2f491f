package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalQuestion is the Locals key holding the sanitized question text.
const LocalQuestion = "question"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// questionFields are the body fields accepted as the question, in order.
var questionFields = []string{"consulta", "query"}

type Config struct {
	MaxQueryLength      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// QuestionMiddleware guards routes that take a natural-language question
// in a JSON body. A missing or blank question is passed through as ""
// so the handler can reject and audit it.
func QuestionMiddleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 1000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Tipo de contenido no soportado",
			})
		}

		var req map[string]interface{}
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Formato JSON inválido",
				})
			}
		}

		question, err := extractQuestion(req)
		if err != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err})
		}

		if utf8.RuneCountInString(question) > cfg.MaxQueryLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "La consulta excede la longitud máxima permitida",
			})
		}

		if containsXSS(question) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("query", question),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Contenido de consulta inválido",
			})
		}

		c.Locals(LocalQuestion, sanitizeString(question))
		return c.Next()
	}
}

// Question returns the text stored by QuestionMiddleware.
func Question(c *fiber.Ctx) string {
	q, _ := c.Locals(LocalQuestion).(string)
	return q
}

func extractQuestion(req map[string]interface{}) (string, string) {
	for _, field := range questionFields {
		v, ok := req[field]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", "El campo '" + field + "' debe ser texto"
		}
		return s, ""
	}
	return "", ""
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
