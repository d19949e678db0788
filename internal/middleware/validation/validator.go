package validation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/pkg/logger"
)

type Config struct {
	MaxJobDescription int
	MaxFeedback       int
	MaxCustomContext  int
	Logger            *zap.Logger
}

// field is a JSON string property checked on one route family.
type field struct {
	name     string
	required bool
	max      int
}

func (cfg Config) rules(c *fiber.Ctx) []field {
	if c.Method() != fiber.MethodPost {
		return nil
	}
	path := c.Path()
	switch {
	case strings.HasSuffix(path, "/sessions"):
		return []field{
			{name: "job_description", required: true, max: cfg.MaxJobDescription},
			{name: "company_name", max: 200},
			{name: "job_title", max: 200},
			{name: "custom_context", max: cfg.MaxCustomContext},
			{name: "instructions", max: cfg.MaxCustomContext},
		}
	case strings.HasSuffix(path, "/revise"):
		return []field{{name: "feedback", required: true, max: cfg.MaxFeedback}}
	case strings.HasSuffix(path, "/feedback"):
		return []field{{name: "text", required: true, max: cfg.MaxFeedback}}
	}
	return nil
}

// Middleware rejects malformed or oversized JSON bodies on the routes that
// feed model prompts, and strips NUL bytes from their string fields.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxJobDescription <= 0 {
		cfg.MaxJobDescription = 50000
	}
	if cfg.MaxFeedback <= 0 {
		cfg.MaxFeedback = 2000
	}
	if cfg.MaxCustomContext <= 0 {
		cfg.MaxCustomContext = 5000
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	return func(c *fiber.Ctx) error {
		rules := cfg.rules(c)
		if len(rules) == 0 {
			return c.Next()
		}

		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var body map[string]any
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		changed := false
		for _, f := range rules {
			raw, present := body[f.name]
			if !present || raw == nil {
				if f.required {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": f.name + " is required",
					})
				}
				continue
			}

			s, ok := raw.(string)
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": f.name + " must be a string",
				})
			}
			if f.required && strings.TrimSpace(s) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": f.name + " is required",
				})
			}
			if utf8.RuneCountInString(s) > f.max {
				cfg.Logger.Warn("Request field too long",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
					zap.String("field", f.name),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": f.name + " exceeds maximum length",
				})
			}
			if clean := sanitizeString(s); clean != s {
				body[f.name] = clean
				changed = true
			}
		}

		if changed {
			data, err := json.Marshal(body)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			c.Request().SetBody(data)
		}

		return c.Next()
	}
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
