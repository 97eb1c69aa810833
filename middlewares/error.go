package middlewares

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"terminalconnect-backend/gateway"
	"terminalconnect-backend/services"
	"terminalconnect-backend/utils"
)

// NewErrorHandler centralizes error responses and keeps messages sanitized.
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		// 1) Fiber errors (use their status code + message)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// 2) Validation errors (422 + per-field info)
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}
		var fieldErr *utils.ValidationError
		if errors.As(err, &fieldErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": fieldErr.Message,
				"errors":  map[string]string{fieldErr.Field: fieldErr.Message},
			})
		}

		// 3) Context not configured (412 + missing field names)
		var missing *services.MissingConfigurationError
		if errors.As(err, &missing) {
			return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
				"message": missing.Error(),
				"missing": missing.Fields,
			})
		}

		// 4) Gateway failures (502, 504 on timeout)
		var pe *services.PhaseError
		if errors.As(err, &pe) {
			status := fiber.StatusBadGateway
			if errors.Is(err, gateway.ErrTimeout) {
				status = fiber.StatusGatewayTimeout
			}
			body := fiber.Map{
				"message": pe.Error(),
				"phase":   pe.Phase,
			}
			if pe.IntentID != "" {
				body["intent_id"] = pe.IntentID
			}
			logger.Warn("gateway call failed",
				zap.String("session", SessionID(c)),
				zap.String("phase", string(pe.Phase)),
				zap.String("intent_id", pe.IntentID),
				zap.Error(pe.Err))
			return c.Status(status).JSON(body)
		}

		// 5) Unknown errors (500)
		logger.Error("internal error", zap.String("path", c.Path()), zap.String("session", SessionID(c)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}
