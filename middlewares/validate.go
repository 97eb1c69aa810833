package middlewares

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"terminalconnect-backend/utils"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// uuid4 in the validator package accepts any case but not the strict
	// variant check the gateway expects.
	_ = v.RegisterValidation("uuid4strict", func(fl validator.FieldLevel) bool {
		return utils.IsValidUUIDv4(fl.Field().String())
	})
	return v
}

// BindAndValidate parses the request body into dst, trims its strings and validates it.
// Returns fiber.ErrBadRequest for parse errors and a validator.ValidationErrors for validation issues.
func BindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	utils.NormalizeDTO(dst)
	return validate.Struct(dst)
}
