package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"terminalconnect-backend/models"
	"terminalconnect-backend/services"
)

const maxIdempotencyKeyLen = 128

// anonymousScope is shared by every caller without a bearer token.
const anonymousScope = "anon"

// Idempotency processes Idempotency-Key for mutating HTTP methods. Keys are
// scoped to the authenticated user, or shared by all anonymous callers.
// Must run after OptionalAuth.
func Idempotency(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get("Idempotency-Key"))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key too long"})
		}

		owner := idempotencyScope(c)

		path := c.OriginalURL() // includes query string

		// Build deterministic request hash: method|path|body|owner
		h := sha256.New()
		h.Write([]byte(method))
		h.Write([]byte{'\n'})
		h.Write([]byte(path))
		h.Write([]byte{'\n'})
		h.Write(c.Body())
		h.Write([]byte{'\n'})
		h.Write([]byte(owner))
		reqHash := hex.EncodeToString(h.Sum(nil))

		// ---- Phase 1: read or create the "pending" record
		var existing models.IdempotencyKey
		replayed, created := false, false
		err := db.Transaction(func(tx *gorm.DB) error {
			found, err := findIdempotencyKey(tx, owner, key, &existing)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "idempotency lookup failed")
			}
			if !found {
				rec := models.IdempotencyKey{
					Key:         key,
					OwnerID:     owner,
					RequestHash: reqHash,
					Method:      method,
					Path:        path,
				}
				if e2 := tx.Create(&rec).Error; e2 != nil {
					// Could be unique race: read again
					if ok, e3 := findIdempotencyKey(tx, owner, key, &existing); e3 != nil || !ok {
						return fiber.NewError(fiber.StatusInternalServerError, "idempotency create failed")
					}
				} else {
					existing = rec
					created = true
				}
			}

			if existing.RequestHash != reqHash {
				return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reuse with different request")
			}
			if existing.ResponseStatus != 0 {
				replayed = true
				return nil
			}
			if !created {
				return fiber.NewError(fiber.StatusConflict, "request with this Idempotency-Key is still in progress")
			}
			return nil
		})
		if err != nil {
			return err
		}
		if replayed {
			c.Set("Idempotent-Replayed", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(existing.ResponseStatus).Send(existing.ResponseBody)
		}

		// Run the handler once; errors go through the error handler first so
		// the stored response matches what the client saw.
		handlerErr := c.Next()
		if handlerErr != nil {
			if herr := c.App().ErrorHandler(c, handlerErr); herr != nil {
				return herr
			}
		}

		// ---- Phase 2: store the response (best-effort). Server-side failures
		// release the key only while no gateway intent exists yet.
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError && !gatewayWritten(handlerErr) {
			_ = db.Where("owner_id = ? AND key = ?", owner, key).Delete(&models.IdempotencyKey{}).Error
			return nil
		}
		now := time.Now().UTC()
		resp := c.Response().Body()
		blob := make([]byte, len(resp))
		copy(blob, resp)

		_ = db.Model(&models.IdempotencyKey{}).
			Where("owner_id = ? AND key = ?", owner, key).
			Updates(map[string]any{
				"response_status": status,
				"response_body":   blob,
				"completed_at":    &now,
			}).Error
		return nil
	}
}

func idempotencyScope(c *fiber.Ctx) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	return anonymousScope
}

func findIdempotencyKey(tx *gorm.DB, owner, key string, out *models.IdempotencyKey) (bool, error) {
	res := tx.Where("owner_id = ? AND key = ?", owner, key).Limit(1).Find(out)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// gatewayWritten reports whether a failed request got far enough to create
// an intent on the gateway.
func gatewayWritten(err error) bool {
	var pe *services.PhaseError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Phase == services.PhaseProcess || pe.IntentID != ""
}
