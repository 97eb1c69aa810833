package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"terminalconnect-backend/config"
	"terminalconnect-backend/models"
	"terminalconnect-backend/utils"
)

const (
	// SessionCookie identifies an anonymous browser session.
	SessionCookie = "tc_session"

	LocalSessionID      = "sessionID"
	LocalGatewayContext = "gatewayContext"
)

// Request headers a caller may use to supply its own gateway Context.
const (
	HeaderMerchantID    = "X-Merchant-Id"
	HeaderTerminalID    = "X-Terminal-Id"
	HeaderAPIKey        = "X-Api-Key"
	HeaderBaseURL       = "X-Base-Url"
	HeaderEnvironment   = "X-Environment"
	HeaderPostbackURL   = "X-Postback-Url"
	HeaderPostbackDelay = "X-Postback-Delay"
)

// ResolveContext builds the gateway Context for the request from its headers
// and backfills empty fields from the session's cached defaults. Must run
// after one of the auth middlewares.
func ResolveContext(sessions *config.SessionContexts) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		sessionID := sessionID(c, userID)
		c.Locals(LocalSessionID, sessionID)

		delayRaw := strings.TrimSpace(c.Get(HeaderPostbackDelay))
		supplied := models.Context{
			MerchantID:           strings.TrimSpace(c.Get(HeaderMerchantID)),
			TerminalID:           strings.TrimSpace(c.Get(HeaderTerminalID)),
			APIKey:               strings.TrimSpace(c.Get(HeaderAPIKey)),
			BaseURL:              strings.TrimSpace(c.Get(HeaderBaseURL)),
			PostbackURL:          strings.TrimSpace(c.Get(HeaderPostbackURL)),
			PostbackDelaySeconds: utils.ParseDelay(delayRaw),
			PostbackDelaySet:     delayRaw != "",
		}
		if supplied.BaseURL == "" {
			if env := strings.TrimSpace(c.Get(HeaderEnvironment)); env != "" {
				supplied.BaseURL = config.BaseURLFor(env)
			}
		}

		c.Locals(LocalGatewayContext, sessions.Resolve(sessionID, userID, supplied))
		return c.Next()
	}
}

// sessionID is the JWT subject for authenticated callers, otherwise the
// anonymous session cookie (issued on first sight).
func sessionID(c *fiber.Ctx, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	id := c.Cookies(SessionCookie)
	if _, err := uuid.Parse(id); err != nil || id == "" {
		id = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	return "anon:" + id
}

// GatewayContext returns the Context resolved by ResolveContext.
func GatewayContext(c *fiber.Ctx) models.Context {
	gctx, _ := c.Locals(LocalGatewayContext).(models.Context)
	return gctx
}

// SessionID returns the session key resolved by ResolveContext.
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalSessionID).(string)
	return id
}
