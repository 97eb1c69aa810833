package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"terminalconnect-backend/config"
	"terminalconnect-backend/controllers"
	"terminalconnect-backend/middlewares"
)

// Deps are the handlers and shared state the route table needs.
type Deps struct {
	DB        *gorm.DB
	Sessions  *config.SessionContexts
	Intents   *controllers.IntentController
	Postbacks *controllers.PostbackController
}

// Register wires all HTTP routes.
func Register(app *fiber.App, d Deps) {
	// Gateway callbacks: a bad token must not make the gateway retry.
	postback := app.Group("/postback", middlewares.OptionalAuth(false))
	postback.Post("/", d.Postbacks.Receive)
	postback.Post("/:owner", d.Postbacks.Receive)

	// API endpoints (JWT optional; anonymous sessions use the cookie)
	api := app.Group("/api")
	api.Use(middlewares.OptionalAuth(true))
	api.Use(middlewares.ResolveContext(d.Sessions))

	api.Get("/postbacks", d.Postbacks.List)

	// Idempotency guard only on intent creation
	intents := api.Group("/intents")
	intents.Post("/payment", middlewares.Idempotency(d.DB), d.Intents.CreatePayment)
	intents.Post("/refund", middlewares.Idempotency(d.DB), d.Intents.CreateRefund)
	intents.Post("/reversal", middlewares.Idempotency(d.DB), d.Intents.CreateReversal)
	intents.Post("/:id/process", d.Intents.Process)
}
