package controllers

import (
	"github.com/gofiber/fiber/v2"

	"terminalconnect-backend/middlewares"
	"terminalconnect-backend/models"
	"terminalconnect-backend/services"
	"terminalconnect-backend/utils"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// PostbackController receives gateway callbacks and lists stored ones.
type PostbackController struct {
	postbacks *services.PostbackService
}

func NewPostbackController(postbacks *services.PostbackService) *PostbackController {
	return &PostbackController{postbacks: postbacks}
}

// POST /postback and /postback/:owner
// Always answers 200 so the gateway does not retry.
func (h *PostbackController) Receive(c *fiber.Ctx) error {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	headers := make(map[string]string)
	for k, v := range c.GetReqHeaders() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	h.postbacks.Ingest(c.UserContext(), services.IngestRequest{
		Body:         body,
		Headers:      headers,
		RouteOwner:   c.Params("owner"),
		SessionOwner: middlewares.UserID(c),
		DelaySeconds: utils.ParseDelay(c.Query("delay")),
	})
	return c.JSON(fiber.Map{"status": "success"})
}

// GET /api/postbacks?page=&per_page=&search=
func (h *PostbackController) List(c *fiber.Ctx) error {
	page, perPage, _ := utils.Pagination(c.Query("page"), c.Query("per_page"), defaultPerPage, maxPerPage)

	result, err := h.postbacks.List(c.UserContext(), middlewares.UserID(c), page, perPage, c.Query("search"))
	if err != nil {
		return err
	}
	items := result.Items
	if items == nil {
		items = []models.Postback{}
	}
	return c.JSON(fiber.Map{
		"postbacks": items,
		"total":     result.Total,
		"page":      page,
		"per_page":  perPage,
	})
}
