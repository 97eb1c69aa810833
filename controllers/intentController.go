package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"terminalconnect-backend/middlewares"
	"terminalconnect-backend/models"
	"terminalconnect-backend/services"
	"terminalconnect-backend/utils"
)

type IntentCreateDTO struct {
	MerchantReference string      `json:"merchant_reference" form:"merchant_reference" validate:"omitempty,max=255"`
	Amount            looseString `json:"amount" form:"amount"`
	ParentIntentID    string      `json:"parent_intent_id" form:"parent_intent_id" validate:"omitempty,uuid4strict"`
	ViaPinpad         looseString `json:"via_pinpad" form:"via_pinpad"`
}

// IntentController serves the create/process endpoints for all intent kinds.
type IntentController struct {
	intents *services.IntentService
	now     func() time.Time
}

func NewIntentController(intents *services.IntentService) *IntentController {
	return &IntentController{intents: intents, now: time.Now}
}

// POST /api/intents/payment
func (h *IntentController) CreatePayment(c *fiber.Ctx) error {
	return h.create(c, models.IntentPayment)
}

// POST /api/intents/refund
func (h *IntentController) CreateRefund(c *fiber.Ctx) error {
	return h.create(c, models.IntentRefund)
}

// POST /api/intents/reversal
func (h *IntentController) CreateReversal(c *fiber.Ctx) error {
	return h.create(c, models.IntentReversal)
}

func (h *IntentController) create(c *fiber.Ctx, kind models.IntentKind) error {
	var in IntentCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	if in.MerchantReference == "" {
		in.MerchantReference = utils.MerchantReference(h.now())
	}

	result, err := h.intents.CreateAndMaybeProcess(c.UserContext(), middlewares.GatewayContext(c), services.IntentRequest{
		Kind:              kind,
		MerchantReference: in.MerchantReference,
		Amount:            string(in.Amount),
		ParentIntentID:    in.ParentIntentID,
		ViaPinpad:         in.ViaPinpad.flag(true),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// POST /api/intents/:id/process
func (h *IntentController) Process(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing intent id in path")
	}

	resp, err := h.intents.Process(c.UserContext(), middlewares.GatewayContext(c), id)
	if err != nil {
		return err
	}
	return c.JSON(services.IntentResult{
		IntentID:        id,
		Processed:       true,
		State:           models.StateProcessed,
		Message:         "Successfully processed Intent ID: " + id,
		ProcessResponse: resp,
	})
}
