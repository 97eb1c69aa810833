package services

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"terminalconnect-backend/config"
	"terminalconnect-backend/gateway"
	"terminalconnect-backend/models"
	"terminalconnect-backend/utils"
)

// ReversalPolicy decides whether a reversal honours an explicit pinpad
// opt-out on a pinpad-capable terminal.
type ReversalPolicy int

const (
	// ReversalHonorsPinpadOptOut applies the refund rule to reversals.
	ReversalHonorsPinpadOptOut ReversalPolicy = iota
	// ReversalAlwaysProcess processes every reversal after creation.
	ReversalAlwaysProcess
)

// IntentRequest is the caller's input to CreateAndMaybeProcess. Amount is a
// decimal string in major units.
type IntentRequest struct {
	Kind              models.IntentKind
	MerchantReference string
	Amount            string
	ParentIntentID    string
	ViaPinpad         bool
}

// IntentResult is the outcome of CreateAndMaybeProcess.
type IntentResult struct {
	IntentID        string             `json:"intent_id"`
	Processed       bool               `json:"processed"`
	State           models.IntentState `json:"state"`
	Message         string             `json:"message"`
	ProcessResponse map[string]any     `json:"process_response,omitempty"`
}

type Enricher interface {
	Enrich(ctx context.Context, gctx models.Context, parentIntentID string) (*models.ExternalDetails, error)
}

// IntentService runs the create-then-process protocol against the gateway.
type IntentService struct {
	gateway  gateway.Caller
	enricher Enricher
	reversal ReversalPolicy
	logger   *zap.Logger
}

func NewIntentService(caller gateway.Caller, enricher Enricher, reversal ReversalPolicy, logger *zap.Logger) *IntentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentService{gateway: caller, enricher: enricher, reversal: reversal, logger: logger}
}

// Validate turns a request into an intent without touching the gateway.
func (s *IntentService) Validate(req IntentRequest) (models.TransactionIntent, error) {
	intent := models.TransactionIntent{
		Kind:              req.Kind,
		MerchantReference: req.MerchantReference,
		ParentIntentID:    req.ParentIntentID,
	}
	if !req.Kind.Valid() {
		return intent, &utils.ValidationError{Field: "kind", Message: "Unknown intent kind"}
	}
	if req.MerchantReference == "" {
		return intent, &utils.ValidationError{Field: "merchant_reference", Message: "Merchant reference is required"}
	}
	if req.Kind == models.IntentPayment || req.Kind == models.IntentRefund {
		minor, err := utils.ParseAmount(req.Amount)
		if err != nil {
			return intent, err
		}
		intent.AmountMinorUnits = &minor
	}
	switch {
	case req.Kind == models.IntentReversal && req.ParentIntentID == "":
		return intent, &utils.ValidationError{Field: "parent_intent_id", Message: "Parent Intent ID is required"}
	case req.Kind == models.IntentPayment && req.ParentIntentID != "":
		return intent, &utils.ValidationError{Field: "parent_intent_id", Message: "Payments cannot reference a parent intent"}
	case req.ParentIntentID != "" && !utils.IsValidUUIDv4(req.ParentIntentID):
		return intent, &utils.ValidationError{Field: "parent_intent_id", Message: "Parent Intent ID must be a valid UUID v4"}
	}
	return intent, nil
}

func checkContext(gctx models.Context) error {
	if missing := gctx.MissingFields(); len(missing) > 0 {
		return &MissingConfigurationError{Fields: missing}
	}
	return nil
}

// needsEnrichment reports whether a follow-up transaction must carry the
// parent's external data instead of going through the pinpad.
func needsEnrichment(intent models.TransactionIntent, viaPinpad bool) bool {
	return intent.Kind != models.IntentPayment && intent.ParentIntentID != "" && !viaPinpad
}

// ShouldProcess decides whether a freshly created intent is processed.
func (s *IntentService) ShouldProcess(intent models.TransactionIntent, tid string, viaPinpad bool) bool {
	switch intent.Kind {
	case models.IntentPayment:
		return true
	case models.IntentRefund:
		if intent.ParentIntentID == "" {
			return true
		}
	case models.IntentReversal:
		if s.reversal == ReversalAlwaysProcess {
			return true
		}
	}
	// Terminals without the WP prefix have no deferred path.
	if !models.IsPinpadCapableTerminal(tid) {
		return true
	}
	return viaPinpad
}

// Create registers the intent with the gateway and returns its id. For
// linked non-pinpad refunds and reversals the parent's external data is
// fetched first; if that fails nothing is written to the gateway.
func (s *IntentService) Create(ctx context.Context, gctx models.Context, intent *models.TransactionIntent, viaPinpad bool) (string, error) {
	if err := checkContext(gctx); err != nil {
		return "", err
	}

	if needsEnrichment(*intent, viaPinpad) {
		details, err := s.enricher.Enrich(ctx, gctx, intent.ParentIntentID)
		if err != nil {
			s.logger.Warn("enrichment failed",
				zap.String("kind", string(intent.Kind)),
				zap.String("parent_intent_id", intent.ParentIntentID),
				zap.Error(err),
			)
			return "", &PhaseError{Phase: PhaseEnrich, Err: err}
		}
		intent.IsNonPinpadRefund = true
		intent.Details = details
		s.logger.Info("intent enriched",
			zap.String("kind", string(intent.Kind)),
			zap.String("parent_intent_id", intent.ParentIntentID),
			zap.String("state", string(models.StateEnriched)),
		)
	}

	postbackURL := config.WithDelay(gctx.PostbackURL, gctx.PostbackDelaySeconds)
	resp, err := s.gateway.Call(ctx, gctx, http.MethodPost, gateway.CreateIntentPath(gctx.MerchantID, intent.Kind), intent.CreatePayload(postbackURL))
	if err != nil {
		return "", &PhaseError{Phase: PhaseCreate, Err: err}
	}
	intentID := stringField(resp, "intentId")
	if intentID == "" {
		return "", &PhaseError{Phase: PhaseCreate, Err: ErrMissingIntentID}
	}
	intent.IntentID = intentID

	s.logger.Info("intent created",
		zap.String("kind", string(intent.Kind)),
		zap.String("intent_id", intentID),
		zap.Bool("non_pinpad", intent.IsNonPinpadRefund),
	)
	return intentID, nil
}

// Process asks the gateway to push the intent to the configured terminal.
func (s *IntentService) Process(ctx context.Context, gctx models.Context, intentID string) (map[string]any, error) {
	if err := checkContext(gctx); err != nil {
		return nil, err
	}
	resp, err := s.gateway.Call(ctx, gctx, http.MethodPost, gateway.ProcessPath(gctx.MerchantID, intentID), map[string]any{"tid": gctx.TerminalID})
	if err != nil {
		return nil, &PhaseError{Phase: PhaseProcess, IntentID: intentID, Err: err}
	}
	return resp, nil
}

// CreateAndMaybeProcess validates, creates and, when the decision rule says
// so, processes the intent. When processing fails the result still carries
// the created intent id alongside the error.
func (s *IntentService) CreateAndMaybeProcess(ctx context.Context, gctx models.Context, req IntentRequest) (*IntentResult, error) {
	intent, err := s.Validate(req)
	if err != nil {
		return nil, err
	}
	if err := checkContext(gctx); err != nil {
		return nil, err
	}

	intentID, err := s.Create(ctx, gctx, &intent, req.ViaPinpad)
	if err != nil {
		return nil, err
	}
	result := &IntentResult{IntentID: intentID, State: models.StateCreated}

	if !s.ShouldProcess(intent, gctx.TerminalID, req.ViaPinpad) {
		result.State = models.StateCreatedOnly
		result.Message = fmt.Sprintf("%s intent %s created successfully!", titleKind(intent.Kind), intentID)
		return result, nil
	}

	resp, err := s.Process(ctx, gctx, intentID)
	if err != nil {
		return result, err
	}
	result.Processed = true
	result.State = models.StateProcessed
	result.ProcessResponse = resp
	result.Message = "Successfully processed Intent ID: " + intentID
	return result, nil
}

func titleKind(k models.IntentKind) string {
	switch k {
	case models.IntentPayment:
		return "Payment"
	case models.IntentRefund:
		return "Refund"
	case models.IntentReversal:
		return "Reversal"
	}
	return string(k)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}
