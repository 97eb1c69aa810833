package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"terminalconnect-backend/models"
)

var (
	ErrDetailsUnavailable = errors.New("parent intent details unavailable")
	ErrDetailsMalformed   = errors.New("parent intent external data malformed")
	ErrDetailsIncomplete  = errors.New("parent intent external data incomplete")
)

// externalKeys maps the keys of transactionDetails.externalData to the
// outgoing transactionDetails field they fill.
var externalKeys = []struct {
	source string
	set    func(d *models.ExternalDetails, v any)
}{
	{"gatewayReferenceNumber", func(d *models.ExternalDetails, v any) { d.GatewayReferenceNumber = v }},
	{"originalAmount", func(d *models.ExternalDetails, v any) { d.OriginalAmount = v }},
	{"originalApprovalCode", func(d *models.ExternalDetails, v any) { d.OriginalApprovalCode = v }},
	{"originalTransactionType", func(d *models.ExternalDetails, v any) { d.OriginalTransactionType = v }},
	{"hostMerchantId", func(d *models.ExternalDetails, v any) { d.MID = v }},
	{"hostTerminalId", func(d *models.ExternalDetails, v any) { d.TID = v }},
}

// Enricher copies a parent intent's external reference data for non-pinpad
// refunds and reversals. It only reads from the gateway.
type Enricher struct {
	caller Caller
	logger *zap.Logger
}

func NewEnricher(caller Caller, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{caller: caller, logger: logger}
}

// Enrich fetches parentIntentID and returns its remapped external details.
// Either all six fields are returned or an error wrapping one of
// ErrDetailsUnavailable, ErrDetailsMalformed or ErrDetailsIncomplete.
func (e *Enricher) Enrich(ctx context.Context, gctx models.Context, parentIntentID string) (*models.ExternalDetails, error) {
	parent, err := e.caller.Call(ctx, gctx, http.MethodGet, IntentPath(gctx.MerchantID, parentIntentID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetailsUnavailable, err)
	}

	txDetails, ok := parent["transactionDetails"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: transactionDetails missing", ErrDetailsMalformed)
	}
	rawExternal, ok := txDetails["externalData"].(string)
	if !ok || strings.TrimSpace(rawExternal) == "" {
		return nil, fmt.Errorf("%w: externalData missing", ErrDetailsMalformed)
	}

	external := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader([]byte(rawExternal)))
	dec.UseNumber()
	if err := dec.Decode(&external); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetailsMalformed, err)
	}

	details := &models.ExternalDetails{}
	var missing []string
	for _, k := range externalKeys {
		v, present := external[k.source]
		if !present {
			missing = append(missing, k.source)
			continue
		}
		k.set(details, v)
	}
	if len(missing) > 0 {
		e.logger.Warn("parent intent missing external data keys",
			zap.String("parent_intent_id", parentIntentID),
			zap.Strings("missing", missing),
		)
		return nil, fmt.Errorf("%w: missing %s", ErrDetailsIncomplete, strings.Join(missing, ", "))
	}
	return details, nil
}
