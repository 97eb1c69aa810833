package models

import "strings"

type IntentKind string

const (
	IntentPayment  IntentKind = "payment"
	IntentRefund   IntentKind = "refund"
	IntentReversal IntentKind = "reversal"
)

func (k IntentKind) Valid() bool {
	switch k {
	case IntentPayment, IntentRefund, IntentReversal:
		return true
	}
	return false
}

// IntentState is where an intent ended up after createAndMaybeProcess.
type IntentState string

const (
	StateCreated     IntentState = "CREATED"
	StateEnriched    IntentState = "ENRICHED"
	StateProcessed   IntentState = "PROCESSED"
	StateCreatedOnly IntentState = "CREATED_ONLY"
)

// PinpadTerminalPrefix marks terminals that accept deferred, non-pinpad submissions.
const PinpadTerminalPrefix = "WP"

// IsPinpadCapableTerminal reports whether tid follows the WP-prefixed naming convention.
func IsPinpadCapableTerminal(tid string) bool {
	return tid != "" && strings.HasPrefix(tid, PinpadTerminalPrefix)
}

// TransactionIntent mirrors a gateway-side intent. It is only held for the
// duration of a request.
type TransactionIntent struct {
	IntentID          string
	Kind              IntentKind
	AmountMinorUnits  *int64
	MerchantReference string
	ParentIntentID    string
	IsNonPinpadRefund bool
	Details           *ExternalDetails
}

// CreatePayload builds the JSON body for POST /merchant/{mid}/intent/{kind}.
// Payments carry subTotal, refunds carry amount, reversals carry no amount.
func (t TransactionIntent) CreatePayload(postbackURL string) map[string]any {
	payload := map[string]any{
		"merchantReference": t.MerchantReference,
	}
	switch t.Kind {
	case IntentPayment:
		if t.AmountMinorUnits != nil {
			payload["subTotal"] = *t.AmountMinorUnits
		}
	case IntentRefund:
		if t.AmountMinorUnits != nil {
			payload["amount"] = *t.AmountMinorUnits
		}
	}
	if t.ParentIntentID != "" {
		payload["parentIntentId"] = t.ParentIntentID
	}
	if t.IsNonPinpadRefund && t.Details != nil {
		payload["isNonPinpadRefund"] = true
		payload["transactionDetails"] = t.Details
	}
	if postbackURL != "" {
		payload["postbackUrl"] = postbackURL
	}
	return payload
}

// ExternalDetails is the remapped content of a parent intent's
// transactionDetails.externalData field.
type ExternalDetails struct {
	GatewayReferenceNumber  any `json:"gatewayReferenceNumber"`
	OriginalAmount          any `json:"originalAmount"`
	OriginalApprovalCode    any `json:"originalApprovalCode"`
	OriginalTransactionType any `json:"originalTransactionType"`
	MID                     any `json:"mid"`
	TID                     any `json:"tid"`
}
