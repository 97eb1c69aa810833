package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"terminalconnect-backend/models"
)

const (
	testParentID = "3f2b8c1e-9a4d-4c2b-8e1f-0a1b2c3d4e5f"
	newIntentID  = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
)

type gatewayCall struct {
	Method   string
	Endpoint string
	Payload  map[string]any
}

// fakeGateway answers like the terminal gateway and records every call.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	external   map[string]any
	createErr  error
	processErr error
	getErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		external: map[string]any{
			"gatewayReferenceNumber":  "GRN-1",
			"originalAmount":          json.Number("1050"),
			"originalApprovalCode":    "A1",
			"originalTransactionType": "SALE",
			"hostMerchantId":          "HM",
			"hostTerminalId":          "HT",
		},
	}
}

func (f *fakeGateway) Call(ctx context.Context, gctx models.Context, method, endpoint string, payload any) (map[string]any, error) {
	body, _ := payload.(map[string]any)
	f.mu.Lock()
	f.calls = append(f.calls, gatewayCall{Method: method, Endpoint: endpoint, Payload: body})
	f.mu.Unlock()

	switch {
	case method == http.MethodGet:
		if f.getErr != nil {
			return nil, f.getErr
		}
		raw, _ := json.Marshal(f.external)
		return map[string]any{
			"intentId":           testParentID,
			"transactionDetails": map[string]any{"externalData": string(raw)},
		}, nil
	case strings.HasSuffix(endpoint, "/process"):
		if f.processErr != nil {
			return nil, f.processErr
		}
		return map[string]any{"status": "PROCESSING"}, nil
	default:
		if f.createErr != nil {
			return nil, f.createErr
		}
		return map[string]any{"intentId": newIntentID}, nil
	}
}

func (f *fakeGateway) Calls() []gatewayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gatewayCall(nil), f.calls...)
}

func (f *fakeGateway) writes() int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method != http.MethodGet {
			n++
		}
	}
	return n
}

func (f *fakeGateway) processed() bool {
	for _, c := range f.Calls() {
		if strings.HasSuffix(c.Endpoint, "/process") {
			return true
		}
	}
	return false
}

func (f *fakeGateway) createCall() (gatewayCall, bool) {
	for _, c := range f.Calls() {
		if c.Method == http.MethodPost && !strings.HasSuffix(c.Endpoint, "/process") {
			return c, true
		}
	}
	return gatewayCall{}, false
}
