package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminalconnect-backend/config"
	"terminalconnect-backend/controllers"
	"terminalconnect-backend/database"
	"terminalconnect-backend/gateway"
	"terminalconnect-backend/middlewares"
	"terminalconnect-backend/models"
	"terminalconnect-backend/services"
	"terminalconnect-backend/store"
)

const (
	testIntentID = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
	testParentID = "3f2b8c1e-9a4d-4c2b-8e1f-0a1b2c3d4e5f"
)

// gatewayStub is an httptest terminal gateway counting calls per path.
type gatewayStub struct {
	mu     sync.Mutex
	calls  map[string]int
	bodies map[string][]map[string]any

	processStatus int
	processDelay  time.Duration
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	key := r.Method + " " + r.URL.Path

	g.mu.Lock()
	g.calls[key]++
	g.bodies[key] = append(g.bodies[key], body)
	status, delay := g.processStatus, g.processDelay
	g.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/process"):
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"terminal offline"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"PROCESSING"}`))
	case r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"intentId":"` + testParentID + `","transactionDetails":{"externalData":` +
			`"{\"gatewayReferenceNumber\":\"G\",\"originalAmount\":100,\"originalApprovalCode\":\"A\",` +
			`\"originalTransactionType\":\"SALE\",\"hostMerchantId\":\"HM\",\"hostTerminalId\":\"HT\"}"}}`))
	default:
		_, _ = w.Write([]byte(`{"intentId":"` + testIntentID + `"}`))
	}
}

func (g *gatewayStub) count(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

func (g *gatewayStub) lastBody(key string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.bodies[key]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

type harness struct {
	app  *fiber.App
	gw   *gatewayStub
	srv  *httptest.Server
	anon *store.FileStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	middlewares.SetJWTSecret("test-secret")

	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	gw := &gatewayStub{calls: map[string]int{}, bodies: map[string][]map[string]any{}}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	anon, err := store.OpenFileStore("")
	require.NoError(t, err)
	stores := store.NewSelector(anon, store.NewIdentityStore(db))

	client := gateway.NewClient(300*time.Millisecond, nil)
	intents := services.NewIntentService(client, gateway.NewEnricher(client, nil), services.ReversalHonorsPinpadOptOut, nil)
	postbacks := services.NewPostbackService(stores, nil)

	app := fiber.New(fiber.Config{ErrorHandler: middlewares.NewErrorHandler(nil)})
	Register(app, Deps{
		DB:        db,
		Sessions:  config.NewSessionContexts(models.Context{BaseURL: srv.URL}, "https://harness.test"),
		Intents:   controllers.NewIntentController(intents),
		Postbacks: controllers.NewPostbackController(postbacks),
	})
	return &harness{app: app, gw: gw, srv: srv, anon: anon}
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := middlewares.GenerateJWT(user)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := h.app.Test(req, 5000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func intentRequest(path, body, tid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.HeaderMerchantID, "M1")
	req.Header.Set(middlewares.HeaderTerminalID, tid)
	req.Header.Set(middlewares.HeaderAPIKey, "k")
	return req
}

func TestPaymentIsCreatedAndProcessed(t *testing.T) {
	h := newHarness(t)

	req := intentRequest("/api/intents/payment", `{"amount":"10.50","merchant_reference":"ref-1"}`, "WP1")
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, body := h.do(t, req)

	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, testIntentID, body["intent_id"])
	assert.Equal(t, "PROCESSED", body["state"])
	assert.Equal(t, true, body["processed"])
	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/payment"))
	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/"+testIntentID+"/process"))

	create := h.gw.lastBody("POST /merchant/M1/intent/payment")
	assert.Equal(t, float64(1050), create["subTotal"])
	assert.Equal(t, "https://harness.test/postback/alice", create["postbackUrl"])
}

func TestPaymentFromFormWithDefaults(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/intents/payment", strings.NewReader("amount=5"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middlewares.HeaderMerchantID, "M1")
	req.Header.Set(middlewares.HeaderTerminalID, "T1")
	req.Header.Set(middlewares.HeaderAPIKey, "k")
	resp, body := h.do(t, req)

	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	create := h.gw.lastBody("POST /merchant/M1/intent/payment")
	assert.NotEmpty(t, create["merchantReference"])
	assert.Equal(t, "https://harness.test/postback", create["postbackUrl"])
}

func TestLinkedRefundNonPinpadIsCreatedOnly(t *testing.T) {
	h := newHarness(t)

	req := intentRequest("/api/intents/refund",
		`{"amount":1,"merchant_reference":"r","parent_intent_id":"`+testParentID+`","via_pinpad":"no"}`, "WP1")
	resp, body := h.do(t, req)

	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "CREATED_ONLY", body["state"])
	assert.Equal(t, 1, h.gw.count("GET /merchant/M1/intent/"+testParentID))
	assert.Zero(t, h.gw.count("POST /merchant/M1/intent/"+testIntentID+"/process"))

	create := h.gw.lastBody("POST /merchant/M1/intent/refund")
	assert.Equal(t, true, create["isNonPinpadRefund"])
	assert.Equal(t, map[string]any{
		"gatewayReferenceNumber":  "G",
		"originalAmount":          float64(100),
		"originalApprovalCode":    "A",
		"originalTransactionType": "SALE",
		"mid":                     "HM",
		"tid":                     "HT",
	}, create["transactionDetails"])
}

func TestMissingConfigurationIs412(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/intents/payment", strings.NewReader(`{"amount":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body := h.do(t, req)

	assert.Equal(t, fiber.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, []any{"MID", "TID", "API_KEY"}, body["missing"])
	assert.Zero(t, h.gw.count("POST /merchant//intent/payment"))
}

func TestInvalidAmountIs422(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, intentRequest("/api/intents/payment", `{"amount":"1.234"}`, "WP1"))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Amount must have at most 2 decimal places", body["message"])

	resp, _ = h.do(t, intentRequest("/api/intents/refund", `{"amount":"1","parent_intent_id":"nope"}`, "WP1"))
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Zero(t, h.gw.count("POST /merchant/M1/intent/refund"))
}

func TestProcessFailureIs502WithIntentID(t *testing.T) {
	h := newHarness(t)
	h.gw.processStatus = http.StatusConflict

	resp, body := h.do(t, intentRequest("/api/intents/payment", `{"amount":"1"}`, "WP1"))
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "process", body["phase"])
	assert.Equal(t, testIntentID, body["intent_id"])
	assert.Equal(t, "Process failed for Intent ID "+testIntentID+": terminal offline", body["message"])
}

func TestProcessTimeoutIs504(t *testing.T) {
	h := newHarness(t)
	h.gw.processDelay = time.Second

	resp, body := h.do(t, intentRequest("/api/intents/"+testIntentID+"/process", ``, "WP1"))
	assert.Equal(t, fiber.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "process", body["phase"])
}

func TestIdempotentIntentCreation(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "alice")

	send := func(body string) (*http.Response, map[string]any) {
		req := intentRequest("/api/intents/payment", body, "WP1")
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Idempotency-Key", "key-1")
		return h.do(t, req)
	}

	first, firstBody := send(`{"amount":"2","merchant_reference":"r"}`)
	require.Equal(t, fiber.StatusCreated, first.StatusCode)

	second, secondBody := send(`{"amount":"2","merchant_reference":"r"}`)
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/payment"))

	conflict, _ := send(`{"amount":"3","merchant_reference":"r"}`)
	assert.Equal(t, fiber.StatusConflict, conflict.StatusCode)
}

func TestIdempotentRetryAfterProcessFailureReplays502(t *testing.T) {
	h := newHarness(t)
	h.gw.processStatus = http.StatusInternalServerError
	tok := token(t, "alice")

	send := func() (*http.Response, map[string]any) {
		req := intentRequest("/api/intents/payment", `{"amount":"2","merchant_reference":"r"}`, "WP1")
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Idempotency-Key", "key-502")
		return h.do(t, req)
	}

	first, firstBody := send()
	require.Equal(t, fiber.StatusBadGateway, first.StatusCode)
	assert.Equal(t, "process", firstBody["phase"])
	assert.Equal(t, testIntentID, firstBody["intent_id"])

	second, secondBody := send()
	assert.Equal(t, fiber.StatusBadGateway, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/payment"))
	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/"+testIntentID+"/process"))
}

func TestIdempotencyKeyWithoutSessionCookie(t *testing.T) {
	h := newHarness(t)

	send := func(cookie string) *http.Response {
		req := intentRequest("/api/intents/payment", `{"amount":"2","merchant_reference":"r"}`, "WP1")
		req.Header.Set("Idempotency-Key", "key-anon")
		if cookie != "" {
			req.Header.Set("Cookie", middlewares.SessionCookie+"="+cookie)
		}
		resp, _ := h.do(t, req)
		return resp
	}

	first := send("")
	require.Equal(t, fiber.StatusCreated, first.StatusCode)

	second := send("")
	assert.Equal(t, fiber.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))

	// a client that picked up the cookie afterwards hits the same key
	var issued string
	for _, ck := range first.Cookies() {
		if ck.Name == middlewares.SessionCookie {
			issued = ck.Value
		}
	}
	require.NotEmpty(t, issued)
	third := send(issued)
	assert.Equal(t, "true", third.Header.Get("Idempotent-Replayed"))

	assert.Equal(t, 1, h.gw.count("POST /merchant/M1/intent/payment"))
}

func TestInvalidTokenRejectedOnAPI(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/postbacks", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, _ := h.do(t, req)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func postbackRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic gateway-secret")
	return req
}

func TestPostbackForIdentityIsListedForThatIdentity(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, postbackRequest("/postback/alice", `{"intentId":"I-1","transactionId":"TX-1","status":"APPROVED","transactionType":"SALE"}`))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/api/postbacks?search=tx-1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, body = h.do(t, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["page"])
	assert.Equal(t, float64(20), body["per_page"])

	items := body["postbacks"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "I-1", item["intent_id"])
	assert.Equal(t, "[REDACTED]", item["headers"].(map[string]any)["Authorization"])

	// nothing leaked into the anonymous store
	page, err := h.anon.List(req.Context(), store.Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestAnonymousPostbackAlwaysSucceeds(t *testing.T) {
	h := newHarness(t)

	req := postbackRequest("/postback?delay=abc", `this is not json`)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, body := h.do(t, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	resp, body = h.do(t, httptest.NewRequest(http.MethodGet, "/api/postbacks?per_page=500", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), body["per_page"])
	items := body["postbacks"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, models.UnknownIntentID, items[0].(map[string]any)["intent_id"])
}

func TestPostbackListPastLastPageIsEmpty(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, postbackRequest("/postback", `{"intentId":"x"}`))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := h.do(t, httptest.NewRequest(http.MethodGet, "/api/postbacks?page=9223372036854775807&per_page=100", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
	assert.Empty(t, body["postbacks"])
}
