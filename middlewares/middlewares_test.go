package middlewares

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminalconnect-backend/config"
	"terminalconnect-backend/gateway"
	"terminalconnect-backend/models"
	"terminalconnect-backend/services"
	"terminalconnect-backend/utils"
)

func call(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestErrorHandlerMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{fiber.NewError(fiber.StatusBadRequest, "invalid request body"), 400, func(t *testing.T, b map[string]any) {
			assert.Equal(t, "invalid request body", b["message"])
		}},
		{&utils.ValidationError{Field: "amount", Message: "Invalid amount format"}, 422, func(t *testing.T, b map[string]any) {
			assert.Equal(t, "Invalid amount format", b["message"])
		}},
		{&services.MissingConfigurationError{Fields: []string{"MID"}}, 412, func(t *testing.T, b map[string]any) {
			assert.Equal(t, []any{"MID"}, b["missing"])
		}},
		{&services.PhaseError{Phase: services.PhaseCreate, Err: &gateway.HTTPError{StatusCode: 400, Message: "bad"}}, 502, func(t *testing.T, b map[string]any) {
			assert.Equal(t, "create", b["phase"])
			assert.Equal(t, "Error creating intent: bad", b["message"])
			assert.NotContains(t, b, "intent_id")
		}},
		{&services.PhaseError{Phase: services.PhaseCreate, Err: gateway.ErrTimeout}, 504, nil},
		{fmt.Errorf("wrapped: %w", errors.New("db exploded")), 500, func(t *testing.T, b map[string]any) {
			assert.Equal(t, "internal server error", b["message"])
		}},
	}
	for _, tc := range cases {
		app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(nil)})
		err := tc.err
		app.Get("/", func(c *fiber.Ctx) error { return err })

		status, body := call(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, tc.status, status, err.Error())
		if tc.check != nil {
			tc.check(t, body)
		}
	}
}

func TestValidatorErrorsAre422(t *testing.T) {
	type dto struct {
		ParentIntentID string `json:"parent_intent_id" validate:"omitempty,uuid4strict"`
	}
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(nil)})
	app.Post("/", func(c *fiber.Ctx) error {
		var in dto
		if err := BindAndValidate(c, &in); err != nil {
			return err
		}
		return c.JSON(in)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"parent_intent_id":"  nope "}`))
	req.Header.Set("Content-Type", "application/json")
	status, body := call(t, app, req)
	assert.Equal(t, 422, status)
	assert.Equal(t, map[string]any{"ParentIntentID": "uuid4strict"}, body["errors"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"parent_intent_id":" 3f2b8c1e-9a4d-4c2b-8e1f-0a1b2c3d4e5f "}`))
	req.Header.Set("Content-Type", "application/json")
	status, body = call(t, app, req)
	assert.Equal(t, 200, status)
	assert.Equal(t, "3f2b8c1e-9a4d-4c2b-8e1f-0a1b2c3d4e5f", body["parent_intent_id"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	req.Header.Set("Content-Type", "application/json")
	status, _ = call(t, app, req)
	assert.Equal(t, 400, status)
}

func TestAuthAndContextResolution(t *testing.T) {
	SetJWTSecret("unit-secret")
	sessions := config.NewSessionContexts(models.Context{MerchantID: "DEF", BaseURL: "https://default.test"}, "https://harness.test")

	app := fiber.New()
	app.Use(OptionalAuth(true), ResolveContext(sessions))
	app.Get("/", func(c *fiber.Ctx) error {
		gctx := GatewayContext(c)
		return c.JSON(fiber.Map{
			"user":     UserID(c),
			"session":  SessionID(c),
			"mid":      gctx.MerchantID,
			"base":     gctx.BaseURL,
			"postback": gctx.PostbackURL,
			"delay":    gctx.PostbackDelaySeconds,
		})
	})

	tok, err := GenerateJWT("alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(HeaderEnvironment, "production")
	req.Header.Set(HeaderPostbackDelay, "7")
	status, body := call(t, app, req)
	require.Equal(t, 200, status)
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, "user:alice", body["session"])
	assert.Equal(t, "DEF", body["mid"])
	assert.Equal(t, config.EnvironmentURLs["production"], body["base"])
	assert.Equal(t, "https://harness.test/postback/alice", body["postback"])
	assert.Equal(t, float64(7), body["delay"])

	// anonymous callers get a session cookie
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	_, body = call(t, app, req)
	assert.Equal(t, "anon:"+cookie.Value, body["session"])
	assert.Equal(t, "https://harness.test/postback", body["postback"])

	// a token signed with another key is rejected
	SetJWTSecret("other-secret")
	defer SetJWTSecret("unit-secret")
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	status, _ = call(t, app, req)
	assert.Equal(t, 401, status)
}

func TestZeroPostbackDelayOverridesDefault(t *testing.T) {
	sessions := config.NewSessionContexts(models.Context{PostbackDelaySeconds: 5}, "https://harness.test")

	app := fiber.New()
	app.Use(OptionalAuth(false), ResolveContext(sessions))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"delay": GatewayContext(c).PostbackDelaySeconds})
	})

	_, body := call(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, float64(5), body["delay"])

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPostbackDelay, "0")
	_, body = call(t, app, req)
	assert.Equal(t, float64(0), body["delay"])
}

func TestGatewayWritten(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("db exploded"), false},
		{&services.PhaseError{Phase: services.PhaseEnrich, Err: gateway.ErrTimeout}, false},
		{&services.PhaseError{Phase: services.PhaseCreate, Err: gateway.ErrTimeout}, false},
		{&services.PhaseError{Phase: services.PhaseProcess, IntentID: "i-1", Err: gateway.ErrTimeout}, true},
		{fmt.Errorf("wrapped: %w", &services.PhaseError{Phase: services.PhaseProcess, Err: gateway.ErrTimeout}), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, gatewayWritten(tc.err), fmt.Sprint(tc.err))
	}
}
