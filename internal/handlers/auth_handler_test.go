package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/ratelimit"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	admin := &model.Admin{ID: uuid.New(), PhoneNumber: "+14155551234"}

	t.Run("missing header", func(t *testing.T) {
		svc := new(MockAdminService)
		mw := NewAuthMiddleware(svc, testResponder())
		svc.On("Authenticate", mock.Anything, "").Return(nil, apperror.Unauthenticated("Access token required"))

		called := false
		ctx := setupTestContext("GET", "/api/devices", nil)
		mw.RequireAuth(func(*xhttp.RequestCtx) { called = true })(ctx)

		assert.False(t, called)
		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("bearer token resolves admin", func(t *testing.T) {
		svc := new(MockAdminService)
		mw := NewAuthMiddleware(svc, testResponder())
		svc.On("Authenticate", mock.Anything, "abc.def.ghi").Return(admin, nil)

		var seen *model.Admin
		ctx := setupTestContext("GET", "/api/devices", nil)
		ctx.Request.Header.Set("Authorization", "Bearer abc.def.ghi")
		mw.RequireAuth(func(c *xhttp.RequestCtx) { seen = CurrentAdmin(c) })(ctx)

		require.NotNil(t, seen)
		assert.Equal(t, admin.ID, seen.ID)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	svc := new(MockAdminService)
	handler := NewAuthHandler(svc, testResponder())
	svc.On("Login", mock.Anything, model.LoginRequest{PhoneNumber: "+14155551234", Passcode: "wrong"}).
		Return(nil, apperror.Unauthenticated("Invalid phone number or passcode"))
	svc.On("Login", mock.Anything, model.LoginRequest{PhoneNumber: "+14155551234", Passcode: "secret1"}).
		Return(&model.LoginResult{Token: "tok", ExpiresAt: time.Now().Add(time.Hour), Admin: &model.Admin{PasscodeHash: "$2a$hash"}}, nil)

	ctx := setupTestContext("POST", "/api/auth/login", []byte(`{"phoneNumber":"+14155551234","passcode":"wrong"}`))
	handler.Login(ctx)
	assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = setupTestContext("POST", "/api/auth/login", []byte(`{"phoneNumber":"+14155551234","passcode":"secret1"}`))
	handler.Login(ctx)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"token":"tok"`)
	assert.NotContains(t, string(ctx.Response.Body()), "$2a$hash")
}

func TestAuthHandler_ChangePhoneConflict(t *testing.T) {
	svc := new(MockAdminService)
	handler := NewAuthHandler(svc, testResponder())
	admin := &model.Admin{ID: uuid.New()}
	svc.On("ChangePhone", mock.Anything, admin, model.ChangePhoneRequest{PhoneNumber: "+14155559999"}).
		Return(nil, apperror.Conflict("phoneNumber", "+14155559999"))

	ctx := setupTestContext("PUT", "/api/auth/phone", []byte(`{"phoneNumber":"+14155559999"}`))
	ctx.SetUserValue(adminKey, admin)
	handler.ChangePhone(ctx)

	assert.Equal(t, xhttp.StatusConflict, ctx.Response.StatusCode())
	details := decodeEnvelope(t, ctx)["details"].(map[string]any)
	assert.Equal(t, "phoneNumber", details["field"])
	assert.Equal(t, "+14155559999", details["value"])
}

type countingStore struct {
	counts map[string]int64
	err    error
}

func (s *countingStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.counts[key]++
	return s.counts[key], window, nil
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("blocks after limit", func(t *testing.T) {
		limiter := ratelimit.New(&countingStore{counts: map[string]int64{}}, 2, time.Minute)
		h := RateLimitMiddleware(limiter, testResponder(), logger.Nop())(func(ctx *xhttp.RequestCtx) {
			ctx.SetStatusCode(xhttp.StatusOK)
		})

		for i := 0; i < 2; i++ {
			ctx := setupTestContext("GET", "/api/devices", nil)
			h(ctx)
			assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		}

		ctx := setupTestContext("GET", "/api/devices", nil)
		h(ctx)
		assert.Equal(t, xhttp.StatusTooManyRequests, ctx.Response.StatusCode())
		assert.Equal(t, "60", string(ctx.Response.Header.Peek("Retry-After")))
		assert.Equal(t, "0", string(ctx.Response.Header.Peek("X-RateLimit-Remaining")))
		details := decodeEnvelope(t, ctx)["details"].(map[string]any)
		assert.Equal(t, float64(60), details["retryAfter"])
		assert.Equal(t, float64(2), details["limit"])
	})

	t.Run("health is not limited", func(t *testing.T) {
		limiter := ratelimit.New(&countingStore{counts: map[string]int64{}}, 0, time.Minute)
		h := RateLimitMiddleware(limiter, testResponder(), logger.Nop())(func(ctx *xhttp.RequestCtx) {
			ctx.SetStatusCode(xhttp.StatusOK)
		})
		ctx := setupTestContext("GET", "/health", nil)
		h(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("store failure fails open", func(t *testing.T) {
		limiter := ratelimit.New(&countingStore{err: errors.New("redis down")}, 1, time.Minute)
		h := RateLimitMiddleware(limiter, testResponder(), logger.Nop())(func(ctx *xhttp.RequestCtx) {
			ctx.SetStatusCode(xhttp.StatusOK)
		})
		ctx := setupTestContext("GET", "/api/devices", nil)
		h(ctx)
		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	})
}

func TestResponder_MasksSensitiveFields(t *testing.T) {
	got := maskBody([]byte(`{"phoneNumber":"+1","passcode":"1234","nested":{"token":"t"},"list":[{"newPasscode":"x"}]}`))
	assert.JSONEq(t, `{"phoneNumber":"+1","passcode":"********","nested":{"token":"********"},"list":[{"newPasscode":"********"}]}`, got)
	assert.Equal(t, "<3 bytes>", maskBody([]byte("abc")))
}

func TestResponder_ExposesInternalInDevelopment(t *testing.T) {
	resp := NewResponder(logger.Nop(), true)
	ctx := setupTestContext("GET", "/api/messages", nil)
	resp.Error(ctx, errors.New("pq: relation missing"))

	assert.Equal(t, xhttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "pq: relation missing", decodeEnvelope(t, ctx)["message"])
}

func TestRoutes_UnknownPathAndAuth(t *testing.T) {
	resp := testResponder()
	adminSvc := new(MockAdminService)
	adminSvc.On("Authenticate", mock.Anything, "").Return(nil, apperror.Unauthenticated("Access token required"))
	auth := NewAuthMiddleware(adminSvc, resp)

	r := xhttp.CreateDefaultRouter()
	r.NotFound = NotFound(resp)
	api := r.Group("/api")
	RegisterMessageRoutes(api, NewMessageHandler(new(MockMessageService), resp), auth)
	RegisterDeviceRoutes(api, NewDeviceHandler(new(MockDeviceService), resp), auth)

	ctx := setupTestContext("GET", "/api/nothing", nil)
	r.Handler(ctx)
	assert.Equal(t, xhttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "Resource not found", decodeEnvelope(t, ctx)["message"])

	ctx = setupTestContext("GET", "/api/devices", nil)
	r.Handler(ctx)
	assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
}
