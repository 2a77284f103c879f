package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/ratelimit"
)

const adminKey = "admin"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Admin, error)
}

type AuthMiddleware struct {
	auth Authenticator
	resp *Responder
}

func NewAuthMiddleware(auth Authenticator, resp *Responder) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, resp: resp}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// admin for CurrentAdmin.
func (m *AuthMiddleware) RequireAuth(next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		admin, err := m.auth.Authenticate(ctx, bearerToken(ctx))
		if err != nil {
			m.resp.Error(ctx, err)
			return
		}
		ctx.SetUserValue(adminKey, admin)
		next(ctx)
	}
}

// CheckPermission is the hook for per route permissions. Any authenticated
// admin passes.
func (m *AuthMiddleware) CheckPermission(permission string) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			if CurrentAdmin(ctx) == nil {
				m.resp.Error(ctx, apperror.Forbidden("Permission denied: "+permission))
				return
			}
			next(ctx)
		}
	}
}

func CurrentAdmin(ctx *xhttp.RequestCtx) *model.Admin {
	admin, _ := ctx.UserValue(adminKey).(*model.Admin)
	return admin
}

func bearerToken(ctx *xhttp.RequestCtx) string {
	h := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// RateLimitMiddleware applies a fixed window per client ip to /api/ routes.
// When the counter store is unreachable requests pass.
func RateLimitMiddleware(limiter *ratelimit.Limiter, resp *Responder, l logger.Logger) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			if !strings.HasPrefix(string(ctx.Path()), "/api/") {
				next(ctx)
				return
			}
			res, err := limiter.Allow(ctx, ctx.RemoteIP().String())
			if err != nil {
				l.Warn("rate limiter unavailable", "error", err, "request_id", xhttp.RequestID(ctx))
			}
			ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			if !res.Allowed {
				resp.Error(ctx, apperror.RateLimited(res.RetryAfterSeconds(), res.Limit, res.Remaining))
				return
			}
			next(ctx)
		}
	}
}

// NotFound renders unknown routes with the error envelope.
func NotFound(resp *Responder) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		resp.Error(ctx, apperror.NotFound("Resource not found"))
	}
}
