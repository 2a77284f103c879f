package xhttp

import (
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/valyala/fasthttp"
)

const slowThreshold = 500 * time.Millisecond

const requestIDKey = "requestId"

var skipPaths = []string{"/health", "/metrics"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

// PanicHandler writes the response for a recovered handler panic.
type PanicHandler func(ctx *RequestCtx, recovered any)

func plainPanic(ctx *RequestCtx, _ any) {
	ctx.Error(StatusText(StatusInternalServerError), StatusInternalServerError)
}

// TimeoutMiddleware runs next on its own goroutine, out of reach of an outer
// RecoverMiddleware, so next is wrapped with one before it is handed over.
func TimeoutMiddleware(timeout time.Duration, l logger.Logger, onPanic PanicHandler) MiddlewareFunc {
	recoverer := RecoverMiddleware(l, onPanic)
	return func(next RequestHandler) RequestHandler {
		return fasthttp.TimeoutWithCodeHandler(recoverer(next), timeout, StatusText(StatusRequestTimeout), StatusRequestTimeout)
	}
}

func CompressMiddleware(level int) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.CompressHandlerBrotliLevel(next, level, level)
	}
}

// RecoverMiddleware turns a panic on the calling goroutine into a 500 written
// by onPanic, or a plain text 500 when onPanic is nil.
func RecoverMiddleware(l logger.Logger, onPanic PanicHandler) MiddlewareFunc {
	if onPanic == nil {
		onPanic = plainPanic
	}
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("[xhttp] panic recovered", "error", rec, "path", string(ctx.Path()),
						"request_id", RequestID(ctx), "stack", string(debug.Stack()))
					ctx.Response.ResetBody()
					onPanic(ctx, rec)
				}
			}()
			next(ctx)
		}
	}
}

// RequestIDMiddleware echoes X-Request-Id or generates one.
func RequestIDMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		rid := string(ctx.Request.Header.Peek("X-Request-Id"))
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx.SetUserValue(requestIDKey, rid)
		ctx.Response.Header.Set("X-Request-Id", rid)
		next(ctx)
	}
}

// RequestID returns the id set by RequestIDMiddleware, falling back to the header.
func RequestID(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue(requestIDKey).(string); ok {
		return v
	}
	return string(ctx.Request.Header.Peek("X-Request-Id"))
}

type CORSConfig struct {
	AllowOrigin      string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
}

func DefaultCORSConfig(origin string) CORSConfig {
	return CORSConfig{
		AllowOrigin:      origin,
		AllowMethods:     "GET, POST, PUT, DELETE, PATCH",
		AllowHeaders:     "Content-Type, Authorization",
		AllowCredentials: true,
	}
}

// CORSMiddleware answers preflight requests itself with 204.
func CORSMiddleware(cfg CORSConfig) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
			h.Set("Access-Control-Allow-Methods", cfg.AllowMethods)
			h.Set("Access-Control-Allow-Headers", cfg.AllowHeaders)
			h.Set("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if ctx.IsOptions() {
				ctx.SetStatusCode(StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

func SecureHeadersMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		h := &ctx.Response.Header
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-XSS-Protection", "0")
		next(ctx)
	}
}

func RequestLoggerMiddleware(l logger.Logger) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			path := string(ctx.Path())
			if shouldSkip(path) {
				next(ctx)
				return
			}

			start := time.Now()
			next(ctx)

			latency := time.Since(start)
			status := ctx.Response.StatusCode()
			fields := []any{
				"status", status,
				"method", string(ctx.Method()),
				"path", path,
				"latency", latency.String(),
				"bytes_in", len(ctx.PostBody()),
				"bytes_out", len(ctx.Response.Body()),
				"ip", ctx.RemoteIP().String(),
				"ua", string(ctx.Request.Header.UserAgent()),
				"request_id", RequestID(ctx),
			}

			switch {
			case status >= 500:
				l.Error("http_request", fields...)
			case status >= 400 || latency > slowThreshold:
				l.Warn("http_request", fields...)
			default:
				l.Info("http_request", fields...)
			}
		}
	}
}

func shouldSkip(p string) bool {
	for _, sp := range skipPaths {
		if strings.HasPrefix(p, sp) {
			return true
		}
	}
	return false
}
