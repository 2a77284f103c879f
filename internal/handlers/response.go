package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/pkg/errors"
)

// statusByCode is the single place error codes become HTTP statuses.
var statusByCode = map[apperror.Code]int{
	apperror.CodeValidation:      xhttp.StatusBadRequest,
	apperror.CodeUnauthenticated: xhttp.StatusUnauthorized,
	apperror.CodeForbidden:       xhttp.StatusForbidden,
	apperror.CodeNotFound:        xhttp.StatusNotFound,
	apperror.CodeConflict:        xhttp.StatusConflict,
	apperror.CodeRateLimited:     xhttp.StatusTooManyRequests,
	apperror.CodeInternal:        xhttp.StatusInternalServerError,
}

const masked = "********"

var sensitiveFields = map[string]struct{}{
	"passcode":        {},
	"newPasscode":     {},
	"currentPasscode": {},
	"password":        {},
	"token":           {},
}

type errorEnvelope struct {
	Error     bool      `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// Responder writes JSON bodies and the uniform error envelope.
type Responder struct {
	log            logger.Logger
	exposeInternal bool
	now            func() time.Time
}

// NewResponder builds a responder. exposeInternal puts the cause of internal
// errors into the message, for development only.
func NewResponder(l logger.Logger, exposeInternal bool) *Responder {
	return &Responder{log: l, exposeInternal: exposeInternal, now: time.Now}
}

func StatusFor(code apperror.Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return xhttp.StatusInternalServerError
}

func (r *Responder) JSON(ctx *xhttp.RequestCtx, status int, v any) {
	writeJSON(ctx, status, v)
}

func (r *Responder) Error(ctx *xhttp.RequestCtx, err error) {
	appErr := apperror.As(err)
	status := StatusFor(appErr.Code)

	message := appErr.Message
	if appErr.Code == apperror.CodeInternal {
		message = "Internal Server Error"
		if r.exposeInternal && appErr.Cause != nil {
			message = appErr.Cause.Error()
		}
	}

	if d, ok := appErr.Details.(apperror.RateLimitDetails); ok {
		ctx.Response.Header.Set("Retry-After", strconv.FormatInt(d.RetryAfter, 10))
	}

	r.logError(ctx, status, appErr)

	writeJSON(ctx, status, errorEnvelope{
		Error:     true,
		Message:   message,
		Timestamp: r.now().UTC(),
		Details:   appErr.Details,
		RequestID: xhttp.RequestID(ctx),
	})
}

// Panic renders a recovered handler panic as an internal error envelope.
func (r *Responder) Panic(ctx *xhttp.RequestCtx, recovered any) {
	r.Error(ctx, apperror.Internal(errors.Errorf("panic: %v", recovered)))
}

func (r *Responder) logError(ctx *xhttp.RequestCtx, status int, appErr *apperror.Error) {
	fields := []any{
		"code", appErr.Code,
		"status", status,
		"method", string(ctx.Method()),
		"path", string(ctx.Path()),
		"query", string(ctx.QueryArgs().QueryString()),
		"params", routeParams(ctx),
		"body", maskBody(ctx.PostBody()),
		"ip", ctx.RemoteIP().String(),
		"request_id", xhttp.RequestID(ctx),
	}
	if appErr.Cause != nil {
		fields = append(fields, "cause", appErr.Cause.Error())
	}
	if status >= xhttp.StatusInternalServerError {
		r.log.Error(appErr.Message, fields...)
		return
	}
	r.log.Warn(appErr.Message, fields...)
}

func routeParams(ctx *xhttp.RequestCtx) map[string]string {
	params := map[string]string{}
	if id, ok := ctx.UserValue("id").(string); ok {
		params["id"] = id
	}
	return params
}

// maskBody renders a request body for logs with credentials replaced.
func maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "<" + strconv.Itoa(len(body)) + " bytes>"
	}
	b, err := json.Marshal(maskValue(v))
	if err != nil {
		return ""
	}
	return string(b)
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if _, ok := sensitiveFields[k]; ok {
				t[k] = masked
				continue
			}
			t[k] = maskValue(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = maskValue(t[i])
		}
		return t
	}
	return v
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return apperror.Validation("Request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperror.Wrap(apperror.CodeValidation, "Invalid JSON body", err)
	}
	return nil
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
