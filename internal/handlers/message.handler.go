package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
)

type MessageService interface {
	Ingest(ctx context.Context, req model.MessageIngestRequest) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) (*model.MessagePage, error)
	Stats(ctx context.Context) (*model.MessageStats, error)
	Delete(ctx context.Context, req model.DeleteMessagesRequest) (*model.DeleteResult, error)
}

type MessageHandler struct {
	svc  MessageService
	resp *Responder
}

func NewMessageHandler(messageService MessageService, resp *Responder) *MessageHandler {
	return &MessageHandler{
		svc:  messageService,
		resp: resp,
	}
}

func RegisterMessageRoutes(g *xhttp.Group, h *MessageHandler, auth *AuthMiddleware) {
	g.POST("/messages", h.IngestMessage)
	g.GET("/messages", auth.RequireAuth(h.ListMessages))
	g.DELETE("/messages", auth.RequireAuth(h.DeleteMessages))
	g.GET("/messages/stats", auth.RequireAuth(h.GetStats))
}

// IngestMessage is called by devices for every received SMS.
func (h *MessageHandler) IngestMessage(ctx *xhttp.RequestCtx) {
	var req model.MessageIngestRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	msg, err := h.svc.Ingest(ctx, req)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusCreated, msg)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	f, err := parseMessageFilter(ctx)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	page, err := h.svc.List(ctx, f)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, page)
}

func (h *MessageHandler) DeleteMessages(ctx *xhttp.RequestCtx) {
	var req model.DeleteMessagesRequest
	if err := readJSON(ctx, &req); err != nil {
		h.resp.Error(ctx, err)
		return
	}
	res, err := h.svc.Delete(ctx, req)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, res)
}

func (h *MessageHandler) GetStats(ctx *xhttp.RequestCtx) {
	st, err := h.svc.Stats(ctx)
	if err != nil {
		h.resp.Error(ctx, err)
		return
	}
	h.resp.JSON(ctx, xhttp.StatusOK, st)
}

func parseMessageFilter(ctx *xhttp.RequestCtx) (model.MessageFilter, error) {
	var (
		f   model.MessageFilter
		bad []apperror.FieldError
		err error
	)
	if v := query(ctx, "page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			bad = append(bad, apperror.FieldError{Field: "page", Message: "must be an integer"})
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			bad = append(bad, apperror.FieldError{Field: "limit", Message: "must be an integer"})
		}
	}
	if v := query(ctx, "deviceId"); v != "" {
		f.DeviceID = &v
	}
	if v := query(ctx, "sender"); v != "" {
		f.Sender = &v
	}
	if v := query(ctx, "startDate"); v != "" {
		t, err := parseTime(v, false)
		if err != nil {
			bad = append(bad, apperror.FieldError{Field: "startDate", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			f.StartDate = &t
		}
	}
	if v := query(ctx, "endDate"); v != "" {
		t, err := parseTime(v, true)
		if err != nil {
			bad = append(bad, apperror.FieldError{Field: "endDate", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			f.EndDate = &t
		}
	}
	if strings.EqualFold(query(ctx, "type"), "otp") {
		f.OTPOnly = true
	}
	if len(bad) > 0 {
		return f, apperror.Validation("Invalid query parameters", bad...)
	}
	return f, nil
}

// parseTime accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
