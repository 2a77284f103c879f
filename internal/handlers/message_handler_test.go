package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, ctx *xhttp.RequestCtx) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	return env
}

func TestMessageHandler_IngestMessage(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())

		body := []byte(`{"sender":"+14155551234","content":"hi","deviceId":"dev-1"}`)
		expected := &model.Message{ID: uuid.New(), Sender: "+14155551234", Content: "hi", DeviceID: "dev-1", Status: model.MessageStatusReceived}
		svc.On("Ingest", mock.Anything, model.MessageIngestRequest{Sender: "+14155551234", Content: "hi", DeviceID: "dev-1"}).
			Return(expected, nil)

		ctx := setupTestContext("POST", "/api/messages", body)
		handler.IngestMessage(ctx)

		assert.Equal(t, xhttp.StatusCreated, ctx.Response.StatusCode())
		var got model.Message
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &got))
		assert.Equal(t, expected.ID, got.ID)
		assert.Equal(t, model.MessageStatusReceived, got.Status)
	})

	t.Run("android epoch millisecond timestamp", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())

		sentAt := time.UnixMilli(1718000000000).UTC()
		body := []byte(`{"sender":"+14155551234","content":"Your code is 123456","timestamp":1718000000000,"deviceId":"dev-1"}`)
		svc.On("Ingest", mock.Anything, mock.MatchedBy(func(req model.MessageIngestRequest) bool {
			return req.Timestamp != nil && req.Timestamp.Equal(sentAt) && req.DeviceID == "dev-1"
		})).Return(&model.Message{ID: uuid.New(), Timestamp: sentAt, Status: model.MessageStatusReceived}, nil)

		ctx := setupTestContext("POST", "/api/messages", body)
		handler.IngestMessage(ctx)

		assert.Equal(t, xhttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))
		svc.AssertExpectations(t)
	})

	t.Run("invalid json", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())

		ctx := setupTestContext("POST", "/api/messages", []byte(`{bad`))
		handler.IngestMessage(ctx)

		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		assert.Equal(t, true, env["error"])
		assert.Equal(t, "Invalid JSON body", env["message"])
		svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("validation error carries details", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())
		svc.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, apperror.Validation("Missing required fields", apperror.FieldError{Field: "content", Message: "content is required"}))

		ctx := setupTestContext("POST", "/api/messages", []byte(`{"sender":"+14155551234"}`))
		handler.IngestMessage(ctx)

		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		env := decodeEnvelope(t, ctx)
		details, ok := env["details"].([]any)
		require.True(t, ok)
		assert.Len(t, details, 1)
	})

	t.Run("internal errors hide the cause", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())
		svc.On("Ingest", mock.Anything, mock.Anything).Return(nil, errors.New("pq: connection refused"))

		ctx := setupTestContext("POST", "/api/messages", []byte(`{"sender":"+14155551234","content":"x","deviceId":"d"}`))
		handler.IngestMessage(ctx)

		assert.Equal(t, xhttp.StatusInternalServerError, ctx.Response.StatusCode())
		assert.Equal(t, "Internal Server Error", decodeEnvelope(t, ctx)["message"])
	})
}

func TestMessageHandler_ListMessages(t *testing.T) {
	t.Run("parses filters", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())

		svc.On("List", mock.Anything, mock.MatchedBy(func(f model.MessageFilter) bool {
			end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).Add(24*time.Hour - time.Nanosecond)
			return f.Page == 2 && f.Limit == 10 && f.OTPOnly &&
				f.DeviceID != nil && *f.DeviceID == "dev-1" &&
				f.Sender != nil && *f.Sender == "555" &&
				f.StartDate != nil && f.StartDate.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) &&
				f.EndDate != nil && f.EndDate.Equal(end)
		})).Return(&model.MessagePage{Messages: []*model.MessageView{}, Page: 2, TotalPages: 3, Total: 21}, nil)

		ctx := setupTestContext("GET", "/api/messages?page=2&limit=10&deviceId=dev-1&sender=555&startDate=2025-01-01&endDate=2025-01-31&type=otp", nil)
		handler.ListMessages(ctx)

		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		var page model.MessagePage
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &page))
		assert.Equal(t, 3, page.TotalPages)
		assert.Equal(t, int64(21), page.Total)
		svc.AssertExpectations(t)
	})

	t.Run("bad page", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc, testResponder())

		ctx := setupTestContext("GET", "/api/messages?page=abc&startDate=yesterday", nil)
		handler.ListMessages(ctx)

		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		details := decodeEnvelope(t, ctx)["details"].([]any)
		assert.Len(t, details, 2)
	})
}

func TestMessageHandler_DeleteAndStats(t *testing.T) {
	svc := new(MockMessageService)
	handler := NewMessageHandler(svc, testResponder())
	id := uuid.NewString()

	svc.On("Delete", mock.Anything, model.DeleteMessagesRequest{MessageIDs: []string{id}}).
		Return(&model.DeleteResult{DeletedCount: 1}, nil)
	svc.On("Stats", mock.Anything).
		Return(&model.MessageStats{Total: 5, UniqueDevices: 2, UniqueSenders: 3, OTPCount: 1}, nil)

	ctx := setupTestContext("DELETE", "/api/messages", []byte(`{"messageIds":["`+id+`"]}`))
	handler.DeleteMessages(ctx)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"deletedCount":1}`, string(ctx.Response.Body()))

	ctx = setupTestContext("GET", "/api/messages/stats", nil)
	handler.GetStats(ctx)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"total":5,"uniqueDevices":2,"uniqueSenders":3,"otpCount":1}`, string(ctx.Response.Body()))
}
