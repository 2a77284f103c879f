package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/classifier"
	"github.com/nimasrn/sms-forwarder/internal/timefmt"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
)

// MessageStatus is the forwarding state of an inbound SMS.
type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusForwarded MessageStatus = "forwarded"
	MessageStatusFailed    MessageStatus = "failed"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

// Message is an SMS as reported by a device. ForwardedAt is set only while
// Status is forwarded and Error only while Status is failed; use MarkForwarded
// and MarkFailed rather than assigning the fields.
type Message struct {
	ID          uuid.UUID     `json:"id"`
	Sender      string        `json:"sender"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	DeviceID    string        `json:"deviceId"`
	Status      MessageStatus `json:"status"`
	ForwardedAt *time.Time    `json:"forwardedAt,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (m *Message) MarkForwarded(at time.Time) {
	m.Status = MessageStatusForwarded
	m.ForwardedAt = &at
	m.Error = nil
}

func (m *Message) MarkFailed(reason string) {
	m.Status = MessageStatusFailed
	m.ForwardedAt = nil
	m.Error = &reason
}

func (m *Message) IsOTP() bool {
	return classifier.IsOTPMessage(m.Content)
}

// Timestamp is an instant sent by a device. Android clients send epoch
// milliseconds; RFC3339 strings and numeric strings are accepted too.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", raw)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// MessageIngestRequest is the device facing create payload.
type MessageIngestRequest struct {
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
	DeviceID  string     `json:"deviceId"`
}

// Validate reports a whitespace-only deviceId as missing.
func (r MessageIngestRequest) Validate() error {
	var missing []apperror.FieldError
	if r.Sender == "" {
		missing = append(missing, apperror.FieldError{Field: "sender", Message: "sender is required"})
	}
	if r.Content == "" {
		missing = append(missing, apperror.FieldError{Field: "content", Message: "content is required"})
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		missing = append(missing, apperror.FieldError{Field: "deviceId", Message: "deviceId is required"})
	}
	if len(missing) > 0 {
		return apperror.Validation("Missing required fields", missing...)
	}
	if !classifier.IsValidPhoneNumber(r.Sender) {
		return apperror.Validation("Invalid phone number format",
			apperror.FieldError{Field: "sender", Message: "sender must be an E.164 phone number"})
	}
	return nil
}

// MessageFilter controls List queries. Zero Page and Limit mean defaults.
type MessageFilter struct {
	DeviceID  *string    // equals
	Sender    *string    // case-insensitive substring
	StartDate *time.Time // inclusive
	EndDate   *time.Time // inclusive
	OTPOnly   bool
	Page      int // 1-indexed
	Limit     int
}

// Normalize fills defaults and rejects out of range pagination.
func (f *MessageFilter) Normalize() error {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Page < 1 {
		return apperror.Validation("page must be a positive integer", apperror.FieldError{Field: "page", Message: "must be >= 1"})
	}
	if f.Limit < 1 || f.Limit > MaxPageLimit {
		return apperror.Validation("limit out of range", apperror.FieldError{Field: "limit", Message: "must be between 1 and 1000"})
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return apperror.Validation("endDate is before startDate", apperror.FieldError{Field: "endDate", Message: "must not be before startDate"})
	}
	return nil
}

func (f MessageFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// MessageView is a Message with the fields the dashboard derives at read time.
type MessageView struct {
	Message
	TimeAgo string  `json:"timeAgo"`
	IsOTP   bool    `json:"isOTP"`
	OTP     *string `json:"otp"`
}

func NewMessageView(m *Message, now time.Time) *MessageView {
	v := &MessageView{
		Message: *m,
		TimeAgo: timefmt.TimeAgo(m.Timestamp, now),
		IsOTP:   m.IsOTP(),
	}
	if v.IsOTP {
		if otp, ok := classifier.ExtractOTP(m.Content); ok {
			v.OTP = &otp
		}
	}
	return v
}

type MessagePage struct {
	Messages   []*MessageView `json:"messages"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
	Total      int64          `json:"total"`
}

// TotalPages is ceil(total/limit).
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

type MessageStats struct {
	Total         int64 `json:"total"`
	UniqueDevices int64 `json:"uniqueDevices"`
	UniqueSenders int64 `json:"uniqueSenders"`
	OTPCount      int64 `json:"otpCount"`
}

type DeleteMessagesRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// ForwardJob is the queue payload published after ingestion.
type ForwardJob struct {
	MessageID string `json:"messageId"`
	DeviceID  string `json:"deviceId"`
}
