package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/classifier"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) // results, totalCount
	Stats(ctx context.Context) (*model.MessageStats, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

// InboundRecorder is the part of the device registry ingestion touches.
type InboundRecorder interface {
	RecordInbound(ctx context.Context, deviceID string, at time.Time) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher hands a committed message to the forwarding queue.
type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

type MessageService struct {
	messageRepo MessageRepository
	devices     InboundRecorder
	tx          Transactor
	publisher   Publisher
	log         logger.Logger
	now         func() time.Time
}

func NewMessageService(messageRepo MessageRepository, devices InboundRecorder, tx Transactor, l logger.Logger) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		devices:     devices,
		tx:          tx,
		log:         l,
		now:         time.Now,
	}
}

// WithPublisher enables forwarding. Without one, messages stay received.
func (s *MessageService) WithPublisher(p Publisher) *MessageService {
	s.publisher = p
	return s
}

func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

// Ingest stores an SMS reported by a device and records the device activity in
// the same transaction. Publishing happens after commit and never fails the
// request.
func (s *MessageService) Ingest(ctx context.Context, req model.MessageIngestRequest) (*model.Message, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	ts := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.Time
	}
	m := &model.Message{
		Sender:    classifier.SanitizePhoneNumber(req.Sender),
		Content:   req.Content,
		Timestamp: ts,
		DeviceID:  req.DeviceID,
		Status:    model.MessageStatusReceived,
	}

	var created *model.Message
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.messageRepo.Create(ctx, m)
		if err != nil {
			return err
		}
		return s.devices.RecordInbound(ctx, m.DeviceID, now)
	})
	if err != nil {
		return nil, storeError(err, "Message not found")
	}

	prom.IncMessageIngested(created.IsOTP())

	if s.publisher != nil {
		job := model.ForwardJob{MessageID: created.ID.String(), DeviceID: created.DeviceID}
		if _, err := s.publisher.PublishJSON(ctx, job, nil); err != nil {
			s.log.Warn("forward publish failed", "messageId", created.ID, "error", err)
		}
	}
	return created, nil
}

func (s *MessageService) List(ctx context.Context, f model.MessageFilter) (*model.MessagePage, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	items, total, err := s.messageRepo.List(ctx, f)
	if err != nil {
		return nil, storeError(err, "Message not found")
	}

	now := s.now()
	views := make([]*model.MessageView, len(items))
	for i, m := range items {
		views[i] = model.NewMessageView(m, now)
	}
	return &model.MessagePage{
		Messages:   views,
		Page:       f.Page,
		TotalPages: model.TotalPages(total, f.Limit),
		Total:      total,
	}, nil
}

func (s *MessageService) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	m, err := s.messageRepo.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "Message not found")
	}
	return m, nil
}

func (s *MessageService) Stats(ctx context.Context) (*model.MessageStats, error) {
	st, err := s.messageRepo.Stats(ctx)
	if err != nil {
		return nil, storeError(err, "Message not found")
	}
	return st, nil
}

// Delete removes the messages named in the request. Unknown ids are not an
// error; ids that are not uuids are.
func (s *MessageService) Delete(ctx context.Context, req model.DeleteMessagesRequest) (*model.DeleteResult, error) {
	if len(req.MessageIDs) == 0 {
		return nil, apperror.Validation("messageIds must be a non-empty array",
			apperror.FieldError{Field: "messageIds", Message: "at least one id is required"})
	}

	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	var bad []apperror.FieldError
	for _, raw := range req.MessageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			bad = append(bad, apperror.FieldError{Field: "messageIds", Message: "invalid id " + raw})
			continue
		}
		ids = append(ids, id)
	}
	if len(bad) > 0 {
		return nil, apperror.Validation("messageIds contains invalid ids", bad...)
	}

	n, err := s.messageRepo.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err, "Message not found")
	}
	return &model.DeleteResult{DeletedCount: n}, nil
}

func (s *MessageService) MarkForwarded(ctx context.Context, id uuid.UUID) error {
	return storeError(s.messageRepo.MarkForwarded(ctx, id, s.now()), "Message not found")
}

func (s *MessageService) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	return storeError(s.messageRepo.MarkFailed(ctx, id, reason, s.now()), "Message not found")
}

// Purge deletes messages older than retentionDays.
func (s *MessageService) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, apperror.Validation("retentionDays must be at least 1",
			apperror.FieldError{Field: "retentionDays", Message: "must be >= 1"})
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := s.messageRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, storeError(err, "Message not found")
	}
	s.log.Info("purged messages", "count", n, "cutoff", cutoff)
	return n, nil
}
