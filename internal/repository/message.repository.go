package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/classifier"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, errors.Wrap(translate(err), "messageRepo.Create")
	}

	return toMessageModel(entity), nil
}

func (r *MessageRepository) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var entity MessageEntity
	if err := r.Read(ctx).First(&entity, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "messageRepo.Get")
	}
	return toMessageModel(&entity), nil
}

// List applies the filter, orders newest first and returns one page together
// with the total number of matches.
func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).Model(&MessageEntity{})

	if f.DeviceID != nil && *f.DeviceID != "" {
		q = q.Where("device_id = ?", *f.DeviceID)
	}
	if f.Sender != nil && *f.Sender != "" {
		q = q.Where(`LOWER(sender) LIKE LOWER(?) ESCAPE '\'`, "%"+escapeLike(*f.Sender)+"%")
	}
	if f.StartDate != nil {
		q = q.Where("timestamp >= ?", f.StartDate.UTC())
	}
	if f.EndDate != nil {
		q = q.Where("timestamp <= ?", f.EndDate.UTC())
	}
	if f.OTPOnly {
		q = q.Where(otpCondition())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "messageRepo.List")
	}

	limit := f.Limit
	if limit <= 0 || limit > model.MaxPageLimit {
		limit = model.DefaultPageLimit
	}
	offset := f.Offset()
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order("timestamp DESC").Order("id").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, errors.Wrap(err, "messageRepo.List")
	}

	return toMessageModels(entities), total, nil
}

func (r *MessageRepository) Stats(ctx context.Context) (*model.MessageStats, error) {
	var row struct {
		Total         int64
		UniqueDevices int64
		UniqueSenders int64
		OTPCount      int64
	}
	err := r.Read(ctx).Model(&MessageEntity{}).
		Select("COUNT(*) AS total, " +
			"COUNT(DISTINCT device_id) AS unique_devices, " +
			"COUNT(DISTINCT sender) AS unique_senders, " +
			"COALESCE(SUM(CASE WHEN " + otpCondition() + " THEN 1 ELSE 0 END), 0) AS otp_count").
		Scan(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.Stats")
	}
	return &model.MessageStats{
		Total:         row.Total,
		UniqueDevices: row.UniqueDevices,
		UniqueSenders: row.UniqueSenders,
		OTPCount:      row.OTPCount,
	}, nil
}

// DeleteByIDs removes the listed messages; ids that do not exist are ignored.
func (r *MessageRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	res := r.Write(ctx).Where("id IN ?", keys).Delete(&MessageEntity{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "messageRepo.DeleteByIDs")
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan drops messages whose timestamp is before cutoff.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.Write(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&MessageEntity{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "messageRepo.DeleteOlderThan")
	}
	return res.RowsAffected, nil
}

func (r *MessageRepository) MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.updateStatus(ctx, "messageRepo.MarkForwarded", id, map[string]interface{}{
		"status":       string(model.MessageStatusForwarded),
		"forwarded_at": at.UTC(),
		"error":        nil,
		"updated_at":   at.UTC(),
	})
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.updateStatus(ctx, "messageRepo.MarkFailed", id, map[string]interface{}{
		"status":       string(model.MessageStatusFailed),
		"forwarded_at": nil,
		"error":        reason,
		"updated_at":   at.UTC(),
	})
}

func (r *MessageRepository) updateStatus(ctx context.Context, op string, id uuid.UUID, cols map[string]interface{}) error {
	res := r.Write(ctx).Model(&MessageEntity{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return errors.Wrap(res.Error, op)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// otpCondition is the SQL form of classifier.MatchesOTPFilter.
func otpCondition() string {
	parts := make([]string, len(classifier.OTPFilterKeywords))
	for i, kw := range classifier.OTPFilterKeywords {
		parts[i] = "LOWER(content) LIKE '%" + kw + "%'"
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
