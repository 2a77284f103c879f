package repository

import (
	"context"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceRepository struct {
	*pg.DB
}

func NewDeviceRepository(db *pg.DB) *DeviceRepository {
	return &DeviceRepository{
		db,
	}
}

// RecordInbound creates the device on its first message, otherwise bumps the
// received counter in place. An inactive device becomes active again;
// suspended stays suspended.
func (r *DeviceRepository) RecordInbound(ctx context.Context, deviceID string, at time.Time) error {
	at = at.UTC()
	entity := newDeviceEntity(deviceID, at)
	entity.MessagesReceived = 1
	entity.LastMessageAt = &at

	err := r.Write(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"messages_received": gorm.Expr("devices.messages_received + 1"),
			"last_message_at":   at,
			"last_seen":         at,
			"updated_at":        at,
			"status": gorm.Expr("CASE WHEN devices.status = ? THEN ? ELSE devices.status END",
				string(model.DeviceStatusInactive), string(model.DeviceStatusActive)),
		}),
	}).Create(entity).Error
	if err != nil {
		return errors.Wrap(err, "deviceRepo.RecordInbound")
	}
	return nil
}

func (r *DeviceRepository) IncrementForwarded(ctx context.Context, deviceID string) error {
	res := r.Write(ctx).Model(&DeviceEntity{}).Where("device_id = ?", deviceID).
		UpdateColumn("messages_forwarded", gorm.Expr("messages_forwarded + 1"))
	if res.Error != nil {
		return errors.Wrap(res.Error, "deviceRepo.IncrementForwarded")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) List(ctx context.Context) ([]*model.Device, error) {
	var entities []*DeviceEntity
	if err := r.Read(ctx).Order("last_seen DESC").Find(&entities).Error; err != nil {
		return nil, errors.Wrap(err, "deviceRepo.List")
	}
	return toDeviceModels(entities), nil
}

func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	var entity DeviceEntity
	if err := r.Read(ctx).First(&entity, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "deviceRepo.Get")
	}
	return toDeviceModel(&entity), nil
}

// Update applies the admin patch column by column and returns the stored
// device afterwards.
func (r *DeviceRepository) Update(ctx context.Context, deviceID string, u model.DeviceUpdate, at time.Time) (*model.Device, error) {
	cols := updateColumns(u)
	cols["updated_at"] = at.UTC()

	var device *model.Device
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		res := r.Write(ctx).Model(&DeviceEntity{}).Where("device_id = ?", deviceID).UpdateColumns(cols)
		if res.Error != nil {
			return errors.Wrap(res.Error, "deviceRepo.Update")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		device, err = r.Get(ctx, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// UpsertMetadata merges the reported metadata into an existing device or
// creates the device with it. created tells the two apart.
func (r *DeviceRepository) UpsertMetadata(ctx context.Context, deviceID string, patch model.DeviceMetadataPatch, at time.Time) (*model.Device, bool, error) {
	at = at.UTC()
	var (
		device  *model.Device
		created bool
	)
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		entity := newDeviceEntity(deviceID, at)
		meta := patch.Apply(model.DeviceMetadata{})
		entity.AndroidVersion = meta.AndroidVersion
		entity.Manufacturer = meta.Manufacturer
		entity.Model = meta.Model
		entity.AppVersion = meta.AppVersion

		res := r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
		if res.Error != nil {
			return errors.Wrap(res.Error, "deviceRepo.UpsertMetadata")
		}
		created = res.RowsAffected == 1

		if !created {
			cols := metadataColumns(patch)
			cols["last_seen"] = at
			cols["updated_at"] = at
			err := r.Write(ctx).Model(&DeviceEntity{}).Where("device_id = ?", deviceID).UpdateColumns(cols).Error
			if err != nil {
				return errors.Wrap(err, "deviceRepo.UpsertMetadata")
			}
		}

		var err error
		device, err = r.Get(ctx, deviceID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return device, created, nil
}

func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) error {
	res := r.Write(ctx).Where("device_id = ?", deviceID).Delete(&DeviceEntity{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "deviceRepo.Delete")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves the given devices to status and reports how many changed.
func (r *DeviceRepository) SetStatus(ctx context.Context, deviceIDs []string, status model.DeviceStatus, at time.Time) (int64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).Model(&DeviceEntity{}).Where("device_id IN ?", deviceIDs).
		UpdateColumns(map[string]interface{}{"status": string(status), "updated_at": at.UTC()})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "deviceRepo.SetStatus")
	}
	return res.RowsAffected, nil
}
