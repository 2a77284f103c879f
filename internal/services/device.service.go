package services

import (
	"context"
	"strings"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/internal/presence"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
)

type DeviceRepository interface {
	List(ctx context.Context) ([]*model.Device, error)
	Get(ctx context.Context, deviceID string) (*model.Device, error)
	Update(ctx context.Context, deviceID string, u model.DeviceUpdate, at time.Time) (*model.Device, error)
	UpsertMetadata(ctx context.Context, deviceID string, patch model.DeviceMetadataPatch, at time.Time) (*model.Device, bool, error)
	Delete(ctx context.Context, deviceID string) error
	SetStatus(ctx context.Context, deviceIDs []string, status model.DeviceStatus, at time.Time) (int64, error)
	IncrementForwarded(ctx context.Context, deviceID string) error
}

type DeviceService struct {
	deviceRepo DeviceRepository
	log        logger.Logger
	now        func() time.Time
}

func NewDeviceService(deviceRepo DeviceRepository, l logger.Logger) *DeviceService {
	return &DeviceService{
		deviceRepo: deviceRepo,
		log:        l,
		now:        time.Now,
	}
}

func (s *DeviceService) WithClock(now func() time.Time) *DeviceService {
	s.now = now
	return s
}

func (s *DeviceService) List(ctx context.Context) ([]*model.DeviceView, error) {
	devices, err := s.deviceRepo.List(ctx)
	if err != nil {
		return nil, storeError(err, "Device not found")
	}
	now := s.now()
	views := make([]*model.DeviceView, len(devices))
	for i, d := range devices {
		views[i] = model.NewDeviceView(d, now)
	}
	return views, nil
}

func (s *DeviceService) Get(ctx context.Context, deviceID string) (*model.DeviceView, error) {
	d, err := s.deviceRepo.Get(ctx, deviceID)
	if err != nil {
		return nil, storeError(err, "Device not found")
	}
	return model.NewDeviceView(d, s.now()), nil
}

// Update merges settings, and optionally renames or changes the status.
func (s *DeviceService) Update(ctx context.Context, deviceID string, u model.DeviceUpdate) (*model.DeviceView, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	d, err := s.deviceRepo.Update(ctx, deviceID, u, s.now())
	if err != nil {
		return nil, storeError(err, "Device not found")
	}
	return model.NewDeviceView(d, s.now()), nil
}

// UpsertMetadata reports created=true when the call registered the device.
func (s *DeviceService) UpsertMetadata(ctx context.Context, deviceID string, req model.DeviceMetadataRequest) (*model.DeviceView, bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, false, apperror.Validation("deviceId is required",
			apperror.FieldError{Field: "deviceId", Message: "deviceId is required"})
	}
	d, created, err := s.deviceRepo.UpsertMetadata(ctx, deviceID, req.Metadata, s.now())
	if err != nil {
		return nil, false, storeError(err, "Device not found")
	}
	if created {
		s.log.Info("device registered", "deviceId", deviceID)
	}
	return model.NewDeviceView(d, s.now()), created, nil
}

func (s *DeviceService) Delete(ctx context.Context, deviceID string) error {
	return storeError(s.deviceRepo.Delete(ctx, deviceID), "Device not found")
}

func (s *DeviceService) GetStats(ctx context.Context, deviceID string) (*model.DeviceStatsView, error) {
	d, err := s.deviceRepo.Get(ctx, deviceID)
	if err != nil {
		return nil, storeError(err, "Device not found")
	}
	return model.NewDeviceStatsView(d, s.now()), nil
}

// RecordForwarded bumps the device's forwarded counter.
func (s *DeviceService) RecordForwarded(ctx context.Context, deviceID string) error {
	return storeError(s.deviceRepo.IncrementForwarded(ctx, deviceID), "Device not found")
}

// Sweep marks every active device not seen for longer than after as inactive
// and returns the ids it changed.
func (s *DeviceService) Sweep(ctx context.Context, after time.Duration) ([]string, error) {
	if after <= 0 {
		after = presence.InactiveThreshold
	}
	devices, err := s.deviceRepo.List(ctx)
	if err != nil {
		return nil, storeError(err, "Device not found")
	}
	now := s.now()
	stale := presence.FindInactive(devices, now, after)
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, len(stale))
	for i, d := range stale {
		ids[i] = d.DeviceID
	}
	if _, err := s.deviceRepo.SetStatus(ctx, ids, model.DeviceStatusInactive, now); err != nil {
		return nil, storeError(err, "Device not found")
	}
	s.log.Info("marked devices inactive", "count", len(ids))
	return ids, nil
}
