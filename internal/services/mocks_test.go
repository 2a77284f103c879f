package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

func (m *MockMessageRepository) Stats(ctx context.Context) (*model.MessageStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageStats), args.Error(1)
}

func (m *MockMessageRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockMessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return m.Called(ctx, id, reason, at).Error(0)
}

type MockInboundRecorder struct {
	mock.Mock
}

func (m *MockInboundRecorder) RecordInbound(ctx context.Context, deviceID string, at time.Time) error {
	return m.Called(ctx, deviceID, at).Error(0)
}

type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

type MockDeviceRepository struct {
	mock.Mock
}

func (m *MockDeviceRepository) List(ctx context.Context) ([]*model.Device, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) Update(ctx context.Context, deviceID string, u model.DeviceUpdate, at time.Time) (*model.Device, error) {
	args := m.Called(ctx, deviceID, u, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) UpsertMetadata(ctx context.Context, deviceID string, patch model.DeviceMetadataPatch, at time.Time) (*model.Device, bool, error) {
	args := m.Called(ctx, deviceID, patch, at)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Device), args.Bool(1), args.Error(2)
}

func (m *MockDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *MockDeviceRepository) SetStatus(ctx context.Context, deviceIDs []string, status model.DeviceStatus, at time.Time) (int64, error) {
	args := m.Called(ctx, deviceIDs, status, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeviceRepository) IncrementForwarded(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

type MockAdminRepository struct {
	mock.Mock
}

func (m *MockAdminRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdminRepository) Create(ctx context.Context, admin *model.Admin) (*model.Admin, error) {
	args := m.Called(ctx, admin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func (m *MockAdminRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Admin, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func (m *MockAdminRepository) FindByPhone(ctx context.Context, phone string) (*model.Admin, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func (m *MockAdminRepository) First(ctx context.Context) (*model.Admin, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func (m *MockAdminRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockAdminRepository) UpdateSettings(ctx context.Context, id uuid.UUID, s model.AdminSettings, at time.Time) error {
	return m.Called(ctx, id, s, at).Error(0)
}

func (m *MockAdminRepository) UpdatePasscode(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	return m.Called(ctx, id, hash, at).Error(0)
}

func (m *MockAdminRepository) UpdatePhone(ctx context.Context, id uuid.UUID, phone string, at time.Time) error {
	return m.Called(ctx, id, phone, at).Error(0)
}
