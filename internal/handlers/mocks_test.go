package handlers

import (
	"context"

	"github.com/nimasrn/sms-forwarder/internal/model"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/stretchr/testify/mock"
	"github.com/valyala/fasthttp"
)

type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Ingest(ctx context.Context, req model.MessageIngestRequest) (*model.Message, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageService) List(ctx context.Context, f model.MessageFilter) (*model.MessagePage, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessagePage), args.Error(1)
}

func (m *MockMessageService) Stats(ctx context.Context) (*model.MessageStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageStats), args.Error(1)
}

func (m *MockMessageService) Delete(ctx context.Context, req model.DeleteMessagesRequest) (*model.DeleteResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeleteResult), args.Error(1)
}

type MockDeviceService struct {
	mock.Mock
}

func (m *MockDeviceService) List(ctx context.Context) ([]*model.DeviceView, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DeviceView), args.Error(1)
}

func (m *MockDeviceService) Get(ctx context.Context, deviceID string) (*model.DeviceView, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceView), args.Error(1)
}

func (m *MockDeviceService) Update(ctx context.Context, deviceID string, u model.DeviceUpdate) (*model.DeviceView, error) {
	args := m.Called(ctx, deviceID, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceView), args.Error(1)
}

func (m *MockDeviceService) UpsertMetadata(ctx context.Context, deviceID string, req model.DeviceMetadataRequest) (*model.DeviceView, bool, error) {
	args := m.Called(ctx, deviceID, req)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.DeviceView), args.Bool(1), args.Error(2)
}

func (m *MockDeviceService) Delete(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *MockDeviceService) GetStats(ctx context.Context, deviceID string) (*model.DeviceStatsView, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceStatsView), args.Error(1)
}

type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) Authenticate(ctx context.Context, token string) (*model.Admin, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func (m *MockAdminService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LoginResult), args.Error(1)
}

func (m *MockAdminService) UpdateSettings(ctx context.Context, admin *model.Admin, p model.AdminSettingsPatch) (*model.AdminSettings, error) {
	args := m.Called(ctx, admin, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AdminSettings), args.Error(1)
}

func (m *MockAdminService) ChangePasscode(ctx context.Context, admin *model.Admin, req model.ChangePasscodeRequest) error {
	return m.Called(ctx, admin, req).Error(0)
}

func (m *MockAdminService) ChangePhone(ctx context.Context, admin *model.Admin, req model.ChangePhoneRequest) (*model.Admin, error) {
	args := m.Called(ctx, admin, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Admin), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func testResponder() *Responder {
	return NewResponder(logger.Nop(), false)
}
