package services

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newDeviceService() (*MockDeviceRepository, *DeviceService) {
	repo := new(MockDeviceRepository)
	return repo, NewDeviceService(repo, logger.Nop()).WithClock(clock)
}

func device(id string, lastSeen time.Time, status model.DeviceStatus) *model.Device {
	return &model.Device{DeviceID: id, LastSeen: lastSeen, Status: status, Settings: model.DefaultDeviceSettings()}
}

func TestDeviceService_ListAnnotatesPresence(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	repo.On("List", ctx).Return([]*model.Device{
		device("a", testNow.Add(-4*time.Minute), model.DeviceStatusActive),
		device("b", testNow.Add(-6*time.Minute), model.DeviceStatusActive),
	}, nil)

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].IsOnline)
	assert.False(t, views[1].IsOnline)
}

func TestDeviceService_GetNotFound(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	repo.On("Get", ctx, "ghost").Return(nil, repository.ErrNotFound)

	_, err := svc.Get(ctx, "ghost")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestDeviceService_UpdateValidatesFilters(t *testing.T) {
	_, svc := newDeviceService()
	bad := []model.CustomFilter{{Pattern: "([", Action: model.FilterActionForward}}

	_, err := svc.Update(context.Background(), "a", model.DeviceUpdate{
		Settings: &model.DeviceSettingsPatch{CustomFilters: &bad},
	})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDeviceService_Update(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	off := false
	u := model.DeviceUpdate{Settings: &model.DeviceSettingsPatch{Enabled: &off}}

	updated := device("a", testNow, model.DeviceStatusActive)
	updated.Settings.Enabled = false
	repo.On("Update", ctx, "a", u, testNow).Return(updated, nil)

	view, err := svc.Update(ctx, "a", u)
	require.NoError(t, err)
	assert.False(t, view.Settings.Enabled)
	assert.True(t, view.IsOnline)
}

func TestDeviceService_UpsertMetadata(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	v := "14"
	req := model.DeviceMetadataRequest{Metadata: model.DeviceMetadataPatch{AndroidVersion: &v}}
	repo.On("UpsertMetadata", ctx, "a", req.Metadata, testNow).Return(device("a", testNow, model.DeviceStatusActive), true, nil)

	_, created, err := svc.UpsertMetadata(ctx, "a", req)
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = svc.UpsertMetadata(ctx, "  ", req)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDeviceService_GetStats(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	d := device("a", testNow.Add(-2*time.Minute), model.DeviceStatusActive)
	d.Stats.MessagesReceived = 7
	repo.On("Get", ctx, "a").Return(d, nil)

	st, err := svc.GetStats(ctx, "a")
	require.NoError(t, err)
	assert.True(t, st.IsOnline)
	assert.Equal(t, int64(7), st.MessagesReceived)
	assert.Equal(t, (2 * time.Minute).Milliseconds(), st.Uptime)
}

func TestDeviceService_Sweep(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	repo.On("List", ctx).Return([]*model.Device{
		device("fresh", testNow.Add(-time.Hour), model.DeviceStatusActive),
		device("stale", testNow.Add(-25*time.Hour), model.DeviceStatusActive),
		device("banned", testNow.Add(-48*time.Hour), model.DeviceStatusSuspended),
	}, nil)
	repo.On("SetStatus", ctx, []string{"stale"}, model.DeviceStatusInactive, testNow).Return(int64(1), nil)

	ids, err := svc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)
	repo.AssertExpectations(t)
}

func TestDeviceService_Delete(t *testing.T) {
	repo, svc := newDeviceService()
	ctx := context.Background()
	repo.On("Delete", ctx, "a").Return(nil)
	repo.On("Delete", ctx, "ghost").Return(repository.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "a"))
	assert.True(t, apperror.Is(svc.Delete(ctx, "ghost"), apperror.CodeNotFound))
	repo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
