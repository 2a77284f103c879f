package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMessage(sender, content, deviceID string, ts time.Time) *model.Message {
	return &model.Message{
		Sender:    sender,
		Content:   content,
		DeviceID:  deviceID,
		Timestamp: ts,
		Status:    model.MessageStatusReceived,
	}
}

func strPtr(s string) *string { return &s }

func TestMessageRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	created, err := repo.Create(ctx, newMessage("+15551234567", "hello", "dev-1", baseTime))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, model.MessageStatusReceived, created.Status)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.True(t, baseTime.Equal(got.Timestamp))
}

func TestMessageRepository_GetNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_ListPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		_, err := repo.Create(ctx, newMessage("+15551234567", fmt.Sprintf("msg %d", i), "dev-1", baseTime.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	f := model.MessageFilter{Page: 1, Limit: 50}
	items, total, err := repo.List(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(101), total)
	assert.Len(t, items, 50)
	assert.Equal(t, "msg 100", items[0].Content)
	assert.Equal(t, 3, model.TotalPages(total, f.Limit))

	items, _, err = repo.List(ctx, model.MessageFilter{Page: 3, Limit: 50})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "msg 0", items[0].Content)
}

func TestMessageRepository_ListFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	_, err := repo.Create(ctx, newMessage("+15550001111", "Your OTP is 123456", "dev-1", baseTime))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newMessage("+15550002222", "lunch at noon?", "dev-2", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newMessage("+44700009999", "Verification pending", "dev-2", baseTime.Add(2*time.Hour)))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter model.MessageFilter
		want   []string
	}{
		{
			name:   "by device",
			filter: model.MessageFilter{DeviceID: strPtr("dev-2")},
			want:   []string{"Verification pending", "lunch at noon?"},
		},
		{
			name:   "sender substring",
			filter: model.MessageFilter{Sender: strPtr("5550001")},
			want:   []string{"Your OTP is 123456"},
		},
		{
			name:   "sender wildcard is literal",
			filter: model.MessageFilter{Sender: strPtr("%")},
			want:   []string{},
		},
		{
			name:   "otp only",
			filter: model.MessageFilter{OTPOnly: true},
			want:   []string{"Verification pending", "Your OTP is 123456"},
		},
		{
			name: "inclusive date range",
			filter: model.MessageFilter{
				StartDate: timePtr(baseTime.Add(time.Hour)),
				EndDate:   timePtr(baseTime.Add(2 * time.Hour)),
			},
			want: []string{"Verification pending", "lunch at noon?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			require.NoError(t, f.Normalize())
			items, total, err := repo.List(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), total)
			got := make([]string, 0, len(items))
			for _, m := range items {
				got = append(got, m.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessageRepository_Stats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &model.MessageStats{}, stats)

	_, err = repo.Create(ctx, newMessage("+15550001111", "code 4321", "dev-1", baseTime))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newMessage("+15550001111", "hi", "dev-2", baseTime))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newMessage("+15550002222", "hey", "dev-2", baseTime))
	require.NoError(t, err)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.UniqueDevices)
	assert.Equal(t, int64(2), stats.UniqueSenders)
	assert.Equal(t, int64(1), stats.OTPCount)
}

func TestMessageRepository_DeleteByIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	a, err := repo.Create(ctx, newMessage("+15550001111", "a", "dev-1", baseTime))
	require.NoError(t, err)
	b, err := repo.Create(ctx, newMessage("+15550001111", "b", "dev-1", baseTime))
	require.NoError(t, err)

	n, err := repo.DeleteByIDs(ctx, []uuid.UUID{a.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, total, err := repo.List(ctx, model.MessageFilter{Page: 1, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, b.ID, items[0].ID)

	n, err = repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMessageRepository_DeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	_, err := repo.Create(ctx, newMessage("+15550001111", "old", "dev-1", baseTime.Add(-40*24*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newMessage("+15550001111", "new", "dev-1", baseTime))
	require.NoError(t, err)

	n, err := repo.DeleteOlderThan(ctx, baseTime.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestMessageRepository_MarkStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	m, err := repo.Create(ctx, newMessage("+15550001111", "a", "dev-1", baseTime))
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, m.ID, "relay down", baseTime))
	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "relay down", *got.Error)

	require.NoError(t, repo.MarkForwarded(ctx, m.ID, baseTime.Add(time.Second)))
	got, err = repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusForwarded, got.Status)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.ForwardedAt)

	assert.ErrorIs(t, repo.MarkForwarded(ctx, uuid.New(), baseTime), ErrNotFound)
}

func timePtr(t time.Time) *time.Time { return &t }
