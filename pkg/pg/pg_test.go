package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	Model
	Name string
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	g, err := gorm.Open(sqlite.Open(":memory:"), GormConfig())
	require.NoError(t, err)
	sqlDB, err := g.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, g.AutoMigrate(&widget{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(g, g)
}

func TestWithinTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			return db.Write(ctx).Create(&widget{Name: "a"}).Error
		})
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Read(ctx).Model(&widget{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := db.Write(ctx).Create(&widget{Name: "b"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var count int64
		require.NoError(t, db.Read(ctx).Model(&widget{}).Where("name = ?", "b").Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("nested joins outer transaction", func(t *testing.T) {
		err := db.WithinTransaction(ctx, func(outer context.Context) error {
			return db.WithinTransaction(outer, func(inner context.Context) error {
				assert.Same(t, db.Write(outer), db.Write(inner))
				return nil
			})
		})
		require.NoError(t, err)
	})
}

func TestModelGeneratesID(t *testing.T) {
	db := openTestDB(t)
	w := &widget{Name: "c"}
	require.NoError(t, db.Write(context.Background()).Create(w).Error)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", w.ID.String())
	assert.NoError(t, db.Ping(context.Background()))
}
