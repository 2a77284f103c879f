package repository

import (
	"testing"

	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// setupTestDB opens a private in-memory sqlite database with the schema
// migrated. One connection keeps every query on the same database.
func setupTestDB(t *testing.T) *testDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(&MessageEntity{}, &DeviceEntity{}, &AdminEntity{})
	require.NoError(t, err)

	return &testDB{
		DB:    pg.New(db, db),
		rawDB: db,
	}
}
