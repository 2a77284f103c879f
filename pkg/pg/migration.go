package pg

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration in dir. goose talks to the
// database through lib/pq, separately from the gorm pool.
func Migrate(dsn string, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "pg.Migrate")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return errors.Wrap(err, "pg.Migrate: open")
	}
	defer db.Close()

	if err = goose.Up(db, dir); err != nil {
		return errors.Wrap(err, "pg.Migrate: up")
	}
	return nil
}

func MigrationStatus(dsn string, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "pg.MigrationStatus")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return errors.Wrap(err, "pg.MigrationStatus: open")
	}
	defer db.Close()
	return goose.Status(db, dir)
}
