// Command cli runs one off maintenance tasks:
//
//	cli migrate [--dir=./migrations]
//	cli status [--dir=./migrations]
//	cli sweep [--after=24h]
//	cli purge [--days=N]
//	cli create-admin --phone=+15551234567 --passcode=secret
//
// Every command accepts --env=path to seed the environment from a file.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/auth"
	"github.com/nimasrn/sms-forwarder/internal/config"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/internal/services"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/pkg/errors"
)

const defaultMigrationDir = "./migrations"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Must("development", "error").Fatal(err)
	}
	l := logger.Must(cfg.AppEnv, cfg.LogLevel)
	defer l.Sync()

	if err := run(context.Background(), os.Args[1], os.Args[2:], cfg, l); err != nil {
		l.Fatal(err, "command", os.Args[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cli <migrate|status|sweep|purge|create-admin> [--env=path] [flags]")
}

func run(ctx context.Context, cmd string, args []string, cfg *config.Config, l logger.Logger) error {
	switch cmd {
	case "migrate":
		return pg.Migrate(cfg.DatabaseURL, migrationDir(args))
	case "status":
		return pg.MigrationStatus(cfg.DatabaseURL, migrationDir(args))
	}

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite())
	if err != nil {
		return err
	}
	defer db.Close()

	deviceRepo := repository.NewDeviceRepository(db)
	adminService := services.NewAdminService(repository.NewAdminRepository(db), auth.NewTokenIssuer(cfg.JwtSecret, cfg.JwtExpiration), cfg.BcryptSaltRounds, l)

	switch cmd {
	case "sweep":
		after := cfg.SweepInactiveAfter
		if v := config.FlagValue(args, "after"); v != "" {
			if after, err = time.ParseDuration(v); err != nil {
				return errors.Wrap(err, "--after")
			}
		}
		ids, err := services.NewDeviceService(deviceRepo, l).Sweep(ctx, after)
		if err != nil {
			return err
		}
		l.Info("sweep finished", "inactive", len(ids), "devices", ids)
		return nil

	case "purge":
		days, err := retentionDays(ctx, args, adminService)
		if err != nil {
			return err
		}
		messages := services.NewMessageService(repository.NewMessageRepository(db), deviceRepo, db, l)
		n, err := messages.Purge(ctx, days)
		if err != nil {
			return err
		}
		l.Info("purge finished", "retention_days", days, "deleted", n)
		return nil

	case "create-admin":
		phone := config.FlagValue(args, "phone")
		passcode := config.FlagValue(args, "passcode")
		if phone == "" || passcode == "" {
			return errors.New("create-admin requires --phone and --passcode")
		}
		a, err := adminService.Create(ctx, phone, passcode)
		if err != nil {
			return err
		}
		l.Info("admin created", "id", a.ID, "phone", a.PhoneNumber)
		return nil
	}

	usage()
	return errors.Errorf("unknown command %q", cmd)
}

func migrationDir(args []string) string {
	if d := config.FlagValue(args, "dir"); d != "" {
		return d
	}
	return defaultMigrationDir
}

// retentionDays prefers --days, then the admin's retention setting.
func retentionDays(ctx context.Context, args []string, admins *services.AdminService) (int, error) {
	if v := config.FlagValue(args, "days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return 0, errors.Wrap(err, "--days")
		}
		return days, nil
	}
	a, err := admins.Current(ctx)
	if err != nil {
		return 0, err
	}
	return a.Settings.RetentionDays, nil
}
