package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type AdminRepository struct {
	*pg.DB
}

func NewAdminRepository(db *pg.DB) *AdminRepository {
	return &AdminRepository{
		db,
	}
}

func (r *AdminRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.Read(ctx).Model(&AdminEntity{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "adminRepo.Count")
	}
	return n, nil
}

// Create stores an admin whose PasscodeHash is already hashed. A second admin
// with the same phone number yields ErrDuplicate.
func (r *AdminRepository) Create(ctx context.Context, admin *model.Admin) (*model.Admin, error) {
	entity := toAdminEntity(admin)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		err = translate(err)
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "adminRepo.Create")
	}
	return toAdminModel(entity), nil
}

func (r *AdminRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Admin, error) {
	return r.first(ctx, "adminRepo.FindByID", "id = ?", id)
}

func (r *AdminRepository) FindByPhone(ctx context.Context, phone string) (*model.Admin, error) {
	return r.first(ctx, "adminRepo.FindByPhone", "phone_number = ?", phone)
}

// First returns the oldest admin, which is the deployment's admin.
func (r *AdminRepository) First(ctx context.Context) (*model.Admin, error) {
	var entity AdminEntity
	if err := r.Read(ctx).Order("created_at").Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "adminRepo.First")
	}
	return toAdminModel(&entity), nil
}

func (r *AdminRepository) first(ctx context.Context, op, query string, arg interface{}) (*model.Admin, error) {
	var entity AdminEntity
	if err := r.Read(ctx).Where(query, arg).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, op)
	}
	return toAdminModel(&entity), nil
}

func (r *AdminRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, "adminRepo.TouchLastLogin", id, map[string]interface{}{
		"last_login": at.UTC(),
	})
}

func (r *AdminRepository) UpdateSettings(ctx context.Context, id uuid.UUID, s model.AdminSettings, at time.Time) error {
	return r.update(ctx, "adminRepo.UpdateSettings", id, map[string]interface{}{
		"notifications_enabled": s.NotificationsEnabled,
		"filter_otp_only":       s.FilterOTPOnly,
		"retention_days":        s.RetentionDays,
		"updated_at":            at.UTC(),
	})
}

func (r *AdminRepository) UpdatePasscode(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	return r.update(ctx, "adminRepo.UpdatePasscode", id, map[string]interface{}{
		"passcode":   hash,
		"updated_at": at.UTC(),
	})
}

func (r *AdminRepository) UpdatePhone(ctx context.Context, id uuid.UUID, phone string, at time.Time) error {
	return r.update(ctx, "adminRepo.UpdatePhone", id, map[string]interface{}{
		"phone_number": phone,
		"updated_at":   at.UTC(),
	})
}

func (r *AdminRepository) update(ctx context.Context, op string, id uuid.UUID, cols map[string]interface{}) error {
	res := r.Write(ctx).Model(&AdminEntity{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		err := translate(res.Error)
		if errors.Is(err, ErrDuplicate) {
			return ErrDuplicate
		}
		return errors.Wrap(err, op)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
