package repository

import (
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
	"gorm.io/datatypes"
)

type AdminEntity struct {
	pg.Model
	PhoneNumber string     `gorm:"column:phone_number;not null;uniqueIndex"`
	Passcode    string     `gorm:"column:passcode;not null"`
	LastLogin   *time.Time `gorm:"column:last_login"`

	NotificationsEnabled bool `gorm:"column:notifications_enabled;not null"`
	FilterOTPOnly        bool `gorm:"column:filter_otp_only;not null"`
	RetentionDays        int  `gorm:"column:retention_days;not null"`

	Devices datatypes.JSONSlice[model.AdminDeviceRef] `gorm:"column:devices"`
}

func (AdminEntity) TableName() string {
	return "admins"
}

func toAdminEntity(a *model.Admin) *AdminEntity {
	if a == nil {
		return nil
	}
	devices := a.Devices
	if devices == nil {
		devices = []model.AdminDeviceRef{}
	}
	return &AdminEntity{
		Model:                pg.Model{ID: a.ID, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt},
		PhoneNumber:          a.PhoneNumber,
		Passcode:             a.PasscodeHash,
		LastLogin:            utcPtr(a.LastLogin),
		NotificationsEnabled: a.Settings.NotificationsEnabled,
		FilterOTPOnly:        a.Settings.FilterOTPOnly,
		RetentionDays:        a.Settings.RetentionDays,
		Devices:              datatypes.JSONSlice[model.AdminDeviceRef](devices),
	}
}

func toAdminModel(e *AdminEntity) *model.Admin {
	if e == nil {
		return nil
	}
	devices := []model.AdminDeviceRef(e.Devices)
	if devices == nil {
		devices = []model.AdminDeviceRef{}
	}
	return &model.Admin{
		ID:           e.ID,
		PhoneNumber:  e.PhoneNumber,
		PasscodeHash: e.Passcode,
		LastLogin:    e.LastLogin,
		Settings: model.AdminSettings{
			NotificationsEnabled: e.NotificationsEnabled,
			FilterOTPOnly:        e.FilterOTPOnly,
			RetentionDays:        e.RetentionDays,
		},
		Devices:   devices,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
