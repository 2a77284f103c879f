package repository

import (
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"gorm.io/datatypes"
)

type DeviceEntity struct {
	DeviceID string    `gorm:"primaryKey;column:device_id"`
	Name     string    `gorm:"column:name"`
	LastSeen time.Time `gorm:"column:last_seen;not null;index"`
	Status   string    `gorm:"column:status;not null;size:16;index"`

	AndroidVersion string `gorm:"column:android_version"`
	Manufacturer   string `gorm:"column:manufacturer"`
	Model          string `gorm:"column:model"`
	AppVersion     string `gorm:"column:app_version"`

	MessagesReceived  int64      `gorm:"column:messages_received;not null"`
	MessagesForwarded int64      `gorm:"column:messages_forwarded;not null"`
	LastMessageAt     *time.Time `gorm:"column:last_message_at"`

	Enabled       bool                                    `gorm:"column:settings_enabled;not null"`
	FilterOTPOnly bool                                    `gorm:"column:settings_filter_otp_only;not null"`
	CustomFilters datatypes.JSONSlice[model.CustomFilter] `gorm:"column:settings_custom_filters"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (DeviceEntity) TableName() string {
	return "devices"
}

// newDeviceEntity is the record created the first time a device shows up.
func newDeviceEntity(deviceID string, at time.Time) *DeviceEntity {
	defaults := model.DefaultDeviceSettings()
	return &DeviceEntity{
		DeviceID:      deviceID,
		LastSeen:      at,
		Status:        string(model.DeviceStatusActive),
		Enabled:       defaults.Enabled,
		FilterOTPOnly: defaults.FilterOTPOnly,
		CustomFilters: datatypes.JSONSlice[model.CustomFilter](defaults.CustomFilters),
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func toDeviceModel(e *DeviceEntity) *model.Device {
	if e == nil {
		return nil
	}
	filters := []model.CustomFilter(e.CustomFilters)
	if filters == nil {
		filters = []model.CustomFilter{}
	}
	return &model.Device{
		DeviceID: e.DeviceID,
		Name:     e.Name,
		LastSeen: e.LastSeen,
		Status:   model.DeviceStatus(e.Status),
		Metadata: model.DeviceMetadata{
			AndroidVersion: e.AndroidVersion,
			Manufacturer:   e.Manufacturer,
			Model:          e.Model,
			AppVersion:     e.AppVersion,
		},
		Stats: model.DeviceStats{
			MessagesReceived:  e.MessagesReceived,
			MessagesForwarded: e.MessagesForwarded,
			LastMessageAt:     e.LastMessageAt,
		},
		Settings: model.DeviceSettings{
			Enabled:       e.Enabled,
			FilterOTPOnly: e.FilterOTPOnly,
			CustomFilters: filters,
		},
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toDeviceModels(entities []*DeviceEntity) []*model.Device {
	if entities == nil {
		return nil
	}
	models := make([]*model.Device, len(entities))
	for i, e := range entities {
		models[i] = toDeviceModel(e)
	}
	return models
}

// metadataColumns returns only the columns a patch touches.
func metadataColumns(p model.DeviceMetadataPatch) map[string]interface{} {
	cols := map[string]interface{}{}
	if p.AndroidVersion != nil {
		cols["android_version"] = *p.AndroidVersion
	}
	if p.Manufacturer != nil {
		cols["manufacturer"] = *p.Manufacturer
	}
	if p.Model != nil {
		cols["model"] = *p.Model
	}
	if p.AppVersion != nil {
		cols["app_version"] = *p.AppVersion
	}
	return cols
}

func updateColumns(u model.DeviceUpdate) map[string]interface{} {
	cols := map[string]interface{}{}
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if s := u.Settings; s != nil {
		if s.Enabled != nil {
			cols["settings_enabled"] = *s.Enabled
		}
		if s.FilterOTPOnly != nil {
			cols["settings_filter_otp_only"] = *s.FilterOTPOnly
		}
		if s.CustomFilters != nil {
			cols["settings_custom_filters"] = datatypes.JSONSlice[model.CustomFilter](*s.CustomFilters)
		}
	}
	return cols
}
