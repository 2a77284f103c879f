package model

import (
	"regexp"
	"strconv"
	"time"

	"github.com/nimasrn/sms-forwarder/internal/classifier"
	"github.com/nimasrn/sms-forwarder/internal/presence"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
)

type DeviceStatus string

const (
	DeviceStatusActive    DeviceStatus = "active"
	DeviceStatusInactive  DeviceStatus = "inactive"
	DeviceStatusSuspended DeviceStatus = "suspended"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusInactive, DeviceStatusSuspended:
		return true
	}
	return false
}

type FilterAction string

const (
	FilterActionForward FilterAction = "forward"
	FilterActionIgnore  FilterAction = "ignore"
)

type DeviceMetadata struct {
	AndroidVersion string `json:"androidVersion,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	Model          string `json:"model,omitempty"`
	AppVersion     string `json:"appVersion,omitempty"`
}

// DeviceMetadataPatch carries only the fields a device reported; nil fields
// leave the stored value alone.
type DeviceMetadataPatch struct {
	AndroidVersion *string `json:"androidVersion,omitempty"`
	Manufacturer   *string `json:"manufacturer,omitempty"`
	Model          *string `json:"model,omitempty"`
	AppVersion     *string `json:"appVersion,omitempty"`
}

func (p DeviceMetadataPatch) Apply(m DeviceMetadata) DeviceMetadata {
	if p.AndroidVersion != nil {
		m.AndroidVersion = *p.AndroidVersion
	}
	if p.Manufacturer != nil {
		m.Manufacturer = *p.Manufacturer
	}
	if p.Model != nil {
		m.Model = *p.Model
	}
	if p.AppVersion != nil {
		m.AppVersion = *p.AppVersion
	}
	return m
}

type DeviceStats struct {
	MessagesReceived  int64      `json:"messagesReceived"`
	MessagesForwarded int64      `json:"messagesForwarded"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
}

type CustomFilter struct {
	Pattern string       `json:"pattern"`
	Action  FilterAction `json:"action"`
}

type DeviceSettings struct {
	Enabled       bool           `json:"enabled"`
	FilterOTPOnly bool           `json:"filterOTPOnly"`
	CustomFilters []CustomFilter `json:"customFilters"`
}

func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{Enabled: true, CustomFilters: []CustomFilter{}}
}

// ShouldForward decides whether content received on this device is relayed.
// Disabled devices never forward, FilterOTPOnly drops non OTP content, then
// the first custom filter whose pattern matches picks the action. With no
// match the message is forwarded. reason is empty when forwarding.
func (s DeviceSettings) ShouldForward(content string) (forward bool, reason string) {
	if !s.Enabled {
		return false, "device forwarding disabled"
	}
	if s.FilterOTPOnly && !classifier.IsOTPMessage(content) {
		return false, "not an otp message"
	}
	for _, f := range s.CustomFilters {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(content) {
			if f.Action == FilterActionIgnore {
				return false, "ignored by filter " + f.Pattern
			}
			return true, ""
		}
	}
	return true, ""
}

// DeviceSettingsPatch is a shallow merge: CustomFilters, when present,
// replaces the whole list.
type DeviceSettingsPatch struct {
	Enabled       *bool           `json:"enabled,omitempty"`
	FilterOTPOnly *bool           `json:"filterOTPOnly,omitempty"`
	CustomFilters *[]CustomFilter `json:"customFilters,omitempty"`
}

func (p DeviceSettingsPatch) Validate() error {
	if p.CustomFilters == nil {
		return nil
	}
	var problems []apperror.FieldError
	for i, f := range *p.CustomFilters {
		if f.Action != FilterActionForward && f.Action != FilterActionIgnore {
			problems = append(problems, apperror.FieldError{
				Field:   fieldIndex("settings.customFilters", i, "action"),
				Message: "action must be forward or ignore",
			})
		}
		if f.Pattern == "" {
			problems = append(problems, apperror.FieldError{
				Field:   fieldIndex("settings.customFilters", i, "pattern"),
				Message: "pattern is required",
			})
		} else if _, err := regexp.Compile(f.Pattern); err != nil {
			problems = append(problems, apperror.FieldError{
				Field:   fieldIndex("settings.customFilters", i, "pattern"),
				Message: "invalid regular expression: " + err.Error(),
			})
		}
	}
	if len(problems) > 0 {
		return apperror.Validation("Invalid device settings", problems...)
	}
	return nil
}

func (p DeviceSettingsPatch) Apply(s DeviceSettings) DeviceSettings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.FilterOTPOnly != nil {
		s.FilterOTPOnly = *p.FilterOTPOnly
	}
	if p.CustomFilters != nil {
		s.CustomFilters = append([]CustomFilter{}, *p.CustomFilters...)
	}
	return s
}

type Device struct {
	DeviceID  string         `json:"deviceId"`
	Name      string         `json:"name,omitempty"`
	LastSeen  time.Time      `json:"lastSeen"`
	Status    DeviceStatus   `json:"status"`
	Metadata  DeviceMetadata `json:"metadata"`
	Stats     DeviceStats    `json:"stats"`
	Settings  DeviceSettings `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (d *Device) GetLastSeen() time.Time { return d.LastSeen }
func (d *Device) IsActive() bool         { return d.Status == DeviceStatusActive }

var _ presence.Device = (*Device)(nil)

// DeviceUpdate is the admin PATCH body.
type DeviceUpdate struct {
	Name     *string              `json:"name,omitempty"`
	Status   *DeviceStatus        `json:"status,omitempty"`
	Settings *DeviceSettingsPatch `json:"settings,omitempty"`
}

func (u DeviceUpdate) Validate() error {
	if u.Name == nil && u.Status == nil && u.Settings == nil {
		return apperror.Validation("Nothing to update", apperror.FieldError{Field: "settings", Message: "settings is required"})
	}
	if u.Status != nil && !u.Status.Valid() {
		return apperror.Validation("Invalid device status",
			apperror.FieldError{Field: "status", Message: "status must be active, inactive or suspended"})
	}
	if u.Settings != nil {
		return u.Settings.Validate()
	}
	return nil
}

type DeviceMetadataRequest struct {
	Metadata DeviceMetadataPatch `json:"metadata"`
}

type DeviceView struct {
	Device
	IsOnline bool `json:"isOnline"`
}

func NewDeviceView(d *Device, now time.Time) *DeviceView {
	return &DeviceView{Device: *d, IsOnline: presence.IsOnline(d.LastSeen, now)}
}

// DeviceStatsView reports uptime in milliseconds.
type DeviceStatsView struct {
	DeviceStats
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
	Uptime   int64     `json:"uptime"`
}

func NewDeviceStatsView(d *Device, now time.Time) *DeviceStatsView {
	return &DeviceStatsView{
		DeviceStats: d.Stats,
		IsOnline:    presence.IsOnline(d.LastSeen, now),
		LastSeen:    d.LastSeen,
		Uptime:      presence.Uptime(d.LastSeen, now).Milliseconds(),
	}
}

func fieldIndex(prefix string, i int, field string) string {
	return prefix + "[" + strconv.Itoa(i) + "]." + field
}
