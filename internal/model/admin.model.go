package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/classifier"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
)

const DefaultRetentionDays = 30

type AdminSettings struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
	FilterOTPOnly        bool `json:"filterOTPOnly"`
	RetentionDays        int  `json:"retentionDays"`
}

func DefaultAdminSettings() AdminSettings {
	return AdminSettings{NotificationsEnabled: true, RetentionDays: DefaultRetentionDays}
}

// AdminDeviceRef is the denormalized device list kept on the admin record.
// It is not synchronized with the device registry.
type AdminDeviceRef struct {
	DeviceID string       `json:"deviceId"`
	Name     string       `json:"name,omitempty"`
	LastSeen *time.Time   `json:"lastSeen,omitempty"`
	Status   DeviceStatus `json:"status,omitempty"`
}

// Admin never carries the plaintext passcode; PasscodeHash is not serialized.
type Admin struct {
	ID           uuid.UUID        `json:"id"`
	PhoneNumber  string           `json:"phoneNumber"`
	PasscodeHash string           `json:"-"`
	LastLogin    *time.Time       `json:"lastLogin,omitempty"`
	Settings     AdminSettings    `json:"settings"`
	Devices      []AdminDeviceRef `json:"devices"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type AdminSettingsPatch struct {
	NotificationsEnabled *bool `json:"notificationsEnabled,omitempty"`
	FilterOTPOnly        *bool `json:"filterOTPOnly,omitempty"`
	RetentionDays        *int  `json:"retentionDays,omitempty"`
}

func (p AdminSettingsPatch) Validate() error {
	if p.RetentionDays != nil && *p.RetentionDays < 1 {
		return apperror.Validation("Invalid settings",
			apperror.FieldError{Field: "retentionDays", Message: "retentionDays must be at least 1"})
	}
	return nil
}

func (p AdminSettingsPatch) Apply(s AdminSettings) AdminSettings {
	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.FilterOTPOnly != nil {
		s.FilterOTPOnly = *p.FilterOTPOnly
	}
	if p.RetentionDays != nil {
		s.RetentionDays = *p.RetentionDays
	}
	return s
}

type LoginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Passcode    string `json:"passcode"`
}

func (r LoginRequest) Validate() error {
	var missing []apperror.FieldError
	if r.PhoneNumber == "" {
		missing = append(missing, apperror.FieldError{Field: "phoneNumber", Message: "phoneNumber is required"})
	}
	if r.Passcode == "" {
		missing = append(missing, apperror.FieldError{Field: "passcode", Message: "passcode is required"})
	}
	if len(missing) > 0 {
		return apperror.Validation("Missing required fields", missing...)
	}
	return nil
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Admin     *Admin    `json:"admin"`
}

type ChangePasscodeRequest struct {
	CurrentPasscode string `json:"currentPasscode"`
	NewPasscode     string `json:"newPasscode"`
}

func (r ChangePasscodeRequest) Validate() error {
	if r.CurrentPasscode == "" || r.NewPasscode == "" {
		return apperror.Validation("Missing required fields",
			apperror.FieldError{Field: "newPasscode", Message: "currentPasscode and newPasscode are required"})
	}
	return ValidatePasscode(r.NewPasscode)
}

type ChangePhoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

const MinPasscodeLength = 4

func ValidatePasscode(p string) error {
	if len(p) < MinPasscodeLength {
		return apperror.Validation("Passcode too short",
			apperror.FieldError{Field: "passcode", Message: "passcode must be at least 4 characters"})
	}
	return nil
}

// ValidateAdminPhone checks a phone number after sanitizing it.
func ValidateAdminPhone(raw string) (string, error) {
	phone := classifier.SanitizePhoneNumber(raw)
	if !classifier.IsValidPhoneNumber(phone) {
		return "", apperror.Validation("Invalid phone number format",
			apperror.FieldError{Field: "phoneNumber", Message: "phoneNumber must be an E.164 phone number"})
	}
	return phone, nil
}
