package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/internal/repository"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type AdminRepository interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, admin *model.Admin) (*model.Admin, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Admin, error)
	FindByPhone(ctx context.Context, phone string) (*model.Admin, error)
	First(ctx context.Context) (*model.Admin, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateSettings(ctx context.Context, id uuid.UUID, s model.AdminSettings, at time.Time) error
	UpdatePasscode(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	UpdatePhone(ctx context.Context, id uuid.UUID, phone string, at time.Time) error
}

type TokenIssuer interface {
	Issue(adminID uuid.UUID) (string, time.Time, error)
	Parse(token string) (uuid.UUID, error)
}

type AdminService struct {
	adminRepo  AdminRepository
	tokens     TokenIssuer
	bcryptCost int
	log        logger.Logger
	now        func() time.Time
}

func NewAdminService(adminRepo AdminRepository, tokens TokenIssuer, bcryptCost int, l logger.Logger) *AdminService {
	return &AdminService{
		adminRepo:  adminRepo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		log:        l,
		now:        time.Now,
	}
}

func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	return s
}

func (s *AdminService) hash(passcode string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(passcode), s.bcryptCost)
	if err != nil {
		return "", apperror.Internal(errors.Wrap(err, "adminService.hash"))
	}
	return string(h), nil
}

// Create is the only path that persists a passcode; it is hashed here.
func (s *AdminService) Create(ctx context.Context, phone, passcode string) (*model.Admin, error) {
	phone, err := model.ValidateAdminPhone(phone)
	if err != nil {
		return nil, err
	}
	if err := model.ValidatePasscode(passcode); err != nil {
		return nil, err
	}

	if _, err := s.adminRepo.FindByPhone(ctx, phone); err == nil {
		return nil, apperror.Conflict("phoneNumber", phone)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeError(err, "Admin not found")
	}

	h, err := s.hash(passcode)
	if err != nil {
		return nil, err
	}
	admin, err := s.adminRepo.Create(ctx, &model.Admin{
		PhoneNumber:  phone,
		PasscodeHash: h,
		Settings:     model.DefaultAdminSettings(),
		Devices:      []model.AdminDeviceRef{},
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperror.Conflict("phoneNumber", phone)
	}
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	return admin, nil
}

// InitializeDefault creates the admin from configured credentials when no
// admin exists yet. It returns nil when one already does.
func (s *AdminService) InitializeDefault(ctx context.Context, phone, passcode string) (*model.Admin, error) {
	n, err := s.adminRepo.Count(ctx)
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	if n > 0 {
		return nil, nil
	}
	admin, err := s.Create(ctx, phone, passcode)
	if err != nil {
		return nil, err
	}
	s.log.Info("default admin created", "phoneNumber", admin.PhoneNumber)
	return admin, nil
}

// VerifyPasscode compares plaintext against the stored hash.
func (s *AdminService) VerifyPasscode(admin *model.Admin, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(admin.PasscodeHash), []byte(plaintext)) == nil
}

func (s *AdminService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	invalid := apperror.Unauthenticated("Invalid phone number or passcode")

	phone, err := model.ValidateAdminPhone(req.PhoneNumber)
	if err != nil {
		return nil, invalid
	}
	admin, err := s.adminRepo.FindByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	if !s.VerifyPasscode(admin, req.Passcode) {
		return nil, invalid
	}

	token, exp, err := s.tokens.Issue(admin.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	now := s.now()
	if err := s.adminRepo.TouchLastLogin(ctx, admin.ID, now); err != nil {
		return nil, storeError(err, "Admin not found")
	}
	admin.LastLogin = &now
	return &model.LoginResult{Token: token, ExpiresAt: exp, Admin: admin}, nil
}

// Authenticate resolves a bearer token to its admin and records the login.
// Rejected tokens never touch lastLogin.
func (s *AdminService) Authenticate(ctx context.Context, token string) (*model.Admin, error) {
	if token == "" {
		return nil, apperror.Unauthenticated("Access token required")
	}
	id, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeUnauthenticated, "Invalid or expired token", err)
	}
	admin, err := s.adminRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Unauthenticated("Admin no longer exists")
	}
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	now := s.now()
	if err := s.adminRepo.TouchLastLogin(ctx, admin.ID, now); err != nil {
		return nil, storeError(err, "Admin not found")
	}
	admin.LastLogin = &now
	return admin, nil
}

// Current returns the deployment admin. purge reads its retention setting.
func (s *AdminService) Current(ctx context.Context) (*model.Admin, error) {
	admin, err := s.adminRepo.First(ctx)
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	return admin, nil
}

func (s *AdminService) UpdateSettings(ctx context.Context, admin *model.Admin, p model.AdminSettingsPatch) (*model.AdminSettings, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	merged := p.Apply(admin.Settings)
	if err := s.adminRepo.UpdateSettings(ctx, admin.ID, merged, s.now()); err != nil {
		return nil, storeError(err, "Admin not found")
	}
	admin.Settings = merged
	return &merged, nil
}

func (s *AdminService) ChangePasscode(ctx context.Context, admin *model.Admin, req model.ChangePasscodeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !s.VerifyPasscode(admin, req.CurrentPasscode) {
		return apperror.Unauthenticated("Current passcode is incorrect")
	}
	h, err := s.hash(req.NewPasscode)
	if err != nil {
		return err
	}
	if err := s.adminRepo.UpdatePasscode(ctx, admin.ID, h, s.now()); err != nil {
		return storeError(err, "Admin not found")
	}
	admin.PasscodeHash = h
	return nil
}

func (s *AdminService) ChangePhone(ctx context.Context, admin *model.Admin, req model.ChangePhoneRequest) (*model.Admin, error) {
	phone, err := model.ValidateAdminPhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if phone == admin.PhoneNumber {
		return admin, nil
	}
	if other, err := s.adminRepo.FindByPhone(ctx, phone); err == nil && other.ID != admin.ID {
		return nil, apperror.Conflict("phoneNumber", phone)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storeError(err, "Admin not found")
	}

	err = s.adminRepo.UpdatePhone(ctx, admin.ID, phone, s.now())
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperror.Conflict("phoneNumber", phone)
	}
	if err != nil {
		return nil, storeError(err, "Admin not found")
	}
	admin.PhoneNumber = phone
	return admin, nil
}
