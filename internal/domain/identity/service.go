package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
)

// TxRunner runs fn atomically. *db.Transactor satisfies it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	users    UserRepository
	doctors  DoctorRepository
	profiles ProfileRepository
	tx       TxRunner
	tokens   *auth.TokenIssuer
	now      func() time.Time
}

func NewService(users UserRepository, doctors DoctorRepository, profiles ProfileRepository, tx TxRunner, tokens *auth.TokenIssuer) *Service {
	return &Service{
		users:    users,
		doctors:  doctors,
		profiles: profiles,
		tx:       tx,
		tokens:   tokens,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// -- Accounts --

// Signup creates a user and, for doctors, the doctor row in one transaction.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*User, error) {
	if req.ConsultationFee != nil && req.ConsultationFee.IsNegative() {
		return nil, apperr.Validation("consultation_fee must not be negative")
	}
	email := normalizeEmail(req.Email)

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperr.Validation("Email already registered")
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	u := &User{
		Name:           strings.TrimSpace(req.Name),
		Email:          email,
		Phone:          strings.TrimSpace(req.Phone),
		PasswordHash:   hash,
		Role:           req.Role,
		City:           strings.TrimSpace(req.City),
		Pincode:        strings.TrimSpace(req.Pincode),
		LocationSource: req.LocationSource,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if !u.IsDoctor() {
			return nil
		}
		spec := strings.TrimSpace(req.Specialization)
		if spec == "" {
			spec = DefaultSpecialization
		}
		return s.doctors.Create(ctx, &Doctor{
			DoctorID:        u.ID,
			Specialization:  spec,
			YearsExperience: req.YearsExperience,
			Bio:             req.Bio,
			ClinicAddress:   req.ClinicAddress,
			Languages:       req.Languages,
			ConsultationFee: req.ConsultationFee,
		})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks the credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Auth("Invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.Password)
	if err != nil {
		return nil, apperr.Internal("check password", err)
	}
	if !ok {
		return nil, apperr.Auth("Invalid credentials")
	}
	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &LoginResponse{Token: token, User: u}, nil
}

// Me returns the account of userID, including the doctor row for doctors.
func (s *Service) Me(ctx context.Context, userID int64) (*Account, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	acct := &Account{User: u}
	if u.IsDoctor() {
		d, err := s.doctors.GetByID(ctx, userID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		acct.Doctor = d
	}
	return acct, nil
}

// PrincipalByID implements auth.UserLookup.
func (s *Service) PrincipalByID(ctx context.Context, userID int64) (*auth.Principal, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Principal(), nil
}

// -- Medical profile --

func (s *Service) ListAllergies(ctx context.Context) ([]Allergy, error) {
	return s.profiles.ListAllergies(ctx)
}

func (s *Service) GetMedicalProfile(ctx context.Context, userID int64) (*MedicalProfile, error) {
	return s.profiles.Get(ctx, userID)
}

// SaveMedicalProfile upserts the profile and replaces the declared allergies
// and conditions.
func (s *Service) SaveMedicalProfile(ctx context.Context, userID int64, req *MedicalProfileRequest) (*MedicalProfile, error) {
	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		return nil, apperr.Validation("date_of_birth must match 2006-01-02")
	}
	if dob.After(s.now()) {
		return nil, apperr.Validation("date_of_birth must not be in the future")
	}

	ids, names := splitAllergies(req.Allergies)
	conditions := cleanList(req.Conditions)

	p := &MedicalProfile{
		UserID:      userID,
		DateOfBirth: req.DateOfBirth,
		Gender:      strings.TrimSpace(req.Gender),
		BloodGroup:  strings.ToUpper(strings.TrimSpace(req.BloodGroup)),
		HeightCM:    req.HeightCM,
		WeightKG:    req.WeightKG,
		IsSmoker:    req.IsSmoker,
		AlcoholUse:  strings.TrimSpace(req.AlcoholUse),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.profiles.Upsert(ctx, p); err != nil {
			return err
		}
		var allergyIDs []int64
		if len(ids) > 0 || len(names) > 0 {
			resolved, err := s.profiles.ResolveAllergies(ctx, ids, names)
			if err != nil {
				return err
			}
			for _, a := range resolved {
				allergyIDs = append(allergyIDs, a.ID)
			}
		}
		if err := s.profiles.ReplaceAllergies(ctx, userID, allergyIDs); err != nil {
			return err
		}
		return s.profiles.ReplaceConditions(ctx, userID, conditions)
	})
	if err != nil {
		return nil, err
	}
	return s.profiles.Get(ctx, userID)
}

// splitAllergies separates catalog references from free-text names. An entry
// with an id is matched by id only.
func splitAllergies(in []AllergyInput) ([]int64, []string) {
	var ids []int64
	var names []string
	for _, a := range in {
		if a.ID > 0 {
			ids = append(ids, a.ID)
			continue
		}
		names = append(names, a.Name)
	}
	return ids, cleanList(names)
}

// cleanList trims entries and drops blanks and case-insensitive duplicates.
func cleanList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
