package identity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meditrust/meditrust/internal/platform/auth"
)

const DefaultSpecialization = "General"

type User struct {
	ID             int64     `json:"user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	City           string    `json:"city"`
	Pincode        string    `json:"pincode"`
	LocationSource string    `json:"-"`
	CreatedAt      time.Time `json:"-"`
}

func (u *User) IsDoctor() bool { return u.Role == auth.RoleDoctor }

func (u *User) Principal() *auth.Principal {
	return &auth.Principal{
		UserID: u.ID,
		Role:   u.Role,
		Name:   u.Name,
		Email:  u.Email,
		Phone:  u.Phone,
		City:   u.City,
	}
}

// Doctor is the 1:1 extension row of a doctor user.
type Doctor struct {
	DoctorID        int64            `json:"doctor_id"`
	Specialization  string           `json:"specialization"`
	YearsExperience int              `json:"years_experience"`
	Rating          float64          `json:"rating"`
	Bio             string           `json:"bio"`
	ClinicAddress   string           `json:"clinic_address"`
	Languages       []string         `json:"languages"`
	ConsultationFee *decimal.Decimal `json:"consultation_fee"`
	Verified        bool             `json:"verified"`
}

// Account is the signed-in user with the doctor row when there is one.
type Account struct {
	*User
	Doctor *Doctor `json:"doctor,omitempty"`
}

type Allergy struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type MedicalProfile struct {
	UserID      int64     `json:"user_id"`
	DateOfBirth string    `json:"date_of_birth"`
	Gender      string    `json:"gender"`
	BloodGroup  string    `json:"blood_group"`
	HeightCM    *float64  `json:"height_cm"`
	WeightKG    *float64  `json:"weight_kg"`
	IsSmoker    bool      `json:"is_smoker"`
	AlcoholUse  string    `json:"alcohol_use"`
	Allergies   []Allergy `json:"allergies"`
	Conditions  []string  `json:"conditions"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// -- Requests --

type SignupRequest struct {
	Name            string           `json:"name" validate:"required,max=100"`
	Email           string           `json:"email" validate:"required,email,max=150"`
	Password        string           `json:"password" validate:"required,max=72"`
	Role            string           `json:"role" validate:"required,oneof=patient doctor"`
	Phone           string           `json:"phone" validate:"omitempty,max=20"`
	City            string           `json:"city" validate:"omitempty,max=100"`
	Pincode         string           `json:"pincode" validate:"omitempty,max=10"`
	LocationSource  string           `json:"location_source" validate:"omitempty,oneof=user_input ip browser map"`
	Specialization  string           `json:"specialization" validate:"omitempty,max=100"`
	YearsExperience int              `json:"years_experience" validate:"gte=0"`
	Bio             string           `json:"bio"`
	ClinicAddress   string           `json:"clinic_address"`
	Languages       []string         `json:"languages" validate:"omitempty,dive,required,max=50"`
	ConsultationFee *decimal.Decimal `json:"consultation_fee"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// AllergyInput accepts either a catalog id or a free-text name.
type AllergyInput struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"max=100"`
}

type MedicalProfileRequest struct {
	DateOfBirth string         `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Gender      string         `json:"gender" validate:"required,max=16"`
	BloodGroup  string         `json:"blood_group" validate:"required,max=4"`
	HeightCM    *float64       `json:"height_cm" validate:"omitempty,gt=0,lt=300"`
	WeightKG    *float64       `json:"weight_kg" validate:"omitempty,gt=0,lt=500"`
	IsSmoker    bool           `json:"is_smoker"`
	AlcoholUse  string         `json:"alcohol_use" validate:"omitempty,max=16"`
	Allergies   []AllergyInput `json:"allergies" validate:"dive"`
	Conditions  []string       `json:"conditions" validate:"dive,max=255"`
}
