package identity

import (
	"context"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id int64) (*Doctor, error)
}

type ProfileRepository interface {
	Upsert(ctx context.Context, p *MedicalProfile) error
	Get(ctx context.Context, userID int64) (*MedicalProfile, error)
	ListAllergies(ctx context.Context) ([]Allergy, error)
	// ResolveAllergies returns catalog rows for the given ids and names,
	// adding unknown names to the catalog.
	ResolveAllergies(ctx context.Context, ids []int64, names []string) ([]Allergy, error)
	ReplaceAllergies(ctx context.Context, userID int64, allergyIDs []int64) error
	ReplaceConditions(ctx context.Context, userID int64, conditions []string) error
}
