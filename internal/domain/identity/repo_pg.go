package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const userCols = `user_id, name, email, COALESCE(phone, ''), password_hash, role,
	COALESCE(city, ''), COALESCE(pincode, ''), location_source, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role,
		&u.City, &u.Pincode, &u.LocationSource, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.LocationSource == "" {
		u.LocationSource = "user_input"
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role, city, pincode, location_source)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING user_id, created_at`,
		u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.City, u.Pincode, u.LocationSource,
	).Scan(&u.ID, &u.CreatedAt)
	if db.IsUniqueViolation(err, "users_email_key") {
		return apperr.Validation("Email already registered")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE user_id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.Languages == nil {
		d.Languages = []string{}
	}
	var fee *string
	if d.ConsultationFee != nil {
		s := d.ConsultationFee.StringFixed(2)
		fee = &s
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (doctor_id, specialization, years_experience, rating, bio,
			clinic_address, languages, consultation_fee, verified)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8::text::numeric, $9)`,
		d.DoctorID, d.Specialization, d.YearsExperience, d.Rating, d.Bio,
		d.ClinicAddress, d.Languages, fee, d.Verified)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	var fee *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT doctor_id, specialization, years_experience, rating, COALESCE(bio, ''),
			COALESCE(clinic_address, ''), languages, consultation_fee::text, verified
		FROM doctors WHERE doctor_id = $1`, id,
	).Scan(&d.DoctorID, &d.Specialization, &d.YearsExperience, &d.Rating, &d.Bio,
		&d.ClinicAddress, &d.Languages, &fee, &d.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %d: %w", id, err)
	}
	if fee != nil {
		v, err := decimal.NewFromString(*fee)
		if err != nil {
			return nil, fmt.Errorf("parse consultation fee %q: %w", *fee, err)
		}
		d.ConsultationFee = &v
	}
	if d.Languages == nil {
		d.Languages = []string{}
	}
	return &d, nil
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *MedicalProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_profiles (user_id, date_of_birth, gender, blood_group, height_cm,
			weight_kg, is_smoker, alcohol_use, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth, gender = EXCLUDED.gender,
			blood_group = EXCLUDED.blood_group, height_cm = EXCLUDED.height_cm,
			weight_kg = EXCLUDED.weight_kg, is_smoker = EXCLUDED.is_smoker,
			alcohol_use = EXCLUDED.alcohol_use, updated_at = NOW()
		RETURNING updated_at`,
		p.UserID, p.DateOfBirth, p.Gender, p.BloodGroup, p.HeightCM, p.WeightKG,
		p.IsSmoker, p.AlcoholUse,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert medical profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) Get(ctx context.Context, userID int64) (*MedicalProfile, error) {
	p := MedicalProfile{UserID: userID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT to_char(date_of_birth, 'YYYY-MM-DD'), gender, blood_group, height_cm, weight_kg,
			is_smoker, COALESCE(alcohol_use, ''), updated_at
		FROM medical_profiles WHERE user_id = $1`, userID,
	).Scan(&p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.HeightCM, &p.WeightKG,
		&p.IsSmoker, &p.AlcoholUse, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Medical profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get medical profile: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.allergy_id, a.name FROM user_allergies ua
		JOIN allergies a ON a.allergy_id = ua.allergy_id
		WHERE ua.user_id = $1 ORDER BY a.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user allergies: %w", err)
	}
	p.Allergies, err = collectAllergies(rows)
	if err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT condition_name FROM user_conditions WHERE user_id = $1 ORDER BY condition_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user conditions: %w", err)
	}
	p.Conditions, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user conditions: %w", err)
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	return &p, nil
}

func collectAllergies(rows pgx.Rows) ([]Allergy, error) {
	defer rows.Close()
	items := []Allergy{}
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scan allergy: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *profileRepoPG) ListAllergies(ctx context.Context) ([]Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT allergy_id, name FROM allergies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list allergies: %w", err)
	}
	return collectAllergies(rows)
}

func (r *profileRepoPG) ResolveAllergies(ctx context.Context, ids []int64, names []string) ([]Allergy, error) {
	for _, name := range names {
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO allergies (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return nil, fmt.Errorf("add allergy %q: %w", name, err)
		}
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT allergy_id, name FROM allergies
		WHERE allergy_id = ANY($1) OR lower(name) = ANY($2)
		ORDER BY name`, ids, lowered)
	if err != nil {
		return nil, fmt.Errorf("resolve allergies: %w", err)
	}
	return collectAllergies(rows)
}

func (r *profileRepoPG) ReplaceAllergies(ctx context.Context, userID int64, allergyIDs []int64) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_allergies WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear user allergies: %w", err)
	}
	if len(allergyIDs) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_allergies (user_id, allergy_id)
		SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, allergyIDs)
	if err != nil {
		return fmt.Errorf("insert user allergies: %w", err)
	}
	return nil
}

func (r *profileRepoPG) ReplaceConditions(ctx context.Context, userID int64, conditions []string) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM user_conditions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear user conditions: %w", err)
	}
	if len(conditions) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_conditions (user_id, condition_name)
		SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`, userID, conditions)
	if err != nil {
		return fmt.Errorf("insert user conditions: %w", err)
	}
	return nil
}
