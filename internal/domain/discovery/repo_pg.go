package discovery

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

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (r *directoryPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// contains builds an ILIKE pattern matching s anywhere.
func contains(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}

func parseFee(fee *string) (*decimal.Decimal, error) {
	if fee == nil {
		return nil, nil
	}
	v, err := decimal.NewFromString(*fee)
	if err != nil {
		return nil, fmt.Errorf("parse consultation fee %q: %w", *fee, err)
	}
	return &v, nil
}

func (r *directoryPG) Search(ctx context.Context, city, specialist string) ([]*DoctorCard, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.doctor_id, u.user_id, u.name, u.email, COALESCE(u.phone, ''), COALESCE(u.city, ''),
			d.specialization, d.rating, d.years_experience, COALESCE(d.clinic_address, ''),
			d.consultation_fee::text, d.languages
		FROM doctors d
		JOIN users u ON u.user_id = d.doctor_id
		WHERE COALESCE(u.city, '') ILIKE $1
		  AND ($2 = '' OR d.specialization ILIKE $3)
		ORDER BY d.rating DESC, d.doctor_id`,
		contains(city), strings.TrimSpace(specialist), contains(specialist))
	if err != nil {
		return nil, fmt.Errorf("search doctors: %w", err)
	}
	defer rows.Close()

	cards := []*DoctorCard{}
	for rows.Next() {
		var c DoctorCard
		var fee *string
		if err := rows.Scan(&c.DoctorID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.City,
			&c.Specialization, &c.Rating, &c.Experience, &c.ClinicAddress, &fee, &c.Languages); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		if c.ConsultationFee, err = parseFee(fee); err != nil {
			return nil, err
		}
		if c.Languages == nil {
			c.Languages = []string{}
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

func (r *directoryPG) GetProfile(ctx context.Context, doctorID int64) (*DoctorProfile, error) {
	var p DoctorProfile
	var fee *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.doctor_id, d.specialization, d.years_experience, d.rating, COALESCE(d.bio, ''),
			COALESCE(d.clinic_address, ''), d.languages, d.consultation_fee::text, d.verified,
			u.name, u.email, COALESCE(u.phone, ''), COALESCE(u.city, '')
		FROM doctors d
		JOIN users u ON u.user_id = d.doctor_id
		WHERE d.doctor_id = $1`, doctorID,
	).Scan(&p.DoctorID, &p.Specialization, &p.YearsExperience, &p.Rating, &p.Bio,
		&p.ClinicAddress, &p.Languages, &fee, &p.Verified,
		&p.Name, &p.Email, &p.Phone, &p.City)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor profile %d: %w", doctorID, err)
	}
	if p.ConsultationFee, err = parseFee(fee); err != nil {
		return nil, err
	}
	if p.Languages == nil {
		p.Languages = []string{}
	}
	return &p, nil
}

func (r *directoryPG) LogRecommendation(ctx context.Context, rec *Recommendation) error {
	if rec.Doctors == nil {
		rec.Doctors = []RecommendedDoctor{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_recommendations (user_id, user_condition, city, recommended_doctors)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		RETURNING rec_id, created_at`,
		rec.UserID, rec.Condition, rec.City, rec.Doctors,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("log recommendation: %w", err)
	}
	return nil
}
