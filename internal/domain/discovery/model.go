package discovery

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meditrust/meditrust/internal/domain/identity"
	"github.com/meditrust/meditrust/internal/domain/scheduling"
)

// DoctorCard is one recommendation result.
type DoctorCard struct {
	DoctorID        int64            `json:"doctor_id"`
	UserID          int64            `json:"user_id"`
	Name            string           `json:"name"`
	Email           string           `json:"email"`
	Phone           string           `json:"phone"`
	City            string           `json:"city"`
	Specialization  string           `json:"specialization"`
	Rating          float64          `json:"rating"`
	Experience      int              `json:"experience"`
	ClinicAddress   string           `json:"clinicAddress"`
	ConsultationFee *decimal.Decimal `json:"consultationFee"`
	Languages       []string         `json:"languages"`
}

// DoctorProfile is the public profile page of a doctor with every slot.
type DoctorProfile struct {
	identity.Doctor
	Name  string             `json:"name"`
	Email string             `json:"email"`
	Phone string             `json:"phone"`
	City  string             `json:"city"`
	Slots []*scheduling.Slot `json:"slots"`
}

// Recommendation is a row of doctor_recommendations.
type Recommendation struct {
	ID        int64
	UserID    int64
	Condition string
	City      string
	Doctors   []RecommendedDoctor
	CreatedAt time.Time
}

// RecommendedDoctor is the snapshot of a result kept in the log.
type RecommendedDoctor struct {
	DoctorID       int64   `json:"doctor_id"`
	Name           string  `json:"name"`
	Specialization string  `json:"specialization"`
	Rating         float64 `json:"rating"`
}

func snapshot(cards []*DoctorCard) []RecommendedDoctor {
	out := make([]RecommendedDoctor, 0, len(cards))
	for _, c := range cards {
		out = append(out, RecommendedDoctor{
			DoctorID:       c.DoctorID,
			Name:           c.Name,
			Specialization: c.Specialization,
			Rating:         c.Rating,
		})
	}
	return out
}

// -- Requests --

// RecommendQuery carries the /recommend query string. Condition and
// Specialist are aliases for the specialization filter.
type RecommendQuery struct {
	City       string `query:"city"`
	Condition  string `query:"condition"`
	Specialist string `query:"specialist"`
}

type SymptomsRequest struct {
	Symptoms string `json:"symptoms" validate:"required"`
	Severity string `json:"severity"`
}

type FromSymptomsRequest struct {
	Condition             string `json:"condition"`
	RecommendedSpecialist string `json:"recommended_specialist"`
	City                  string `json:"city"`
}
