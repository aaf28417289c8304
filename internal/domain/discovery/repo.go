package discovery

import "context"

// Directory reads the doctor directory and writes the recommendation log.
type Directory interface {
	// Search returns doctors whose city contains city and, when specialist is
	// not empty, whose specialization contains specialist. Both matches are
	// case-insensitive. Results are ordered by rating, highest first.
	Search(ctx context.Context, city, specialist string) ([]*DoctorCard, error)
	GetProfile(ctx context.Context, doctorID int64) (*DoctorProfile, error)
	LogRecommendation(ctx context.Context, rec *Recommendation) error
}
