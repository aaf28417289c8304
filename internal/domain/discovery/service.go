package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meditrust/meditrust/internal/domain/scheduling"
	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/llm"
)

// SlotLister lists a doctor's slots. *scheduling.Service satisfies it.
type SlotLister interface {
	ListDoctorSlots(ctx context.Context, doctorID int64, onlyAvailable bool) ([]*scheduling.Slot, error)
}

type Service struct {
	dir        Directory
	slots      SlotLister
	llm        llm.Client
	llmTimeout time.Duration
	logger     zerolog.Logger
}

func NewService(dir Directory, slots SlotLister, client llm.Client, llmTimeout time.Duration, logger zerolog.Logger) *Service {
	if client == nil {
		client = llm.Noop{}
	}
	return &Service{
		dir:        dir,
		slots:      slots,
		llm:        client,
		llmTimeout: llmTimeout,
		logger:     logger,
	}
}

// Recommend lists doctors in a city, optionally filtered by specialization,
// and logs the query with its results. The caller's stored city is used when
// the query names none.
func (s *Service) Recommend(ctx context.Context, caller *auth.Principal, q RecommendQuery) ([]*DoctorCard, error) {
	city := strings.TrimSpace(q.City)
	if city == "" {
		city = caller.City
	}
	filter := strings.TrimSpace(q.Specialist)
	if filter == "" {
		filter = strings.TrimSpace(q.Condition)
	}
	return s.recommend(ctx, caller.UserID, city, filter, filter)
}

// FromSymptoms recommends doctors for a triage result. Without a specialist
// the condition is mapped through the keyword table. When nobody matches the
// specialist, every doctor in the city is returned instead.
func (s *Service) FromSymptoms(ctx context.Context, caller *auth.Principal, req *FromSymptomsRequest) ([]*DoctorCard, error) {
	city := strings.TrimSpace(req.City)
	if city == "" {
		city = caller.City
	}
	specialist := strings.TrimSpace(req.RecommendedSpecialist)
	if specialist == "" && strings.TrimSpace(req.Condition) != "" {
		specialist = llm.SpecialistFor(req.Condition)
	}
	if strings.EqualFold(specialist, "General") {
		specialist = ""
	}

	condition := strings.TrimSpace(req.Condition)
	if condition == "" {
		condition = specialist
	}

	docs, err := s.dir.Search(ctx, city, specialist)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 && specialist != "" {
		if docs, err = s.dir.Search(ctx, city, ""); err != nil {
			return nil, err
		}
	}
	if err := s.log(ctx, caller.UserID, condition, city, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) recommend(ctx context.Context, userID int64, city, filter, condition string) ([]*DoctorCard, error) {
	docs, err := s.dir.Search(ctx, city, filter)
	if err != nil {
		return nil, err
	}
	if err := s.log(ctx, userID, condition, city, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) log(ctx context.Context, userID int64, condition, city string, docs []*DoctorCard) error {
	return s.dir.LogRecommendation(ctx, &Recommendation{
		UserID:    userID,
		Condition: condition,
		City:      city,
		Doctors:   snapshot(docs),
	})
}

// Profile returns a doctor with all of their slots.
func (s *Service) Profile(ctx context.Context, doctorID int64) (*DoctorProfile, error) {
	p, err := s.dir.GetProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if p.Slots, err = s.slots.ListDoctorSlots(ctx, doctorID, false); err != nil {
		return nil, err
	}
	return p, nil
}

// AnalyzeSymptoms asks the model for a triage and falls back to keyword
// matching when the model is missing or fails.
func (s *Service) AnalyzeSymptoms(ctx context.Context, req *SymptomsRequest) (*llm.Triage, error) {
	symptoms := strings.TrimSpace(req.Symptoms)
	if symptoms == "" {
		return nil, apperr.Validation("symptoms required")
	}

	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}
	t, err := s.llm.AnalyzeSymptoms(ctx, symptoms, req.Severity)
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			s.logger.Warn().Err(err).Msg("symptom analysis failed, using keyword triage")
		}
		fallback := llm.KeywordTriage(symptoms, req.Severity)
		return &fallback, nil
	}
	if t.RecommendedSpecialist == "" {
		t.RecommendedSpecialist = llm.SpecialistFor(t.Condition)
	}
	return t, nil
}
