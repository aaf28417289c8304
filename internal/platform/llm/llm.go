// Package llm wraps the generative model used for prescription OCR,
// summarization, symptom triage and prescription review.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned by clients that have no model behind them.
var ErrUnavailable = errors.New("llm: no model configured")

// Document is a stored upload handed to the model.
type Document struct {
	Data        []byte
	ContentType string
	UploadType  string // prescription or report
}

type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// Summary is the structured result of reading a document. OCRText is kept
// apart from the summary JSON shown to users.
type Summary struct {
	Medicines   []Medicine `json:"medicines"`
	Condition   string     `json:"condition"`
	Explanation string     `json:"explanation"`
	OCRText     string     `json:"ocr_text,omitempty"`
}

type Triage struct {
	Condition             string `json:"condition"`
	Explanation           string `json:"explanation"`
	RecommendedSpecialist string `json:"recommended_specialist"`
}

// PrescriptionInput is what a prescription review sees.
type PrescriptionInput struct {
	OCRText string
	Summary Summary
}

type Validation struct {
	IsSafe                bool     `json:"is_safe"`
	Warnings              []string `json:"warnings"`
	PatientAdvice         string   `json:"patient_advice"`
	RecommendedSpecialist string   `json:"recommended_specialist"`
}

// Client is the model surface the rest of the service depends on.
type Client interface {
	Model() string
	Summarize(ctx context.Context, doc Document) (*Summary, error)
	AnalyzeSymptoms(ctx context.Context, symptoms, severity string) (*Triage, error)
	ValidatePrescription(ctx context.Context, in PrescriptionInput) (*Validation, error)
}

// Noop is the client used when no API key is configured.
type Noop struct{}

func (Noop) Model() string { return "" }

func (Noop) Summarize(context.Context, Document) (*Summary, error) {
	return nil, ErrUnavailable
}

func (Noop) AnalyzeSymptoms(context.Context, string, string) (*Triage, error) {
	return nil, ErrUnavailable
}

func (Noop) ValidatePrescription(context.Context, PrescriptionInput) (*Validation, error) {
	return nil, ErrUnavailable
}

// decodeJSON extracts the first JSON object from model output, tolerating
// markdown fences and surrounding prose.
func decodeJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return fmt.Errorf("llm: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

func (s *Summary) normalize() {
	if s.Medicines == nil {
		s.Medicines = []Medicine{}
	}
	kept := s.Medicines[:0]
	for _, m := range s.Medicines {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		m.Duration = strings.TrimSpace(m.Duration)
		kept = append(kept, m)
	}
	s.Medicines = kept
	s.Condition = strings.TrimSpace(s.Condition)
	s.Explanation = strings.TrimSpace(s.Explanation)
}
