package documents

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/meditrust/meditrust/internal/platform/llm"
)

const (
	TypePrescription = "prescription"
	TypeReport       = "report"
)

const (
	ProviderGemini = "gemini"
	ProviderLocal  = "local"
)

// Entity types extracted from a summary.
const (
	EntityDrug      = "DRUG"
	EntityDosage    = "DOSAGE"
	EntityFrequency = "FREQUENCY"
	EntityDuration  = "DURATION"
	EntityCondition = "CONDITION"
)

const SourceLLM = "llm"

const placeholderCondition = "Processing"

// Upload maps to the uploads table. FilePath holds the blob key.
type Upload struct {
	ID              int64     `json:"upload_id"`
	UserID          int64     `json:"user_id"`
	FilePath        string    `json:"-"`
	OriginalName    string    `json:"original_name"`
	ContentType     string    `json:"content_type"`
	UploadType      string    `json:"upload_type"`
	ConsentCloudOCR bool      `json:"consent_cloud_ocr"`
	OCRText         string    `json:"-"`
	OCRProvider     string    `json:"ocr_provider,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SummaryRecord maps to the summaries table.
type SummaryRecord struct {
	UploadID  int64
	Text      string
	Model     string
	UpdatedAt time.Time
}

// Entity maps to the medical_entities table.
type Entity struct {
	ID              int64     `json:"entity_id"`
	UploadID        int64     `json:"upload_id"`
	Type            string    `json:"type"`
	Text            string    `json:"text"`
	NormalizedValue string    `json:"normalized_value,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// placeholderSummary is stored at upload time until a summary replaces it.
func placeholderSummary() string {
	b, _ := json.Marshal(llm.Summary{
		Medicines:   []llm.Medicine{},
		Condition:   placeholderCondition,
		Explanation: "Your file has been uploaded and will be processed shortly.",
	})
	return string(b)
}

// summaryText renders a model summary for storage. OCR text is kept on the
// upload row, not in the summary shown to users.
func summaryText(s *llm.Summary) (string, error) {
	out := *s
	out.OCRText = ""
	if out.Medicines == nil {
		out.Medicines = []llm.Medicine{}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

// entitiesFrom flattens a summary into medical entity rows.
func entitiesFrom(uploadID int64, s *llm.Summary) []Entity {
	var out []Entity
	add := func(typ, text, normalized string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		out = append(out, Entity{
			UploadID:        uploadID,
			Type:            typ,
			Text:            truncate(text, 255),
			NormalizedValue: truncate(normalized, 255),
			Source:          SourceLLM,
		})
	}
	for _, m := range s.Medicines {
		add(EntityDrug, m.Name, strings.ToLower(strings.TrimSpace(m.Name)))
		add(EntityDosage, m.Dosage, "")
		add(EntityFrequency, m.Frequency, "")
		add(EntityDuration, m.Duration, "")
	}
	if !strings.EqualFold(strings.TrimSpace(s.Condition), placeholderCondition) {
		add(EntityCondition, s.Condition, "")
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// -- Requests --

type UploadForm struct {
	UploadType string `form:"upload_type" validate:"omitempty,oneof=prescription report"`
	Consent    bool   `form:"consent_cloud_ocr"`
}
