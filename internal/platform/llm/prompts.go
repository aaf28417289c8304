package llm

import (
	"fmt"
	"strings"
)

const summarizePrompt = `You are reading a medical %s uploaded by a patient.
Transcribe all legible text, then summarize it for the patient in plain language.
Respond with a single JSON object and nothing else:
{"ocr_text": string, "medicines": [{"name": string, "dosage": string, "frequency": string, "duration": string}], "condition": string, "explanation": string}
Use empty strings for anything you cannot read. Do not invent medicines.`

const symptomsPrompt = `A patient describes their symptoms as: %q
Reported severity: %s.
Suggest the most likely condition and the medical specialist they should see.
Respond with a single JSON object and nothing else:
{"condition": string, "explanation": string, "recommended_specialist": string}
The specialist must be a short specialty name such as "General", "Cardiology", "Dermatology".
If symptoms sound like an emergency, say so in the explanation.`

const validatePrompt = `Review this prescription for patient safety.
Transcribed text:
%s

Medicines:
%s
Check for missing dosages or frequencies, duplicate drugs and common interactions.
Respond with a single JSON object and nothing else:
{"is_safe": boolean, "warnings": [string], "patient_advice": string, "recommended_specialist": string}`

func buildSummarizePrompt(uploadType string) string {
	if uploadType == "" {
		uploadType = "prescription"
	}
	return fmt.Sprintf(summarizePrompt, uploadType)
}

func buildSymptomsPrompt(symptoms, severity string) string {
	if severity == "" {
		severity = "unspecified"
	}
	return fmt.Sprintf(symptomsPrompt, symptoms, severity)
}

func buildValidatePrompt(in PrescriptionInput) string {
	var b strings.Builder
	for _, m := range in.Summary.Medicines {
		fmt.Fprintf(&b, "- %s | dosage: %s | frequency: %s | duration: %s\n", m.Name, m.Dosage, m.Frequency, m.Duration)
	}
	if b.Len() == 0 {
		b.WriteString("(none listed)\n")
	}
	text := in.OCRText
	if text == "" {
		text = "(not available)"
	}
	return fmt.Sprintf(validatePrompt, text, b.String())
}
