package llm

import (
	"fmt"
	"strings"
)

type triageRule struct {
	keywords   []string
	condition  string
	specialist string
}

// Order matters: the first rule with a matching keyword wins.
var triageRules = []triageRule{
	{[]string{"chest pain", "palpitation", "heart", "blood pressure"}, "Possible cardiovascular issue", "Cardiology"},
	{[]string{"breath", "wheez", "asthma", "cough"}, "Possible respiratory condition", "Pulmonology"},
	{[]string{"migraine", "headache", "dizz", "seizure", "numb"}, "Possible neurological condition", "Neurology"},
	{[]string{"rash", "itch", "acne", "skin", "eczema"}, "Possible skin condition", "Dermatology"},
	{[]string{"stomach", "abdominal", "nausea", "vomit", "diarrh", "constipat", "acidity"}, "Possible digestive issue", "Gastroenterology"},
	{[]string{"joint", "back pain", "knee", "fracture", "sprain"}, "Possible musculoskeletal issue", "Orthopedics"},
	{[]string{"anxiety", "depress", "insomnia", "panic"}, "Possible mental health concern", "Psychiatry"},
	{[]string{"earache", "ear pain", "sinus", "throat", "tonsil"}, "Possible ear, nose or throat condition", "ENT"},
	{[]string{"vision", "eye", "blurr"}, "Possible eye condition", "Ophthalmology"},
	{[]string{"period", "pregnan", "menstrua"}, "Possible gynecological concern", "Gynecology"},
}

// KeywordTriage maps free-text symptoms to a specialist without a model.
func KeywordTriage(symptoms, severity string) Triage {
	s := strings.ToLower(symptoms)
	t := Triage{
		Condition:             "General symptoms",
		Explanation:           "Your symptoms do not point to a specific specialty. A general physician can assess you and refer you if needed.",
		RecommendedSpecialist: "General",
	}
	for _, r := range triageRules {
		if kw, ok := matchAny(s, r.keywords); ok {
			t.Condition = r.condition
			t.RecommendedSpecialist = r.specialist
			t.Explanation = fmt.Sprintf("You mentioned %q, which is usually assessed by a %s specialist.", kw, r.specialist)
			break
		}
	}
	if strings.EqualFold(strings.TrimSpace(severity), "severe") {
		t.Explanation += " Because your symptoms are severe, seek urgent care if they worsen."
	}
	return t
}

// SpecialistFor returns the specialist for a condition name using the same
// keyword table.
func SpecialistFor(condition string) string {
	return KeywordTriage(condition, "").RecommendedSpecialist
}

func matchAny(s string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return kw, true
		}
	}
	return "", false
}

// ReviewMedicines performs a rule-based prescription review used when no
// model is available.
func ReviewMedicines(in PrescriptionInput) Validation {
	v := Validation{Warnings: []string{}}
	meds := in.Summary.Medicines
	if len(meds) == 0 {
		v.Warnings = append(v.Warnings, "No medicines could be read from this prescription.")
	}

	seen := make(map[string]bool, len(meds))
	for _, m := range meds {
		key := strings.ToLower(strings.TrimSpace(m.Name))
		if seen[key] {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s is listed more than once.", m.Name))
		}
		seen[key] = true
		if strings.TrimSpace(m.Dosage) == "" {
			v.Warnings = append(v.Warnings, fmt.Sprintf("No dosage found for %s.", m.Name))
		}
		if strings.TrimSpace(m.Frequency) == "" {
			v.Warnings = append(v.Warnings, fmt.Sprintf("No frequency found for %s.", m.Name))
		}
	}

	v.IsSafe = len(v.Warnings) == 0
	if v.IsSafe {
		v.PatientAdvice = "Take your medicines exactly as prescribed and contact your doctor if you notice side effects."
	} else {
		v.PatientAdvice = "Some details of this prescription are unclear. Confirm the dosage and timing with your doctor or pharmacist before taking it."
	}
	v.RecommendedSpecialist = SpecialistFor(in.Summary.Condition)
	return v
}
