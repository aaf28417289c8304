package scheduling

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/meditrust/meditrust/internal/platform/apperr"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	DefaultSlotDuration = 30
	maxSlotDuration     = 24 * 60
)

// Slot maps to the doctor_slots table.
type Slot struct {
	ID       int64     `json:"slot_id"`
	DoctorID int64     `json:"doctor_id"`
	Start    time.Time `json:"slot_start"`
	End      time.Time `json:"slot_end"`
	IsBooked bool      `json:"is_booked"`
}

// SlotDetail is a slot with its doctor's display fields.
type SlotDetail struct {
	Slot
	DoctorName           string `json:"doctor_name"`
	DoctorSpecialization string `json:"doctor_specialization"`
	ClinicAddress        string `json:"clinic_address"`
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID        int64     `json:"appointment_id"`
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	SlotID    int64     `json:"slot_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether no further transition is allowed.
func (a *Appointment) Terminal() bool {
	return a.Status == StatusCancelled || a.Status == StatusCompleted
}

// AppointmentView joins an appointment with its slot and both parties.
type AppointmentView struct {
	Appointment
	SlotStart      time.Time `json:"slot_start"`
	SlotEnd        time.Time `json:"slot_end"`
	DoctorName     string    `json:"doctor_name"`
	Specialization string    `json:"specialization"`
	ClinicAddress  string    `json:"clinic_address"`
	PatientName    string    `json:"patient_name"`
	PatientEmail   string    `json:"patient_email"`
	PatientPhone   string    `json:"patient_phone"`
}

// -- Requests --

// SlotRequest accepts either absolute bounds (slot_start with slot_end or
// duration) or a calendar date, a time of day and a duration in minutes.
type SlotRequest struct {
	SlotStart string      `json:"slot_start"`
	SlotEnd   string      `json:"slot_end"`
	Date      string      `json:"date"`
	StartTime string      `json:"startTime"`
	Duration  json.Number `json:"duration"`
}

type BookRequest struct {
	SlotID int64 `json:"slot_id" validate:"required,gt=0"`
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseISO parses an ISO-8601 timestamp. Values without an offset are UTC.
func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseTimeOfDay(date, clock string) (time.Time, bool) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, date+" "+clock); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (r *SlotRequest) duration() (time.Duration, error) {
	raw := strings.TrimSpace(r.Duration.String())
	if raw == "" {
		return DefaultSlotDuration * time.Minute, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 || minutes > maxSlotDuration {
		return 0, apperr.Validation("duration must be between 1 and %d minutes", maxSlotDuration)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Window resolves the request to a start and end time.
func (r *SlotRequest) Window() (start, end time.Time, err error) {
	invalid := apperr.Validation("Invalid datetime format. Use ISO format.")

	switch {
	case r.SlotStart != "":
		var ok bool
		if start, ok = parseISO(r.SlotStart); !ok {
			return start, end, invalid
		}
		if r.SlotEnd != "" {
			if end, ok = parseISO(r.SlotEnd); !ok {
				return start, end, invalid
			}
		} else if r.Duration.String() != "" {
			d, err := r.duration()
			if err != nil {
				return start, end, err
			}
			end = start.Add(d)
		} else {
			return start, end, apperr.Validation("slot_start and slot_end required")
		}
	case r.Date != "" || r.StartTime != "":
		if r.Date == "" || r.StartTime == "" {
			return start, end, apperr.Validation("date and startTime required")
		}
		var ok bool
		if start, ok = parseTimeOfDay(r.Date, r.StartTime); !ok {
			return start, end, invalid
		}
		d, err := r.duration()
		if err != nil {
			return start, end, err
		}
		end = start.Add(d)
	default:
		return start, end, apperr.Validation("slot_start and slot_end required")
	}

	if !end.After(start) {
		return start, end, apperr.Validation("slot_end must be after slot_start")
	}
	return start, end, nil
}
