package scheduling

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/db"
	"github.com/meditrust/meditrust/internal/platform/notification"
)

// TxRunner runs fn atomically. *db.Transactor satisfies it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier records a notification inside the current transaction.
type Notifier interface {
	Enqueue(ctx context.Context, req notification.Request) (*notification.Notification, error)
}

// Recorder counts booking outcomes and lifecycle transitions.
type Recorder interface {
	BookingOutcome(outcome string)
	AppointmentTransition(status string)
}

type nopRecorder struct{}

func (nopRecorder) BookingOutcome(string)        {}
func (nopRecorder) AppointmentTransition(string) {}

const (
	outcomeBooked      = "booked"
	outcomeUnavailable = "unavailable"
)

const slotTimeLayout = "2006-01-02 15:04 UTC"

var errSlotUnavailable = apperr.NotAvailable("Slot not available")

type Service struct {
	slots    SlotRepository
	appts    AppointmentRepository
	tx       TxRunner
	notifier Notifier
	metrics  Recorder
	now      func() time.Time
}

func NewService(slots SlotRepository, appts AppointmentRepository, tx TxRunner, notifier Notifier, metrics Recorder) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		slots:    slots,
		appts:    appts,
		tx:       tx,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// -- Slots --

// CreateSlot adds an open slot owned by the calling doctor.
func (s *Service) CreateSlot(ctx context.Context, doctor *auth.Principal, req *SlotRequest) (*Slot, error) {
	if !doctor.IsDoctor() {
		return nil, apperr.Forbidden("Forbidden")
	}
	start, end, err := req.Window()
	if err != nil {
		return nil, err
	}
	slot := &Slot{DoctorID: doctor.UserID, Start: start, End: end}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// ownedOpenSlot loads a slot for mutation. A booked slot is rejected before
// ownership is checked.
func (s *Service) ownedOpenSlot(ctx context.Context, caller *auth.Principal, id int64) (*Slot, error) {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.IsBooked {
		return nil, apperr.Conflict("Slot is booked")
	}
	if slot.DoctorID != caller.UserID {
		return nil, apperr.Forbidden("Forbidden")
	}
	return slot, nil
}

// UpdateSlot changes the times of an unbooked slot owned by the caller.
func (s *Service) UpdateSlot(ctx context.Context, caller *auth.Principal, id int64, req *SlotRequest) (*Slot, error) {
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if slot, err = s.ownedOpenSlot(ctx, caller, id); err != nil {
			return err
		}
		start, end, err := req.Window()
		if err != nil {
			return err
		}
		ok, err := s.slots.UpdateTimes(ctx, id, start, end)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("Slot is booked")
		}
		slot.Start, slot.End = start, end
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// DeleteSlot removes an unbooked slot owned by the caller.
func (s *Service) DeleteSlot(ctx context.Context, caller *auth.Principal, id int64) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.ownedOpenSlot(ctx, caller, id); err != nil {
			return err
		}
		ok, err := s.slots.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("Slot is booked")
		}
		return nil
	})
}

func (s *Service) GetSlot(ctx context.Context, id int64) (*SlotDetail, error) {
	return s.slots.GetDetail(ctx, id)
}

func (s *Service) ListDoctorSlots(ctx context.Context, doctorID int64, onlyAvailable bool) ([]*Slot, error) {
	return s.slots.ListByDoctor(ctx, doctorID, onlyAvailable)
}

// -- Booking --

// Book reserves an open slot for the calling patient. The slot flag is flipped
// with a compare-and-set update so that of two concurrent bookings exactly one
// wins.
func (s *Service) Book(ctx context.Context, patient *auth.Principal, slotID int64) (*AppointmentView, error) {
	if !patient.IsPatient() {
		return nil, apperr.Forbidden("Forbidden")
	}

	var view *AppointmentView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, slotID)
		if errors.Is(err, apperr.ErrNotFound) {
			return errSlotUnavailable
		}
		if err != nil {
			return err
		}
		if slot.IsBooked {
			return errSlotUnavailable
		}
		won, err := s.slots.MarkBooked(ctx, slotID)
		if err != nil {
			return err
		}
		if !won {
			return errSlotUnavailable
		}

		appt := &Appointment{
			PatientID: patient.UserID,
			DoctorID:  slot.DoctorID,
			SlotID:    slot.ID,
			Status:    StatusPending,
		}
		if err := s.appts.Create(ctx, appt); err != nil {
			return err
		}
		if view, err = s.appts.GetView(ctx, appt.ID); err != nil {
			return err
		}
		if err := s.notify(ctx, view.DoctorID, view, notification.TemplateAppointmentBooked, nil); err != nil {
			return err
		}
		db.AfterCommit(ctx, func() { s.metrics.BookingOutcome(outcomeBooked) })
		return nil
	})
	if errors.Is(err, apperr.ErrNotAvailable) {
		s.metrics.BookingOutcome(outcomeUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// -- Lifecycle --

// transition is the shared path for accept, cancel and complete: load, check
// the caller, check the current status, then move with a conditional update.
type transition struct {
	to      string
	from    []string
	allowed func(a *Appointment, caller *auth.Principal) bool
	// conflict is returned when the current status does not permit the move.
	conflict func(a *Appointment) error
	// after runs inside the transaction once the status has moved.
	after func(ctx context.Context, a *Appointment, view *AppointmentView) error
}

func (s *Service) apply(ctx context.Context, caller *auth.Principal, id int64, t transition) (*AppointmentView, error) {
	var view *AppointmentView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !t.allowed(a, caller) {
			return apperr.Forbidden("Forbidden")
		}
		if !statusIn(a.Status, t.from) {
			return t.conflict(a)
		}
		moved, err := s.appts.Transition(ctx, id, t.from, t.to)
		if err != nil {
			return err
		}
		if !moved {
			return apperr.Conflict("Appointment was modified concurrently")
		}
		a.Status = t.to
		if view, err = s.appts.GetView(ctx, id); err != nil {
			return err
		}
		if t.after != nil {
			if err := t.after(ctx, a, view); err != nil {
				return err
			}
		}
		db.AfterCommit(ctx, func() { s.metrics.AppointmentTransition(t.to) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func statusIn(status string, set []string) bool {
	for _, v := range set {
		if v == status {
			return true
		}
	}
	return false
}

func alreadyFinal(a *Appointment) error {
	return apperr.Conflict("Appointment is already " + a.Status)
}

func isAppointmentDoctor(a *Appointment, p *auth.Principal) bool {
	return p.IsDoctor() && a.DoctorID == p.UserID
}

func isParty(a *Appointment, p *auth.Principal) bool {
	switch {
	case p.IsDoctor():
		return a.DoctorID == p.UserID
	case p.IsPatient():
		return a.PatientID == p.UserID
	default:
		return false
	}
}

// Accept confirms an appointment. Only its doctor may accept it.
func (s *Service) Accept(ctx context.Context, doctor *auth.Principal, id int64) (*AppointmentView, error) {
	return s.apply(ctx, doctor, id, transition{
		to:       StatusConfirmed,
		from:     []string{StatusPending, StatusConfirmed},
		allowed:  isAppointmentDoctor,
		conflict: alreadyFinal,
		after: func(ctx context.Context, a *Appointment, v *AppointmentView) error {
			return s.notify(ctx, a.PatientID, v, notification.TemplateAppointmentConfirmed, nil)
		},
	})
}

// Cancel cancels an appointment on behalf of either party and reopens its
// slot in the same transaction.
func (s *Service) Cancel(ctx context.Context, caller *auth.Principal, id int64) (*AppointmentView, error) {
	return s.apply(ctx, caller, id, transition{
		to:       StatusCancelled,
		from:     []string{StatusPending, StatusConfirmed},
		allowed:  isParty,
		conflict: alreadyFinal,
		after: func(ctx context.Context, a *Appointment, v *AppointmentView) error {
			if err := s.slots.Release(ctx, a.SlotID); err != nil {
				return err
			}
			recipient, by := a.DoctorID, v.PatientName
			if caller.IsDoctor() {
				recipient, by = a.PatientID, v.DoctorName
			}
			return s.notify(ctx, recipient, v, notification.TemplateAppointmentCancelled,
				map[string]string{"cancelled_by": by})
		},
	})
}

// Complete marks a confirmed appointment as completed. Only its doctor may
// complete it.
func (s *Service) Complete(ctx context.Context, doctor *auth.Principal, id int64) (*AppointmentView, error) {
	return s.apply(ctx, doctor, id, transition{
		to:      StatusCompleted,
		from:    []string{StatusConfirmed},
		allowed: isAppointmentDoctor,
		conflict: func(a *Appointment) error {
			if a.Terminal() {
				return alreadyFinal(a)
			}
			return apperr.Conflict("Only confirmed appointments can be completed")
		},
		after: func(ctx context.Context, a *Appointment, v *AppointmentView) error {
			return s.notify(ctx, a.PatientID, v, notification.TemplateAppointmentCompleted, nil)
		},
	})
}

func (s *Service) notify(ctx context.Context, userID int64, v *AppointmentView, templateID string, extra map[string]string) error {
	if s.notifier == nil {
		return nil
	}
	id := v.ID
	data := map[string]string{
		"appointment_id": strconv.FormatInt(v.ID, 10),
		"patient_name":   v.PatientName,
		"doctor_name":    v.DoctorName,
		"slot_time":      v.SlotStart.UTC().Format(slotTimeLayout),
	}
	for k, val := range extra {
		data[k] = val
	}
	_, err := s.notifier.Enqueue(ctx, notification.Request{
		UserID:        userID,
		AppointmentID: &id,
		TemplateID:    templateID,
		Data:          data,
	})
	return err
}

// -- Listings --

func (s *Service) ListForPatient(ctx context.Context, patientID int64) ([]*AppointmentView, error) {
	return s.appts.ListByPatient(ctx, patientID)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID int64) ([]*AppointmentView, error) {
	return s.appts.ListByDoctor(ctx, doctorID)
}

// Slip renders the appointment slip PDF for either party.
func (s *Service) Slip(ctx context.Context, caller *auth.Principal, id int64) ([]byte, error) {
	v, err := s.appts.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParty(&v.Appointment, caller) {
		return nil, apperr.Forbidden("Forbidden")
	}
	pdf, err := renderSlip(v, s.now())
	if err != nil {
		return nil, apperr.Internal("render appointment slip", err)
	}
	return pdf, nil
}
