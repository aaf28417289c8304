package scheduling

import (
	"context"
	"time"
)

type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id int64) (*Slot, error)
	GetDetail(ctx context.Context, id int64) (*SlotDetail, error)
	ListByDoctor(ctx context.Context, doctorID int64, onlyAvailable bool) ([]*Slot, error)
	// UpdateTimes and Delete only touch unbooked slots and report whether a
	// row was affected. Delete fails with Conflict while any appointment,
	// cancelled ones included, still references the slot.
	UpdateTimes(ctx context.Context, id int64, start, end time.Time) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// MarkBooked flips is_booked from false to true and reports whether it
	// won the flip.
	MarkBooked(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	GetView(ctx context.Context, id int64) (*AppointmentView, error)
	// Transition moves the appointment to status `to` only if its current
	// status is one of `from`, and reports whether it did.
	Transition(ctx context.Context, id int64, from []string, to string) (bool, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*AppointmentView, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]*AppointmentView, error)
}
