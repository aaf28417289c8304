package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/db"
)

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const slotCols = `slot_id, doctor_id, slot_start, slot_end, is_booked`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	if err := row.Scan(&s.ID, &s.DoctorID, &s.Start, &s.End, &s.IsBooked); err != nil {
		return nil, err
	}
	s.Start, s.End = s.Start.UTC(), s.End.UTC()
	return &s, nil
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_slots (doctor_id, slot_start, slot_end, is_booked)
		VALUES ($1, $2, $3, FALSE)
		RETURNING slot_id`,
		s.DoctorID, s.Start, s.End,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	s.IsBooked = false
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id int64) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM doctor_slots WHERE slot_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Slot not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %d: %w", id, err)
	}
	return s, nil
}

func (r *slotRepoPG) GetDetail(ctx context.Context, id int64) (*SlotDetail, error) {
	var d SlotDetail
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT s.slot_id, s.doctor_id, s.slot_start, s.slot_end, s.is_booked,
			u.name, d.specialization, COALESCE(d.clinic_address, '')
		FROM doctor_slots s
		JOIN doctors d ON d.doctor_id = s.doctor_id
		JOIN users u ON u.user_id = s.doctor_id
		WHERE s.slot_id = $1`, id,
	).Scan(&d.ID, &d.DoctorID, &d.Start, &d.End, &d.IsBooked,
		&d.DoctorName, &d.DoctorSpecialization, &d.ClinicAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Slot not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get slot detail %d: %w", id, err)
	}
	d.Start, d.End = d.Start.UTC(), d.End.UTC()
	return &d, nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID int64, onlyAvailable bool) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM doctor_slots
		WHERE doctor_id = $1 AND ($2::boolean IS FALSE OR is_booked = FALSE)
		ORDER BY slot_start, slot_id`, doctorID, onlyAvailable)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()
	items := []*Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) UpdateTimes(ctx context.Context, id int64, start, end time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_slots SET slot_start = $2, slot_end = $3
		WHERE slot_id = $1 AND is_booked = FALSE`, id, start, end)
	if err != nil {
		return false, fmt.Errorf("update slot %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// slotHistoryFK keeps slots with appointment history from being deleted.
const slotHistoryFK = "appointments_slot_id_fkey"

func (r *slotRepoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM doctor_slots WHERE slot_id = $1 AND is_booked = FALSE`, id)
	if db.IsForeignKeyViolation(err, slotHistoryFK) {
		return false, apperr.Conflict("Slot has appointment history")
	}
	if err != nil {
		return false, fmt.Errorf("delete slot %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) MarkBooked(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_slots SET is_booked = TRUE
		WHERE slot_id = $1 AND is_booked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("book slot %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE doctor_slots SET is_booked = FALSE WHERE slot_id = $1`, id)
	if err != nil {
		return fmt.Errorf("release slot %d: %w", id, err)
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.ConnFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const liveSlotIndex = "uq_appointments_live_slot"

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = StatusPending
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, slot_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING appointment_id, created_at, updated_at`,
		a.PatientID, a.DoctorID, a.SlotID, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, liveSlotIndex) {
		return apperr.NotAvailable("Slot not available")
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	var a Appointment
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT appointment_id, patient_id, doctor_id, slot_id, status, created_at, updated_at
		FROM appointments WHERE appointment_id = $1`, id,
	).Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Transition(ctx context.Context, id int64, from []string, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE appointment_id = $1 AND status = ANY($2)`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition appointment %d to %s: %w", id, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

const viewSelect = `
	SELECT a.appointment_id, a.patient_id, a.doctor_id, a.slot_id, a.status, a.created_at, a.updated_at,
		s.slot_start, s.slot_end,
		du.name, d.specialization, COALESCE(d.clinic_address, ''),
		pu.name, pu.email, COALESCE(pu.phone, '')
	FROM appointments a
	JOIN doctor_slots s ON s.slot_id = a.slot_id
	JOIN doctors d ON d.doctor_id = a.doctor_id
	JOIN users du ON du.user_id = a.doctor_id
	JOIN users pu ON pu.user_id = a.patient_id`

func scanView(row pgx.Row) (*AppointmentView, error) {
	var v AppointmentView
	err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.SlotID, &v.Status, &v.CreatedAt, &v.UpdatedAt,
		&v.SlotStart, &v.SlotEnd,
		&v.DoctorName, &v.Specialization, &v.ClinicAddress,
		&v.PatientName, &v.PatientEmail, &v.PatientPhone)
	if err != nil {
		return nil, err
	}
	v.SlotStart, v.SlotEnd = v.SlotStart.UTC(), v.SlotEnd.UTC()
	return &v, nil
}

func (r *appointmentRepoPG) GetView(ctx context.Context, id int64) (*AppointmentView, error) {
	v, err := scanView(r.conn(ctx).QueryRow(ctx, viewSelect+` WHERE a.appointment_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment view %d: %w", id, err)
	}
	return v, nil
}

func (r *appointmentRepoPG) list(ctx context.Context, where string, id int64) ([]*AppointmentView, error) {
	rows, err := r.conn(ctx).Query(ctx, viewSelect+` WHERE `+where+` ORDER BY a.created_at DESC, a.appointment_id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	items := []*AppointmentView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*AppointmentView, error) {
	return r.list(ctx, "a.patient_id = $1", patientID)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID int64) ([]*AppointmentView, error) {
	return r.list(ctx, "a.doctor_id = $1", doctorID)
}
