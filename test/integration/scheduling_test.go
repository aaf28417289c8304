//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meditrust/meditrust/internal/domain/scheduling"
	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/db"
)

func TestMigrations_AllApplied(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, findMigrationsDir())

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("second Up applied %d migrations, want 0", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("no migrations found")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %03d_%s not applied", s.Version, s.Name)
		}
	}
}

func TestBooking_ConcurrentPatientsSingleWinner(t *testing.T) {
	ctx := context.Background()
	env := newSchedulingEnv(t)
	doctor := createUser(t, ctx, auth.RoleDoctor, "Pune")
	slot := env.openSlot(t, ctx, doctor)

	const racers = 12
	patients := make([]*auth.Principal, racers)
	for i := range patients {
		patients[i] = createUser(t, ctx, auth.RolePatient, "Pune")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*scheduling.AppointmentView
		losers  int
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(p *auth.Principal) {
			defer wg.Done()
			<-start
			v, err := env.svc.Book(ctx, p, slot.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, v)
			case apperr.KindOf(err) == apperr.KindNotAvailable:
				losers++
			default:
				t.Errorf("unexpected booking error: %v", err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}
	if losers != racers-1 {
		t.Errorf("losers = %d, want %d", losers, racers-1)
	}

	var live int
	err := globalPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE slot_id = $1 AND status IN ('pending', 'confirmed')`,
		slot.ID).Scan(&live)
	if err != nil {
		t.Fatal(err)
	}
	if live != 1 {
		t.Errorf("live appointments for slot = %d, want 1", live)
	}

	got, err := env.slots.GetByID(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsBooked {
		t.Error("slot should be booked")
	}
}

func TestAppointment_LifecycleReleasesSlot(t *testing.T) {
	ctx := context.Background()
	env := newSchedulingEnv(t)
	doctor := createUser(t, ctx, auth.RoleDoctor, "Delhi")
	patient := createUser(t, ctx, auth.RolePatient, "Delhi")
	slot := env.openSlot(t, ctx, doctor)

	v, err := env.svc.Book(ctx, patient, slot.ID)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if v.Status != scheduling.StatusPending {
		t.Errorf("status = %s, want pending", v.Status)
	}

	v, err = env.svc.Accept(ctx, doctor, v.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if v.Status != scheduling.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", v.Status)
	}

	if _, err := env.svc.Cancel(ctx, patient, v.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := env.slots.GetByID(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsBooked {
		t.Error("cancel should release the slot")
	}

	// the released slot can be booked again by someone else
	other := createUser(t, ctx, auth.RolePatient, "Delhi")
	if _, err := env.svc.Book(ctx, other, slot.ID); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}

	if _, err := env.svc.Cancel(ctx, patient, v.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("second cancel err = %v, want conflict", err)
	}
}

func TestAppointment_NotificationsRecorded(t *testing.T) {
	ctx := context.Background()
	env := newSchedulingEnv(t)
	doctor := createUser(t, ctx, auth.RoleDoctor, "Chennai")
	patient := createUser(t, ctx, auth.RolePatient, "Chennai")
	slot := env.openSlot(t, ctx, doctor)

	v, err := env.svc.Book(ctx, patient, slot.ID)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := env.svc.Accept(ctx, doctor, v.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		docNotes, _, err := env.notifications.ListForUser(ctx, doctor.UserID, 10, 0)
		if err != nil {
			t.Fatal(err)
		}
		patNotes, _, err := env.notifications.ListForUser(ctx, patient.UserID, 10, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(docNotes) == 1 && len(patNotes) == 1 &&
			docNotes[0].Status == "sent" && patNotes[0].Status == "sent" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notifications not delivered: doctor=%d patient=%d", len(docNotes), len(patNotes))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestBooking_RollbackKeepsSlotOpen(t *testing.T) {
	ctx := context.Background()
	env := newSchedulingEnv(t)
	doctor := createUser(t, ctx, auth.RoleDoctor, "Goa")
	patient := createUser(t, ctx, auth.RolePatient, "Goa")
	slot := env.openSlot(t, ctx, doctor)

	boom := errors.New("abort")
	err := db.NewTransactor(globalPool).WithinTx(ctx, func(ctx context.Context) error {
		if _, err := env.svc.Book(ctx, patient, slot.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	got, err := env.slots.GetByID(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsBooked {
		t.Error("rolled back booking must leave the slot open")
	}
	var n int
	if err := globalPool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE slot_id = $1`, slot.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("appointments after rollback = %d, want 0", n)
	}
}

func TestDeleteSlot_CancelledHistoryBlocksDelete(t *testing.T) {
	ctx := context.Background()
	env := newSchedulingEnv(t)
	doctor := createUser(t, ctx, auth.RoleDoctor, "Jaipur")
	patient := createUser(t, ctx, auth.RolePatient, "Jaipur")
	slot := env.openSlot(t, ctx, doctor)

	v, err := env.svc.Book(ctx, patient, slot.ID)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, patient, v.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := env.svc.DeleteSlot(ctx, doctor, slot.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("DeleteSlot err = %v, want conflict", err)
	}
	mine, err := env.svc.ListForPatient(ctx, patient.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Status != scheduling.StatusCancelled {
		t.Errorf("patient history = %+v, want the cancelled appointment", mine)
	}

	fresh := env.openSlot(t, ctx, doctor)
	if err := env.svc.DeleteSlot(ctx, doctor, fresh.ID); err != nil {
		t.Errorf("deleting an unreferenced slot: %v", err)
	}
}
