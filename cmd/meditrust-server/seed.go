package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/meditrust/meditrust/internal/config"
	"github.com/meditrust/meditrust/internal/domain/identity"
	"github.com/meditrust/meditrust/internal/domain/scheduling"
	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/db"
)

const (
	seedEmail    = "dr.joy@example.com"
	seedPassword = "password"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert a sample doctor with one open slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			s := seeder{
				users:   identity.NewUserRepoPG(pool),
				doctors: identity.NewDoctorRepoPG(pool),
				slots:   scheduling.NewSlotRepoPG(pool),
				tx:      db.NewTransactor(pool),
			}
			created, err := s.run(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, nothing to do.\n", seedEmail)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s (password %q) with one slot.\n", seedEmail, seedPassword)
			return nil
		},
	}
}

type seeder struct {
	users   identity.UserRepository
	doctors identity.DoctorRepository
	slots   scheduling.SlotRepository
	tx      interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
}

// run inserts the sample doctor and a 30 minute slot tomorrow at 09:00 UTC.
// It reports false when the doctor is already present.
func (s seeder) run(ctx context.Context, now time.Time) (bool, error) {
	_, err := s.users.GetByEmail(ctx, seedEmail)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return false, err
	}

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return false, err
	}
	u, d, slot := sampleDoctor(now)
	u.PasswordHash = hash

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		d.DoctorID = u.ID
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		slot.DoctorID = u.ID
		return s.slots.Create(ctx, slot)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func sampleDoctor(now time.Time) (*identity.User, *identity.Doctor, *scheduling.Slot) {
	day := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	start := day.Add(9 * time.Hour)
	fee := decimal.NewFromInt(500)

	u := &identity.User{
		Name:  "Dr Joy",
		Email: seedEmail,
		Phone: "9999999999",
		Role:  auth.RoleDoctor,
		City:  "Mumbai",
	}
	d := &identity.Doctor{
		Specialization:  identity.DefaultSpecialization,
		YearsExperience: 8,
		Rating:          4.5,
		ClinicAddress:   "Mumbai Clinic",
		Languages:       []string{"English"},
		ConsultationFee: &fee,
		Verified:        true,
	}
	slot := &scheduling.Slot{
		Start: start,
		End:   start.Add(30 * time.Minute),
	}
	return u, d, slot
}
