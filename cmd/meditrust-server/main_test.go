package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/meditrust/meditrust/internal/config"
	"github.com/meditrust/meditrust/internal/domain/identity"
	"github.com/meditrust/meditrust/internal/domain/scheduling"
	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
)

func TestRootCmd_Commands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "status"}, {"seed"}} {
		cmd, rest, err := root.Find(path)
		if err != nil {
			t.Fatalf("Find(%v): %v", path, err)
		}
		if len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q, rest %v", path, cmd.Name(), rest)
		}
	}
}

func TestMigrateCmd_DirFlag(t *testing.T) {
	root := rootCmd()
	for _, sub := range []string{"up", "status"} {
		cmd, _, err := root.Find([]string{"migrate", sub})
		if err != nil {
			t.Fatal(err)
		}
		f := cmd.Flags().Lookup("dir")
		if f == nil {
			t.Fatalf("migrate %s has no --dir flag", sub)
		}
		if f.DefValue != "" {
			t.Errorf("migrate %s --dir default = %q, want empty (MIGRATIONS_DIR)", sub, f.DefValue)
		}
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "debug"},
		{"warn", "warn"},
		{"", "info"},
		{"loud", "info"},
	}
	for _, tt := range tests {
		logger := newLogger(&config.Config{Env: "production", LogLevel: tt.level})
		if got := logger.GetLevel().String(); got != tt.want {
			t.Errorf("newLogger(%q) level = %s, want %s", tt.level, got, tt.want)
		}
	}
	if got := newLogger(nil).GetLevel().String(); got != "info" {
		t.Errorf("newLogger(nil) level = %s, want info", got)
	}
}

func TestMountRoutes(t *testing.T) {
	e := echo.New()
	mountRoutes(e.Group("/api"), services{})

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	want := []string{
		"POST /api/signup",
		"POST /api/login",
		"GET /api/me",
		"POST /api/me/medical-profile",
		"POST /api/doctor/add-slot",
		"PUT /api/doctor/slot/:id",
		"DELETE /api/doctor/slot/:id",
		"GET /api/doctor/:id/slots",
		"POST /api/appointments",
		"POST /api/book-appointment",
		"POST /api/appointments/:id/accept",
		"POST /api/appointments/:id/cancel",
		"POST /api/appointments/:id/complete",
		"GET /api/appointments/my",
		"GET /api/doctor/appointments",
		"GET /api/appointments/:id/slip",
		"GET /api/recommend",
		"POST /api/recommend/from-symptoms",
		"POST /api/symptoms/analyze",
		"GET /api/doctor/:id",
		"POST /api/upload",
		"GET /api/uploads",
		"GET /api/upload/:id/summary",
		"GET /api/upload/:id/file",
		"GET /api/upload/:id/entities",
		"POST /api/prescription/:id/validate",
		"GET /api/notifications",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNotificationOptions(t *testing.T) {
	if got := len(notificationOptions(&config.Config{}, nil)); got != 1 {
		t.Errorf("options without senders = %d, want 1", got)
	}
	cfg := &config.Config{
		SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPFrom: "noreply@example.com",
		TwilioAccountSID: "AC123", TwilioAuthToken: "token", TwilioFrom: "+15550001111",
	}
	if got := len(notificationOptions(cfg, nil)); got != 3 {
		t.Errorf("options with both senders = %d, want 3", got)
	}
}

func TestSampleDoctor(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 15, 0, 0, time.UTC)
	u, d, slot := sampleDoctor(now)

	if u.Email != seedEmail || u.Role != auth.RoleDoctor || u.City != "Mumbai" {
		t.Errorf("user = %+v", u)
	}
	if d.Specialization != "General" || d.Rating != 4.5 || d.YearsExperience != 8 {
		t.Errorf("doctor = %+v", d)
	}
	wantStart := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	if !slot.Start.Equal(wantStart) {
		t.Errorf("slot start = %s, want %s", slot.Start, wantStart)
	}
	if slot.End.Sub(slot.Start) != 30*time.Minute {
		t.Errorf("slot length = %s, want 30m", slot.End.Sub(slot.Start))
	}
}

// -- seeder fakes --

type seedUsers struct {
	identity.UserRepository
	byEmail map[string]*identity.User
	nextID  int64
}

func (s *seedUsers) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (s *seedUsers) Create(_ context.Context, u *identity.User) error {
	s.nextID++
	u.ID = s.nextID
	s.byEmail[u.Email] = u
	return nil
}

type seedDoctors struct {
	identity.DoctorRepository
	created []*identity.Doctor
}

func (s *seedDoctors) Create(_ context.Context, d *identity.Doctor) error {
	s.created = append(s.created, d)
	return nil
}

type seedSlots struct {
	scheduling.SlotRepository
	created []*scheduling.Slot
	err     error
}

func (s *seedSlots) Create(_ context.Context, slot *scheduling.Slot) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, slot)
	return nil
}

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestSeeder_Run(t *testing.T) {
	users := &seedUsers{byEmail: map[string]*identity.User{}}
	doctors := &seedDoctors{}
	slots := &seedSlots{}
	s := seeder{users: users, doctors: doctors, slots: slots, tx: directTx{}}

	created, err := s.run(context.Background(), time.Now())
	if err != nil || !created {
		t.Fatalf("first run = %v, %v", created, err)
	}
	u := users.byEmail[seedEmail]
	if ok, err := auth.CheckPassword(u.PasswordHash, seedPassword); err != nil || !ok {
		t.Errorf("seeded password does not verify: %v", err)
	}
	if len(doctors.created) != 1 || doctors.created[0].DoctorID != u.ID {
		t.Errorf("doctor rows = %+v", doctors.created)
	}
	if len(slots.created) != 1 || slots.created[0].DoctorID != u.ID {
		t.Errorf("slots = %+v", slots.created)
	}

	created, err = s.run(context.Background(), time.Now())
	if err != nil || created {
		t.Fatalf("second run = %v, %v; want no-op", created, err)
	}
	if len(slots.created) != 1 {
		t.Errorf("second run added slots: %d", len(slots.created))
	}
}

func TestSeeder_RunPropagatesErrors(t *testing.T) {
	boom := errors.New("insert slot: boom")
	s := seeder{
		users:   &seedUsers{byEmail: map[string]*identity.User{}},
		doctors: &seedDoctors{},
		slots:   &seedSlots{err: boom},
		tx:      directTx{},
	}
	if _, err := s.run(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestHealthRouteIsPublic(t *testing.T) {
	e := echo.New()
	skipped := func(path string) bool {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath(path)
		return auth.AuthSkipper(c)
	}
	if !skipped("/health") || !skipped("/metrics") {
		t.Error("probe endpoints must bypass auth")
	}
	if skipped("/api/uploads") {
		t.Error("/api/uploads must require auth")
	}
}
