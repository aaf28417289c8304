package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
)

// -- Mock Repositories --

type mockUserRepo struct {
	users  map[int64]*User
	nextID int64
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return apperr.Validation("Email already registered")
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperr.NotFound("User not found")
}

type mockDoctorRepo struct {
	doctors map[int64]*Doctor
	failOn  error
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[int64]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	if m.failOn != nil {
		return m.failOn
	}
	m.doctors[d.DoctorID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id int64) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperr.NotFound("Doctor not found")
	}
	return d, nil
}

type mockProfileRepo struct {
	profiles   map[int64]*MedicalProfile
	catalog    []Allergy
	userAllerg map[int64][]int64
	userConds  map[int64][]string
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{
		profiles:   make(map[int64]*MedicalProfile),
		catalog:    []Allergy{{ID: 1, Name: "Penicillin"}, {ID: 2, Name: "Peanuts"}},
		userAllerg: make(map[int64][]int64),
		userConds:  make(map[int64][]string),
	}
}

func (m *mockProfileRepo) Upsert(_ context.Context, p *MedicalProfile) error {
	p.UpdatedAt = time.Now()
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *mockProfileRepo) Get(_ context.Context, userID int64) (*MedicalProfile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("Medical profile not found")
	}
	out := *p
	out.Allergies = []Allergy{}
	for _, id := range m.userAllerg[userID] {
		for _, a := range m.catalog {
			if a.ID == id {
				out.Allergies = append(out.Allergies, a)
			}
		}
	}
	sort.Slice(out.Allergies, func(i, j int) bool { return out.Allergies[i].Name < out.Allergies[j].Name })
	out.Conditions = append([]string{}, m.userConds[userID]...)
	sort.Strings(out.Conditions)
	return &out, nil
}

func (m *mockProfileRepo) ListAllergies(_ context.Context) ([]Allergy, error) {
	return m.catalog, nil
}

func (m *mockProfileRepo) ResolveAllergies(_ context.Context, ids []int64, names []string) ([]Allergy, error) {
	var out []Allergy
	for _, name := range names {
		found := false
		for _, a := range m.catalog {
			if strings.EqualFold(a.Name, name) {
				found = true
				out = append(out, a)
			}
		}
		if !found {
			a := Allergy{ID: int64(len(m.catalog) + 1), Name: name}
			m.catalog = append(m.catalog, a)
			out = append(out, a)
		}
	}
	for _, id := range ids {
		for _, a := range m.catalog {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *mockProfileRepo) ReplaceAllergies(_ context.Context, userID int64, ids []int64) error {
	m.userAllerg[userID] = ids
	return nil
}

func (m *mockProfileRepo) ReplaceConditions(_ context.Context, userID int64, conds []string) error {
	m.userConds[userID] = conds
	return nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type testEnv struct {
	svc      *Service
	users    *mockUserRepo
	doctors  *mockDoctorRepo
	profiles *mockProfileRepo
	tx       *passthroughTx
	tokens   *auth.TokenIssuer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:    newMockUserRepo(),
		doctors:  newMockDoctorRepo(),
		profiles: newMockProfileRepo(),
		tx:       &passthroughTx{},
		tokens:   auth.NewTokenIssuer("identity-test-secret-0123456789abcdef", time.Hour),
	}
	env.svc = NewService(env.users, env.doctors, env.profiles, env.tx, env.tokens)
	return env
}

func newTestService() *Service {
	return newTestEnv().svc
}

// -- Signup --

func TestService_Signup_Patient(t *testing.T) {
	env := newTestEnv()
	u, err := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "Asha", Email: "  Asha@Example.com ", Password: "secret", Role: auth.RolePatient, City: "Mumbai",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected ID to be assigned")
	}
	if u.Email != "asha@example.com" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.PasswordHash == "" || u.PasswordHash == "secret" {
		t.Error("expected password to be hashed")
	}
	if len(env.doctors.doctors) != 0 {
		t.Error("patients must not get a doctor row")
	}
}

func TestService_Signup_DoctorDefaultsSpecialization(t *testing.T) {
	env := newTestEnv()
	u, err := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "Dr Joy", Email: "joy@example.com", Password: "secret", Role: auth.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := env.doctors.doctors[u.ID]
	if !ok {
		t.Fatal("expected doctor row to be created")
	}
	if d.Specialization != DefaultSpecialization {
		t.Errorf("expected %q, got %q", DefaultSpecialization, d.Specialization)
	}
	if env.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", env.tx.calls)
	}
}

func TestService_Signup_DoctorFields(t *testing.T) {
	env := newTestEnv()
	fee := decimal.RequireFromString("500.00")
	u, err := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "Dr Rao", Email: "rao@example.com", Password: "secret", Role: auth.RoleDoctor,
		Specialization: "Cardiology", YearsExperience: 12, Languages: []string{"English", "Hindi"},
		ConsultationFee: &fee,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := env.doctors.doctors[u.ID]
	if d.Specialization != "Cardiology" || d.YearsExperience != 12 {
		t.Errorf("unexpected doctor row: %+v", d)
	}
	if len(d.Languages) != 2 || d.Languages[1] != "Hindi" {
		t.Errorf("expected ordered languages, got %v", d.Languages)
	}
	if !d.ConsultationFee.Equal(fee) {
		t.Errorf("expected fee %s, got %s", fee, d.ConsultationFee)
	}
}

func TestService_Signup_DuplicateEmail(t *testing.T) {
	svc := newTestService()
	req := &SignupRequest{Name: "A", Email: "a@example.com", Password: "x", Role: auth.RolePatient}
	if _, err := svc.Signup(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dup := &SignupRequest{Name: "B", Email: "A@example.com", Password: "y", Role: auth.RolePatient}
	_, err := svc.Signup(context.Background(), dup)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.(*apperr.Error).Message != "Email already registered" {
		t.Errorf("unexpected message %q", err.(*apperr.Error).Message)
	}
}

func TestService_Signup_NegativeFee(t *testing.T) {
	svc := newTestService()
	fee := decimal.NewFromInt(-1)
	_, err := svc.Signup(context.Background(), &SignupRequest{
		Name: "D", Email: "d@example.com", Password: "x", Role: auth.RoleDoctor, ConsultationFee: &fee,
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_Signup_DoctorRowFailurePropagates(t *testing.T) {
	env := newTestEnv()
	env.doctors.failOn = errors.New("insert failed")
	_, err := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "D", Email: "d@example.com", Password: "x", Role: auth.RoleDoctor,
	})
	if err == nil {
		t.Fatal("expected error when the doctor row cannot be created")
	}
}

// -- Login --

func TestService_Login(t *testing.T) {
	env := newTestEnv()
	u, _ := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "A", Email: "a@example.com", Password: "correct horse", Role: auth.RolePatient,
	})

	resp, err := env.svc.Login(context.Background(), &LoginRequest{Email: "A@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := env.tokens.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id, _ := claims.UserID(); id != u.ID {
		t.Errorf("expected subject %d, got %d", u.ID, id)
	}
	if claims.Role != auth.RolePatient {
		t.Errorf("expected role patient, got %q", claims.Role)
	}
}

func TestService_Login_InvalidCredentials(t *testing.T) {
	env := newTestEnv()
	env.svc.Signup(context.Background(), &SignupRequest{
		Name: "A", Email: "a@example.com", Password: "right", Role: auth.RolePatient,
	})

	tests := []struct {
		name  string
		email string
		pass  string
	}{
		{"wrong password", "a@example.com", "wrong"},
		{"unknown email", "nobody@example.com", "right"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Login(context.Background(), &LoginRequest{Email: tt.email, Password: tt.pass})
			if !errors.Is(err, apperr.ErrAuth) {
				t.Fatalf("expected auth error, got %v", err)
			}
			if err.(*apperr.Error).Message != "Invalid credentials" {
				t.Errorf("unexpected message %q", err.(*apperr.Error).Message)
			}
		})
	}
}

// -- Me / PrincipalByID --

func TestService_Me_Doctor(t *testing.T) {
	env := newTestEnv()
	u, _ := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "Dr", Email: "dr@example.com", Password: "x", Role: auth.RoleDoctor, Specialization: "ENT",
	})
	acct, err := env.svc.Me(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Doctor == nil || acct.Doctor.Specialization != "ENT" {
		t.Errorf("expected doctor details, got %+v", acct.Doctor)
	}
}

func TestService_PrincipalByID(t *testing.T) {
	env := newTestEnv()
	u, _ := env.svc.Signup(context.Background(), &SignupRequest{
		Name: "A", Email: "a@example.com", Password: "x", Role: auth.RolePatient, City: "Pune",
	})
	p, err := env.svc.PrincipalByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != u.ID || p.Role != auth.RolePatient || p.City != "Pune" {
		t.Errorf("unexpected principal %+v", p)
	}

	_, err = env.svc.PrincipalByID(context.Background(), 999)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Medical profile --

func TestService_SaveMedicalProfile(t *testing.T) {
	env := newTestEnv()
	h := 170.0
	p, err := env.svc.SaveMedicalProfile(context.Background(), 7, &MedicalProfileRequest{
		DateOfBirth: "1990-04-12",
		Gender:      "female",
		BloodGroup:  "o+",
		HeightCM:    &h,
		Allergies:   []AllergyInput{{ID: 1}, {Name: "Latex"}, {Name: " peanuts "}},
		Conditions:  []string{"Asthma", " asthma", "", "Diabetes"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BloodGroup != "O+" {
		t.Errorf("expected upper-cased blood group, got %q", p.BloodGroup)
	}
	names := make([]string, len(p.Allergies))
	for i, a := range p.Allergies {
		names[i] = a.Name
	}
	if strings.Join(names, ",") != "Latex,Peanuts,Penicillin" {
		t.Errorf("unexpected allergies %v", names)
	}
	if strings.Join(p.Conditions, ",") != "Asthma,Diabetes" {
		t.Errorf("unexpected conditions %v", p.Conditions)
	}
}

func TestService_SaveMedicalProfile_ReplacesLists(t *testing.T) {
	env := newTestEnv()
	req := &MedicalProfileRequest{DateOfBirth: "1990-01-01", Gender: "male", BloodGroup: "A+",
		Allergies: []AllergyInput{{ID: 1}}, Conditions: []string{"Asthma"}}
	if _, err := env.svc.SaveMedicalProfile(context.Background(), 7, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Allergies, req.Conditions = nil, nil
	p, err := env.svc.SaveMedicalProfile(context.Background(), 7, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Allergies) != 0 || len(p.Conditions) != 0 {
		t.Errorf("expected lists to be cleared, got %v / %v", p.Allergies, p.Conditions)
	}
}

func TestService_SaveMedicalProfile_FutureBirthDate(t *testing.T) {
	env := newTestEnv()
	env.svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	_, err := env.svc.SaveMedicalProfile(context.Background(), 7, &MedicalProfileRequest{
		DateOfBirth: "2030-01-01", Gender: "male", BloodGroup: "A+",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_GetMedicalProfile_NotFound(t *testing.T) {
	_, err := newTestService().GetMedicalProfile(context.Background(), 42)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCleanList(t *testing.T) {
	got := cleanList([]string{" a ", "A", "", "b", "  "})
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("unexpected result %v", got)
	}
}
