package scheduling

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/validate"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(env.svc), env, e
}

func request(method, body string, p *auth.Principal) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	return req
}

func withID(c echo.Context, id int64) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(id, 10))
	return c
}

func appErrMessage(t *testing.T, err error) string {
	t.Helper()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error, got %v", err)
	}
	return ae.Message
}

// -- Slots --

func TestHandler_CreateSlot(t *testing.T) {
	h, env, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(request(http.MethodPost, `{"date":"2030-01-15","startTime":"10:00","duration":30}`, drJoy), rec)

	if err := h.CreateSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body struct {
		Message string `json:"message"`
		SlotID  int64  `json:"slot_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Slot added" || body.SlotID == 0 {
		t.Errorf("unexpected body %+v", body)
	}
	if len(env.store.slots) != 1 {
		t.Errorf("expected 1 stored slot, got %d", len(env.store.slots))
	}
}

func TestHandler_CreateSlot_BadDatetime(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(request(http.MethodPost, `{"slot_start":"15/01/2030 10:00","slot_end":"x"}`, drJoy), httptest.NewRecorder())
	if got := appErrMessage(t, h.CreateSlot(c)); got != "Invalid datetime format. Use ISO format." {
		t.Errorf("unexpected message %q", got)
	}
}

func TestHandler_DeleteSlot_Booked(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.booked(t, drJoy, asha)

	c := withID(e.NewContext(request(http.MethodDelete, "", drJoy), httptest.NewRecorder()), v.SlotID)
	err := h.DeleteSlot(c)
	if apperr.Status(apperr.KindOf(err)) != http.StatusBadRequest {
		t.Errorf("expected 400 for booked slot, got %v", err)
	}
}

func TestHandler_ListDoctorSlots_Available(t *testing.T) {
	h, env, e := newTestHandler()
	env.slot(t, drJoy)
	env.booked(t, drJoy, asha)

	req := request(http.MethodGet, "", asha)
	req.URL.RawQuery = "available=true"
	rec := httptest.NewRecorder()
	if err := h.ListDoctorSlots(withID(e.NewContext(req, rec), drJoy.UserID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var slots []Slot
	json.Unmarshal(rec.Body.Bytes(), &slots)
	if len(slots) != 1 || slots[0].IsBooked {
		t.Errorf("expected one open slot, got %+v", slots)
	}
}

// -- Appointments --

func TestHandler_Book(t *testing.T) {
	h, env, e := newTestHandler()
	s := env.slot(t, drJoy)

	rec := httptest.NewRecorder()
	c := e.NewContext(request(http.MethodPost, `{"slot_id":`+strconv.FormatInt(s.ID, 10)+`}`, asha), rec)
	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["appointment_id"] == nil {
		t.Errorf("expected appointment_id, got %v", body)
	}
}

func TestHandler_Book_Errors(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.booked(t, drJoy, asha)

	c := e.NewContext(request(http.MethodPost, `{}`, ravi), httptest.NewRecorder())
	if got := appErrMessage(t, h.Book(c)); got != "slot_id required" {
		t.Errorf("unexpected message %q", got)
	}

	c = e.NewContext(request(http.MethodPost, `{"slot_id":`+strconv.FormatInt(v.SlotID, 10)+`}`, ravi), httptest.NewRecorder())
	err := h.Book(c)
	if got := appErrMessage(t, err); got != "Slot not available" {
		t.Errorf("unexpected message %q", got)
	}
	if apperr.Status(apperr.KindOf(err)) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_AcceptAndCancel(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.booked(t, drJoy, asha)

	rec := httptest.NewRecorder()
	if err := h.Accept(withID(e.NewContext(request(http.MethodPost, "", drJoy), rec), v.ID)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	var body struct {
		Message     string          `json:"message"`
		Appointment AppointmentView `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Appointment confirmed" || body.Appointment.Status != StatusConfirmed {
		t.Errorf("unexpected accept response %+v", body)
	}

	err := h.Cancel(withID(e.NewContext(request(http.MethodPost, "", ravi), httptest.NewRecorder()), v.ID))
	if apperr.Status(apperr.KindOf(err)) != http.StatusForbidden {
		t.Errorf("expected 403 for a stranger, got %v", err)
	}

	rec = httptest.NewRecorder()
	if err := h.Cancel(withID(e.NewContext(request(http.MethodPost, "", asha), rec), v.ID)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Appointment cancelled" {
		t.Errorf("unexpected message %q", body.Message)
	}

	err = h.Accept(withID(e.NewContext(request(http.MethodPost, "", drJoy), httptest.NewRecorder()), 999))
	if apperr.Status(apperr.KindOf(err)) != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Slip(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.booked(t, drJoy, asha)

	rec := httptest.NewRecorder()
	if err := h.Slip(withID(e.NewContext(request(http.MethodGet, "", asha), rec), v.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("expected PDF body")
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(request(http.MethodGet, "", asha), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("abc")
	if got := appErrMessage(t, h.GetSlot(c)); got != "invalid id" {
		t.Errorf("unexpected message %q", got)
	}
}

// -- Routing --

// principalMiddleware stands in for auth.Middleware.
func principalMiddleware(p *auth.Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithPrincipal(req.Context(), p)))
			return next(c)
		}
	}
}

func TestHandler_Routes(t *testing.T) {
	tests := []struct {
		name   string
		caller *auth.Principal
		method string
		path   string
		body   string
		want   int
	}{
		{"patient cannot add slots", asha, http.MethodPost, "/api/doctor/add-slot", `{"slot_start":"2030-01-15T10:00:00Z","slot_end":"2030-01-15T10:30:00Z"}`, http.StatusForbidden},
		{"doctor adds slot", drJoy, http.MethodPost, "/api/doctor/add-slot", `{"slot_start":"2030-01-15T10:00:00Z","slot_end":"2030-01-15T10:30:00Z"}`, http.StatusCreated},
		{"doctor cannot book", drJoy, http.MethodPost, "/api/appointments", `{"slot_id":1}`, http.StatusForbidden},
		{"patient books via alias", asha, http.MethodPost, "/api/book-appointment", `{"slot_id":1}`, http.StatusCreated},
		{"patient lists own", asha, http.MethodGet, "/api/appointments/my", "", http.StatusOK},
		{"doctor lists own", drJoy, http.MethodGet, "/api/doctor/appointments", "", http.StatusOK},
		{"patient cannot list doctor view", asha, http.MethodGet, "/api/doctor/appointments", "", http.StatusForbidden},
		{"slot detail", asha, http.MethodGet, "/api/slots/1", "", http.StatusOK},
	}

	_, env, _ := newTestHandler()
	h := NewHandler(env.svc)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Validator = validate.New()
			e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
			api := e.Group("/api", principalMiddleware(tt.caller))
			h.RegisterRoutes(api)

			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
