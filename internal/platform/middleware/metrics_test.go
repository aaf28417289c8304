package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/meditrust/internal/platform/apperr"
)

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	m := NewMetrics()
	c, _ := newCtx(http.MethodPost, "/api/appointments/7/cancel")
	c.SetPath("/api/appointments/:id/cancel")

	err := m.Middleware()(func(c echo.Context) error {
		return apperr.Forbidden("Forbidden")
	})(c)
	require.Error(t, err)

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/api/appointments/:id/cancel", "403"))
	assert.Equal(t, float64(1), got)
}

func TestMetrics_DomainCounters(t *testing.T) {
	m := NewMetrics()
	m.BookingOutcome("booked")
	m.BookingOutcome("booked")
	m.BookingOutcome("not_available")
	m.AppointmentTransition("cancelled")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.bookings.WithLabelValues("booked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bookings.WithLabelValues("not_available")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("cancelled")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.BookingOutcome("booked")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, m.Handler()(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `meditrust_bookings_total{outcome="booked"} 1`)
}
