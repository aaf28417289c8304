package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)
	patient := auth.RequireRole(auth.RolePatient)

	// Slots
	api.POST("/doctor/add-slot", h.CreateSlot, doctor)
	api.PUT("/doctor/slot/:id", h.UpdateSlot, doctor)
	api.DELETE("/doctor/slot/:id", h.DeleteSlot, doctor)
	api.GET("/slots/:id", h.GetSlot)
	api.GET("/doctor/:id/slots", h.ListDoctorSlots)

	// Appointments
	api.POST("/appointments", h.Book, patient)
	api.POST("/book-appointment", h.Book, patient)
	api.POST("/appointments/:id/accept", h.Accept, doctor)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/complete", h.Complete, doctor)
	api.GET("/appointments/my", h.ListMine, patient)
	api.GET("/doctor/appointments", h.ListDoctorAppointments, doctor)
	api.GET("/appointments/:id/slip", h.Slip)
}

func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return nil, apperr.Auth("Missing or invalid auth header")
	}
	return p, nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id")
	}
	return id, nil
}

// -- Slots --

func (h *Handler) CreateSlot(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), p, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Slot added",
		"slot_id": slot.ID,
	})
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	slot, err := h.svc.UpdateSlot(c.Request().Context(), p, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Slot updated",
		"slot":    slot,
	})
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Slot deleted"})
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) ListDoctorSlots(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	available, _ := strconv.ParseBool(c.QueryParam("available"))
	slots, err := h.svc.ListDoctorSlots(c.Request().Context(), id, available)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointments --

func (h *Handler) Book(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := validate.Bind(c, &req); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return apperr.Validation("slot_id required")
		}
		return err
	}
	view, err := h.svc.Book(c.Request().Context(), p, req.SlotID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":        "Appointment booked",
		"appointment_id": view.ID,
		"appointment":    view,
	})
}

type transitionFunc func(c echo.Context, p *auth.Principal, id int64) (*AppointmentView, error)

func (h *Handler) transition(c echo.Context, message string, fn transitionFunc) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	view, err := fn(c, p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     message,
		"appointment": view,
	})
}

func (h *Handler) Accept(c echo.Context) error {
	return h.transition(c, "Appointment confirmed", func(c echo.Context, p *auth.Principal, id int64) (*AppointmentView, error) {
		return h.svc.Accept(c.Request().Context(), p, id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, "Appointment cancelled", func(c echo.Context, p *auth.Principal, id int64) (*AppointmentView, error) {
		return h.svc.Cancel(c.Request().Context(), p, id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, "Appointment completed", func(c echo.Context, p *auth.Principal, id int64) (*AppointmentView, error) {
		return h.svc.Complete(c.Request().Context(), p, id)
	})
}

func (h *Handler) ListMine(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForPatient(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListDoctorAppointments(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForDoctor(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Slip(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pdf, err := h.svc.Slip(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		"attachment; filename=appointment-"+strconv.FormatInt(id, 10)+".pdf")
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}
