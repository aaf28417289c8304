package identity

import (
	"errors"
	"net/http"

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
	// public, see auth.AuthSkipper
	api.POST("/signup", h.Signup)
	api.POST("/login", h.Login)

	api.GET("/me", h.Me)
	api.GET("/allergies", h.ListAllergies)

	patient := auth.RequireRole(auth.RolePatient)
	api.GET("/me/medical-profile", h.GetMedicalProfile, patient)
	api.POST("/me/medical-profile", h.SaveMedicalProfile, patient)
}

func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Signup(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Account created",
		"user":    u,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := validate.Bind(c, &req); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return apperr.Validation("email and password required")
		}
		return err
	}
	resp, err := h.svc.Login(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Auth("Missing or invalid auth header")
	}
	acct, err := h.svc.Me(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	items, err := h.svc.ListAllergies(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetMedicalProfile(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Auth("Missing or invalid auth header")
	}
	profile, err := h.svc.GetMedicalProfile(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) SaveMedicalProfile(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Auth("Missing or invalid auth header")
	}
	var req MedicalProfileRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	profile, err := h.svc.SaveMedicalProfile(c.Request().Context(), p.UserID, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Medical profile saved",
		"profile": profile,
	})
}
