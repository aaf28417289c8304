package discovery

import (
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
	patient := auth.RequireRole(auth.RolePatient)
	api.GET("/recommend", h.Recommend, patient)
	api.POST("/recommend/from-symptoms", h.FromSymptoms, patient)
	api.POST("/symptoms/analyze", h.AnalyzeSymptoms, patient)
	api.GET("/doctor/:id", h.Profile, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
}

func (h *Handler) Recommend(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Auth("Missing or invalid auth header")
	}
	var q RecommendQuery
	if err := validate.Bind(c, &q); err != nil {
		return err
	}
	docs, err := h.svc.Recommend(c.Request().Context(), p, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) FromSymptoms(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Auth("Missing or invalid auth header")
	}
	var req FromSymptomsRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	docs, err := h.svc.FromSymptoms(c.Request().Context(), p, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"doctors": docs})
}

func (h *Handler) AnalyzeSymptoms(c echo.Context) error {
	var req SymptomsRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	t, err := h.svc.AnalyzeSymptoms(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Profile(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return apperr.NotFound("Doctor not found")
	}
	p, err := h.svc.Profile(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
