package documents

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/meditrust/meditrust/internal/platform/apperr"
	"github.com/meditrust/meditrust/internal/platform/auth"
	"github.com/meditrust/meditrust/internal/platform/validate"
	"github.com/meditrust/meditrust/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	members := auth.RequireRole(auth.RolePatient, auth.RoleDoctor)
	api.POST("/upload", h.Upload, members)
	api.GET("/uploads", h.List)
	api.GET("/upload/:id/summary", h.Summary, members)
	api.GET("/upload/:id/file", h.File, members)
	api.GET("/upload/:id/entities", h.Entities, members)
	api.POST("/prescription/:id/validate", h.ValidatePrescription, members)
}

func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return nil, apperr.Auth("Missing or invalid auth header")
	}
	return p, nil
}

func uploadID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound("Upload not found")
	}
	return id, nil
}

func (h *Handler) Upload(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("No file part")
	}
	if fh.Filename == "" {
		return apperr.Validation("No selected file")
	}
	var form UploadForm
	if err := validate.Bind(c, &form); err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return apperr.Internal("open uploaded file", err)
	}
	defer src.Close()

	u, err := h.svc.Upload(c.Request().Context(), p, UploadInput{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        src,
		UploadType:  form.UploadType,
		Consent:     form.Consent,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"uploadId": u.ID,
		"message":  "File uploaded",
	})
}

func (h *Handler) List(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForUser(c.Request().Context(), p.UserID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext("/api/uploads"))
}

func (h *Handler) Summary(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uploadID(c)
	if err != nil {
		return err
	}
	body, err := h.svc.Summary(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) File(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uploadID(c)
	if err != nil {
		return err
	}
	rc, u, err := h.svc.OpenFile(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	ct := u.ContentType
	if ct == "" {
		ct = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`inline; filename=%q`, u.OriginalName))
	return c.Stream(http.StatusOK, ct, rc)
}

func (h *Handler) Entities(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uploadID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Entities(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ValidatePrescription(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uploadID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.ValidatePrescription(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"validation": v})
}
