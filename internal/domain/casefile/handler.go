package casefile

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sturgeon/sturgeon/internal/platform/httperr"
	"github.com/sturgeon/sturgeon/internal/platform/upload"
	"github.com/sturgeon/sturgeon/pkg/pagination"
)

type Handler struct {
	svc       *Service
	maxUpload int64
}

func NewHandler(svc *Service, maxUpload int64) *Handler {
	return &Handler{svc: svc, maxUpload: maxUpload}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	cases := api.Group("/cases")
	cases.POST("", h.Create)
	cases.GET("", h.List)
	cases.GET("/:id", h.Get)
	cases.DELETE("/:id", h.Delete)
	cases.PUT("/:id/history", h.SetHistory)
	cases.PUT("/:id/labs", h.SetLabs)
	cases.POST("/:id/differential", h.RunDifferential)
	cases.POST("/:id/image", h.AttachImage)
	cases.POST("/:id/labs-file", h.AttachLabReport)
}

func (h *Handler) Create(c echo.Context) error {
	cf, err := h.svc.Create(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, cf)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cf, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetHistory(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req struct {
		PatientHistory string `json:"patient_history"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request")
	}
	cf, err := h.svc.SetHistory(c.Request().Context(), id, req.PatientHistory)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) SetLabs(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req struct {
		LabValues map[string]string `json:"lab_values"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request")
	}
	cf, err := h.svc.SetLabs(c.Request().Context(), id, req.LabValues)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) RunDifferential(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cf, err := h.svc.RunDifferential(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) AttachImage(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	f, err := upload.FromRequest(c, h.maxUpload)
	if err != nil {
		return uploadError(c, err, "No image file provided")
	}
	cf, err := h.svc.AttachImage(c.Request().Context(), id, f)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) AttachLabReport(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	f, err := upload.FromRequest(c, h.maxUpload)
	if err != nil {
		return uploadError(c, err, "No file provided")
	}
	cf, err := h.svc.AttachLabReport(c.Request().Context(), id, f)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func caseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid case id")
	}
	return id, nil
}

// mapError translates service failures into the error envelope. Anything
// not recognized here came from the backend call and is mapped by httperr.
func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httperr.JSON(c, http.StatusNotFound, "Case not found", "")
	case errors.Is(err, ErrEmptyHistory):
		return httperr.JSON(c, http.StatusBadRequest, "Patient history cannot be empty", "")
	default:
		return httperr.Backend(c, err)
	}
}

func uploadError(c echo.Context, err error, missingMsg string) error {
	if errors.Is(err, upload.ErrFileTooLarge) {
		return httperr.JSON(c, http.StatusRequestEntityTooLarge, "Request too large", "The uploaded file exceeds the maximum allowed size.")
	}
	return httperr.JSON(c, http.StatusBadRequest, missingMsg, "")
}
