package summary

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sturgeon/sturgeon/internal/domain/casefile"
	"github.com/sturgeon/sturgeon/internal/platform/httperr"
)

// Handler exposes the case summary routes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases/:id/summary", h.Generate)
	api.GET("/cases/:id/summary", h.Get)
}

// Generate handles POST /cases/:id/summary.
func (h *Handler) Generate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid case id")
	}

	report, err := h.svc.Generate(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// Get handles GET /cases/:id/summary.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid case id")
	}

	report, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, casefile.ErrNotFound):
		return httperr.JSON(c, http.StatusNotFound, "Case not found", "")
	case errors.Is(err, ErrNotAvailable):
		return httperr.JSON(c, http.StatusNotFound, "Summary not available", "")
	case errors.Is(err, ErrNoDifferential):
		return httperr.JSON(c, http.StatusConflict, "No differential available",
			"Run the differential before requesting a summary.")
	default:
		return httperr.Backend(c, err)
	}
}
