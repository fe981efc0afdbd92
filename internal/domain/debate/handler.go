package debate

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sturgeon/sturgeon/internal/domain/casefile"
	"github.com/sturgeon/sturgeon/internal/platform/httperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases/:id/debate", h.Run)
	api.POST("/cases/:id/debate/retry", h.Retry)
}

func (h *Handler) Run(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid case id")
	}
	var req struct {
		Challenge string `json:"challenge"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request")
	}

	cf, err := h.svc.Run(c.Request().Context(), id, req.Challenge)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid case id")
	}

	cf, err := h.svc.Retry(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, casefile.ErrNotFound):
		return httperr.JSON(c, http.StatusNotFound, "Case not found", "")
	case errors.Is(err, ErrEmptyChallenge):
		return httperr.JSON(c, http.StatusBadRequest, "Challenge cannot be empty", "")
	case errors.Is(err, ErrNothingToRetry):
		return httperr.JSON(c, http.StatusConflict, "Nothing to retry", "The last debate round completed successfully.")
	default:
		return httperr.Backend(c, err)
	}
}
