// Package proxy implements the stateless forwarding surface. Each route
// relays the inbound body to its backend endpoint under a bounded deadline
// and relays the response back: 2xx bodies byte-for-byte, everything else as
// the uniform error envelope. Rate-limit headers pass through either way.
package proxy

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sturgeon/sturgeon/internal/platform/backend"
	"github.com/sturgeon/sturgeon/internal/platform/httperr"
	"github.com/sturgeon/sturgeon/internal/platform/upload"
)

// maxInboundJSON bounds how much of an inbound JSON body the proxy buffers.
// The body-limit middleware enforces the real cap; this is the fallback for
// routes served without it.
const maxInboundJSON = 1 << 20 // 1 MiB

// Handler forwards browser calls to the AI backend without touching case
// state.
type Handler struct {
	client    *backend.Client
	maxUpload int64
	logger    zerolog.Logger
}

func NewHandler(client *backend.Client, maxUpload int64, logger zerolog.Logger) *Handler {
	return &Handler{
		client:    client,
		maxUpload: maxUpload,
		logger:    logger.With().Str("component", "proxy").Logger(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/analyze-image", h.AnalyzeImage)
	api.POST("/differential", h.Differential)
	api.POST("/extract-labs", h.ExtractLabs)
	api.POST("/debate-turn", h.DebateTurn)
	api.POST("/summary", h.Summary)
	api.GET("/health", h.Health)
}

// Differential handles POST /differential.
func (h *Handler) Differential(c echo.Context) error {
	return h.relayJSON(c, "/differential", h.client.Timeouts().Differential)
}

// DebateTurn handles POST /debate-turn.
func (h *Handler) DebateTurn(c echo.Context) error {
	return h.relayJSON(c, "/debate-turn", h.client.Timeouts().Debate)
}

// Summary handles POST /summary.
func (h *Handler) Summary(c echo.Context) error {
	return h.relayJSON(c, "/summary", h.client.Timeouts().Summary)
}

// AnalyzeImage handles POST /analyze-image.
func (h *Handler) AnalyzeImage(c echo.Context) error {
	return h.relayFile(c, "/analyze-image", "No image file provided", h.client.Timeouts().Image)
}

// ExtractLabs handles POST /extract-labs. The backend names the endpoint
// extract-labs-file; the browser-facing route keeps the shorter name.
func (h *Handler) ExtractLabs(c echo.Context) error {
	return h.relayFile(c, "/extract-labs-file", "No file provided", h.client.Timeouts().Labs)
}

// Health handles GET /health. Unlike the other routes, an unreachable
// backend maps to 503 so load balancers see the dependency as down rather
// than the gateway as broken.
func (h *Handler) Health(c echo.Context) error {
	res, err := h.client.Get(c.Request().Context(), "/health", h.client.Timeouts().Health)
	if err != nil {
		return httperr.BackendHealth(c, err)
	}
	return h.relay(c, res)
}

func (h *Handler) relayJSON(c echo.Context, path string, timeout time.Duration) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInboundJSON))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request")
	}

	res, err := h.client.PostJSONRaw(c.Request().Context(), path, body, timeout)
	if err != nil {
		return httperr.Backend(c, err)
	}
	return h.relay(c, res)
}

func (h *Handler) relayFile(c echo.Context, path, missingMsg string, timeout time.Duration) error {
	f, err := upload.FromRequest(c, h.maxUpload)
	if err != nil {
		if errors.Is(err, upload.ErrFileTooLarge) {
			return httperr.JSON(c, http.StatusRequestEntityTooLarge, "Request too large",
				"The uploaded file exceeds the maximum allowed size.")
		}
		return httperr.JSON(c, http.StatusBadRequest, missingMsg, "")
	}

	res, err := h.client.PostFile(c.Request().Context(), path, upload.FieldName, f.Name, f.Content, timeout)
	if err != nil {
		return httperr.Backend(c, err)
	}
	return h.relay(c, res)
}

// relay writes a backend Result to the client. Success bodies pass through
// untouched so the gateway never reshapes what the model produced.
func (h *Handler) relay(c echo.Context, res *backend.Result) error {
	res.CopyHeaders(c.Response().Header())
	if res.OK() {
		return c.JSONBlob(res.StatusCode, res.Body)
	}
	return httperr.JSON(c, res.StatusCode, "Backend error", res.Detail())
}
