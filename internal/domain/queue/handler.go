package queue

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Staff check patients in and doctors move them through consultation, so
	// every queue operation is open to all three clinical roles.
	g := api.Group("", auth.RequireRole("admin", "doctor", "staff"))
	g.GET("/queue", h.GetQueue)
	g.GET("/queue/stats", h.GetStats)
	g.GET("/queue/entries", h.ListEntries)
	g.GET("/queue/entries/:id", h.GetEntry)
	g.POST("/queue/entries", h.CheckIn)
	g.POST("/queue/recalculate", h.Recalculate)
	g.PUT("/queue/entries/:id/status", h.UpdateStatus)
	g.DELETE("/queue/entries/:id", h.Remove)
}

func clinicIDParam(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("clinic_id")
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
	}
	return id, nil
}

func (h *Handler) GetQueue(c echo.Context) error {
	clinicID, err := clinicIDParam(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.GetQueue(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clinic_id": clinicID,
		"queue":     entries,
	})
}

func (h *Handler) GetStats(c echo.Context) error {
	clinicID, err := clinicIDParam(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CheckIn(c echo.Context) error {
	var e Entry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CheckIn(c.Request().Context(), &e); err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Recalculate(c echo.Context) error {
	clinicID, err := clinicIDParam(c)
	if err != nil {
		return err
	}
	n, err := h.svc.RecalculateAll(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clinic_id":    clinicID,
		"recalculated": n,
	})
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEntries(c echo.Context) error {
	clinicID, err := clinicIDParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEntries(c.Request().Context(), clinicID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusUpdateRequest struct {
	Status   string     `json:"status"`
	DoctorID *uuid.UUID `json:"doctor_id,omitempty"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status, req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Remove(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Remove(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
