package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"order-board/domain"
	"order-board/overlay"
)

const maxBodySize = 1 << 20

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// attributeAssignment replaces any client supplied assignedBy. Changing assignedTo is
// attributed to the caller; clearing it clears the attribution.
func attributeAssignment(p *domain.StatePatch, userID string) {
	p.AssignedBy = nil
	if p.AssignedTo == nil {
		return
	}
	by := userID
	if strings.TrimSpace(*p.AssignedTo) == "" {
		by = ""
	}
	p.AssignedBy = &by
}

func (h *handlers) healthz(c echo.Context) error {
	if h.Health == nil {
		return c.NoContent(http.StatusOK)
	}
	if err := h.Health.Ping(c.Request().Context()); err != nil {
		h.Logger.WithError(err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getCards(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	date := strings.TrimSpace(c.QueryParam("date"))
	if err := domain.ValidateDeliveryDate(date); err != nil {
		return h.fail(c, "invalid_date", err)
	}

	m := metricsFrom(c)
	start := time.Now()
	view, err := h.Board.BuildBoard(c.Request().Context(), p.TenantID, date)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, "build_board", err)
	}
	m.SetItems(len(view.AllCards))
	return c.JSON(http.StatusOK, view)
}

type cardStateRequest struct {
	DeliveryDate string `json:"deliveryDate"`
	domain.StatePatch
}

func (h *handlers) putCardState(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	var req cardStateRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, "decode", err)
	}
	attributeAssignment(&req.StatePatch, p.UserID)

	m := metricsFrom(c)
	start := time.Now()
	st, err := h.States.Upsert(c.Request().Context(), p.TenantID, c.Param("cardId"), req.DeliveryDate, req.StatePatch)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, "upsert", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handlers) getCardState(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	st, err := h.States.Get(c.Request().Context(), p.TenantID, c.Param("cardId"), strings.TrimSpace(c.QueryParam("date")))
	if err != nil {
		return h.fail(c, "get", err)
	}
	return c.JSON(http.StatusOK, st)
}

type bulkRequest struct {
	DeliveryDate string               `json:"deliveryDate"`
	Updates      []overlay.BulkUpdate `json:"updates"`
}

type bulkResponse struct {
	Results   []overlay.ItemResult `json:"results"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

func (h *handlers) postBulk(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	var req bulkRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, "decode", err)
	}
	for i := range req.Updates {
		attributeAssignment(&req.Updates[i].StatePatch, p.UserID)
	}

	m := metricsFrom(c)
	m.SetItems(len(req.Updates))
	start := time.Now()
	results, err := h.States.BulkStatusUpdate(c.Request().Context(), p.TenantID, req.DeliveryDate, req.Updates)
	m.ObserveService(time.Since(start))
	if err != nil {
		return h.fail(c, "bulk", err)
	}
	resp := bulkResponse{Results: results}
	for _, r := range results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type reorderRequest struct {
	DeliveryDate   string   `json:"deliveryDate"`
	OrderedCardIDs []string `json:"orderedCardIds"`
}

type reorderResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

func (h *handlers) postReorder(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, "decode", err)
	}

	m := metricsFrom(c)
	m.SetItems(len(req.OrderedCardIDs))
	start := time.Now()
	count, err := h.States.Reorder(c.Request().Context(), p.TenantID, req.DeliveryDate, req.OrderedCardIDs)
	m.ObserveService(time.Since(start))
	if err != nil && count == 0 {
		return h.fail(c, "reorder", err)
	}
	resp := reorderResponse{Count: count}
	if err != nil {
		m.SetErrorStage("reorder_partial")
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

type clearResponse struct {
	Cleared int `json:"cleared"`
}

func (h *handlers) deleteCardStates(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	n, err := h.States.ClearDate(c.Request().Context(), p.TenantID, strings.TrimSpace(c.QueryParam("date")))
	if err != nil {
		return h.fail(c, "clear", err)
	}
	h.Logger.WithFields(log.Fields{"tenant": p.TenantID, "user": p.UserID, "cleared": n}).Info("card states cleared")
	return c.JSON(http.StatusOK, clearResponse{Cleared: n})
}

func (h *handlers) getChanges(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	var since time.Time
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		since, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return h.fail(c, "invalid_since", fmt.Errorf("%w: since must be RFC3339", errBadBody))
		}
	}
	set, err := h.Feed.Changes(c.Request().Context(), p.TenantID, since)
	if err != nil {
		return h.fail(c, "changes", err)
	}
	metricsFrom(c).SetItems(len(set.Changes))
	return c.JSON(http.StatusOK, set)
}

func (h *handlers) postInvalidateLabels(c echo.Context) error {
	p, err := h.authenticate(c, "")
	if err != nil {
		return h.unauthorized(c, err)
	}
	if err := h.Labels.Invalidate(c.Request().Context(), p.TenantID); err != nil {
		return h.fail(c, "invalidate", err)
	}
	return c.NoContent(http.StatusNoContent)
}
