package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"order-board/feed"
)

// writeEvent writes one server-sent event frame and flushes it.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev feed.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	frame := make([]byte, 0, len(data)+len(ev.Type)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, string(ev.Type)...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := w.Write(frame); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// getEvents streams overlay changes for the caller's tenant until the client
// disconnects. EventSource clients pass the bearer token as ?token=.
func (h *handlers) getEvents(c echo.Context) error {
	p, err := h.authenticate(c, c.QueryParam("token"))
	if err != nil {
		return h.unauthorized(c, err)
	}
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request().Context()
	logger := h.Logger.WithFields(log.Fields{"tenant": p.TenantID, "user": p.UserID})
	logger.Debug("event stream opened")
	sent := 0
	defer func() {
		metricsFrom(c).SetItems(sent)
		logger.WithField("events", sent).Debug("event stream closed")
	}()

	for ev := range h.Feed.Subscribe(ctx, p.TenantID) {
		if err := writeEvent(res, flusher, ev); err != nil {
			// The feed goroutine exits once ctx is done; the client is gone.
			logger.WithError(err).Debug("event write failed")
			return nil
		}
		sent++
	}
	return nil
}
