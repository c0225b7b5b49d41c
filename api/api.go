package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"order-board/board"
	"order-board/domain"
	"order-board/feed"
	"order-board/overlay"
)

// BoardBuilder assembles the board view for a delivery date.
type BoardBuilder interface {
	BuildBoard(ctx context.Context, tenantID, deliveryDate string) (board.View, error)
}

// StateService mutates and reads card overlay state.
type StateService interface {
	Upsert(ctx context.Context, tenantID, cardID, deliveryDate string, patch domain.StatePatch) (domain.CardState, error)
	Get(ctx context.Context, tenantID, cardID, deliveryDate string) (domain.CardState, error)
	ClearDate(ctx context.Context, tenantID, deliveryDate string) (int, error)
	Reorder(ctx context.Context, tenantID, deliveryDate string, orderedCardIDs []string) (int, error)
	BulkStatusUpdate(ctx context.Context, tenantID, deliveryDate string, updates []overlay.BulkUpdate) ([]overlay.ItemResult, error)
}

// ChangeFeed serves live and pull-based overlay changes.
type ChangeFeed interface {
	Subscribe(ctx context.Context, tenantID string) <-chan feed.Event
	Changes(ctx context.Context, tenantID string, since time.Time) (feed.ChangeSet, error)
}

// WebhookIntake accepts raw upstream order payloads.
type WebhookIntake interface {
	Accept(ctx context.Context, tenantID, deliveryID string, raw []byte) (string, error)
}

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LabelInvalidator drops a tenant's cached label index.
type LabelInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// Authenticator resolves the caller from an Authorization header.
type Authenticator interface {
	PrincipalFromAuthHeader(h string) (Principal, error)
}

// Deps are the collaborators the HTTP surface needs. Labels and Intake may
// be nil, which disables their routes.
type Deps struct {
	Board         BoardBuilder
	States        StateService
	Feed          ChangeFeed
	Intake        WebhookIntake
	Health        Pinger
	Labels        LabelInvalidator
	Auth          Authenticator
	Logger        *log.Logger
	WebhookSecret string
}

type handlers struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	h := &handlers{Deps: d}

	e.GET("/cards", h.getCards)
	e.GET("/card-state/changes", h.getChanges)
	e.POST("/card-state/bulk", h.postBulk)
	e.GET("/card-state/:cardId", h.getCardState)
	e.PUT("/card-state/:cardId", h.putCardState)
	e.DELETE("/card-state", h.deleteCardStates)
	e.POST("/orders/reorder", h.postReorder)
	e.GET("/events", h.getEvents)
	e.GET("/healthz", h.healthz)
	if d.Intake != nil {
		e.POST(routeOrderWebhook, h.postOrderWebhook)
	}
	if d.Labels != nil {
		e.POST("/labels/cache/invalidate", h.postInvalidateLabels)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

var errBadBody = errors.New("invalid body")

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidCardID),
		errors.Is(err, domain.ErrMalformedOrder),
		errors.Is(err, overlay.ErrEmptyPatch),
		errors.Is(err, feed.ErrInvalidSince):
		return http.StatusBadRequest
	case errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Server errors are logged and their detail
// is not returned to the client.
func (h *handlers) fail(c echo.Context, stage string, err error) error {
	status := statusFor(err)
	metricsFrom(c).SetErrorStage(stage)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(log.Fields{
			"route": c.Path(),
			"stage": stage,
		}).Error("request failed")
		msg = http.StatusText(status)
	}
	return c.JSON(status, errorResponse{Error: msg})
}

func (h *handlers) unauthorized(c echo.Context, err error) error {
	metricsFrom(c).SetErrorStage("auth")
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
}

// authenticate resolves the caller from the Authorization header. If
// fallbackToken is set it is used when the header is absent, for clients
// that cannot set headers on a stream.
func (h *handlers) authenticate(c echo.Context, fallbackToken string) (Principal, error) {
	m := metricsFrom(c)
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" && fallbackToken != "" {
		header = "Bearer " + fallbackToken
	}
	start := time.Now()
	p, err := h.Auth.PrincipalFromAuthHeader(header)
	m.ObserveAuth(time.Since(start))
	if err != nil {
		return Principal{}, err
	}
	m.SetTenant(p.TenantID)
	return p, nil
}
