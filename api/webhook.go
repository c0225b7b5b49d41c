package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"order-board/ingest"
)

const (
	routeOrderWebhook = "/webhooks/orders"
	maxWebhookSize    = 4 << 20

	headerTenant     = "X-Tenant-Id"
	headerShopDomain = "X-Shopify-Shop-Domain"
	headerWebhookID  = "X-Shopify-Webhook-Id"
	headerHMAC       = "X-Shopify-Hmac-Sha256"
)

type webhookResponse struct {
	DeliveryID string `json:"deliveryId"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// verifyHMAC checks the base64 HMAC-SHA256 signature of body.
func verifyHMAC(secret string, body []byte, signature string) bool {
	want, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func inflateAll(raw []byte) ([]byte, error) {
	r, err := inflate(io.NopCloser(bytes.NewReader(raw)), maxWebhookSize)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func webhookTenant(c echo.Context) string {
	if t := strings.TrimSpace(c.Request().Header.Get(headerTenant)); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.QueryParam("tenant")); t != "" {
		return t
	}
	return strings.TrimSpace(c.Request().Header.Get(headerShopDomain))
}

// postOrderWebhook accepts an upstream order payload for asynchronous
// ingestion. Signed deliveries are required when a webhook secret is set.
// The signature covers the bytes as sent, so gzip bodies are inflated only
// after it checks out.
func (h *handlers) postOrderWebhook(c echo.Context) error {
	m := metricsFrom(c)
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookSize))
	if err != nil {
		return h.fail(c, "read_body", errBadBody)
	}
	if h.WebhookSecret != "" && !verifyHMAC(h.WebhookSecret, body, c.Request().Header.Get(headerHMAC)) {
		m.SetErrorStage("signature")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
	}
	if hasGzipEncoding(c.Request().Header.Get(echo.HeaderContentEncoding)) {
		if body, err = inflateAll(body); err != nil {
			return h.fail(c, "inflate", errBadBody)
		}
	}
	tenant := webhookTenant(c)
	if tenant == "" {
		m.SetErrorStage("tenant")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing tenant"})
	}
	m.SetTenant(tenant)

	id, err := h.Intake.Accept(c.Request().Context(), tenant, c.Request().Header.Get(headerWebhookID), body)
	switch {
	case errors.Is(err, ingest.ErrDuplicateDelivery):
		h.Logger.WithFields(log.Fields{"tenant": tenant, "delivery": id}).Info("duplicate webhook delivery skipped")
		return c.JSON(http.StatusOK, webhookResponse{DeliveryID: id, Duplicate: true})
	case err != nil:
		return h.fail(c, "accept", err)
	}
	return c.JSON(http.StatusAccepted, webhookResponse{DeliveryID: id})
}
