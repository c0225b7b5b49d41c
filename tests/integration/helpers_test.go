//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"order-board/board"
	testutil "order-board/tests/utils"
)

func newClient(t *testing.T, tenant string) *Client {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	if _, err := http.Get(base + "/healthz"); err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := testutil.TestToken(tenant, "integration-user")
		if err != nil {
			t.Skipf("skipping, no token: %v", err)
		}
		bearer = tok
	}
	return NewClient(base, bearer)
}

// uniqueTenant isolates each test's rows.
func uniqueTenant(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func deliveryDate() string {
	return time.Now().AddDate(0, 0, 1).Format("02/01/2006")
}

// orderPayload builds a webhook body with one bouquet line of qty units.
func orderPayload(orderID int64, date string, qty int) map[string]any {
	return map[string]any{
		"id":   orderID,
		"name": "#" + strconv.FormatInt(orderID%100000, 10),
		"tags": "Local Delivery, " + date + ", Morning",
		"line_items": []map[string]any{
			{"id": orderID*10 + 1, "product_id": 100, "variant_id": 200, "title": "Rose Bouquet", "quantity": qty, "price": "39.50"},
		},
	}
}

func ingestionSLA() time.Duration {
	if ms, err := strconv.Atoi(os.Getenv("INGEST_SLA_MS")); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 15 * time.Second
}

// pollBoard polls /cards until cond returns true or the ingestion SLA passes.
func pollBoard(t *testing.T, client *Client, date string, cond func(board.View) bool) board.View {
	t.Helper()
	deadline := time.Now().Add(ingestionSLA())
	backoff := 200 * time.Millisecond
	for {
		var view board.View
		_, err := client.GetJSON("/cards?date="+date, &view)
		if err == nil && cond(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for board: %v", err)
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func cardsOf(view board.View, upstreamOrderID string) []board.Card {
	var out []board.Card
	for _, c := range view.AllCards {
		if c.UpstreamOrderID == upstreamOrderID {
			out = append(out, c)
		}
	}
	return out
}
