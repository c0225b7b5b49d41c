package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	testutil "order-board/tests/utils"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

type counters struct {
	attempts, failures             uint64
	connected, updates, heartbeats uint64
	errors                         uint64
}

func (c *counters) observe(eventLine string) {
	switch strings.TrimSpace(strings.TrimPrefix(eventLine, "event:")) {
	case "connected":
		atomic.AddUint64(&c.connected, 1)
	case "order_update":
		atomic.AddUint64(&c.updates, 1)
	case "heartbeat":
		atomic.AddUint64(&c.heartbeats, 1)
	case "error":
		atomic.AddUint64(&c.errors, 1)
	}
}

func (c *counters) total() uint64 {
	return atomic.LoadUint64(&c.connected) + atomic.LoadUint64(&c.updates) + atomic.LoadUint64(&c.heartbeats) + atomic.LoadUint64(&c.errors)
}

// subscribe holds one stream open, reconnecting with backoff until ctx ends.
func subscribe(ctx context.Context, client *http.Client, url, bearer string, c *counters) {
	backoff := time.Second
	retry := func() {
		atomic.AddUint64(&c.failures, 1)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
	for ctx.Err() == nil {
		atomic.AddUint64(&c.attempts, 1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			retry()
			continue
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Accept", "text/event-stream")
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			retry()
			continue
		}
		backoff = time.Second
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event:") {
				c.observe(line)
			}
		}
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		retry()
	}
}

// writeLoad updates card notes so subscribers see order_update events.
func writeLoad(ctx context.Context, client *http.Client, base, bearer, date string, cardIDs []string, every time.Duration) {
	if len(cardIDs) == 0 || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		body, _ := sonic.Marshal(map[string]any{
			"deliveryDate": date,
			"notes":        fmt.Sprintf("load %d", i),
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/card-state/"+cardIDs[i%len(cardIDs)], bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			log.WithError(err).Debug("write failed")
			continue
		}
		resp.Body.Close()
	}
}

func main() {
	base := strings.TrimSuffix(getenv("API_BASE", "http://localhost:8080"), "/")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	writeEvery := time.Duration(getenvInt("WRITE_INTERVAL_MS", 500)) * time.Millisecond
	date := getenv("DELIVERY_DATE", time.Now().Format("02/01/2006"))
	var cardIDs []string
	if raw := os.Getenv("CARD_IDS"); raw != "" {
		cardIDs = strings.Split(raw, ",")
	}

	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := testutil.TestToken(getenv("TENANT_ID", "perf-tenant"), "perf-user")
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		bearer = tok
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	client := &http.Client{}
	var c counters
	var wg sync.WaitGroup
	wg.Add(conns)
	for range conns {
		go func() {
			defer wg.Done()
			subscribe(ctx, client, base+"/events", bearer, &c)
		}()
	}
	go writeLoad(ctx, client, base, bearer, date, cardIDs, writeEvery)

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if c.total() == 0 {
				fmt.Println("no events received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	attempts := atomic.LoadUint64(&c.attempts)
	failures := atomic.LoadUint64(&c.failures)
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	fmt.Printf("connections=%d duration_sec=%d connected=%d order_updates=%d heartbeats=%d feed_errors=%d connection_failures=%d\n",
		conns, int(duration.Seconds()), c.connected, c.updates, c.heartbeats, c.errors, failures)
	if c.total() == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}
