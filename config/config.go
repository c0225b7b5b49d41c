package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"order-board/feed"
)

// Storage drivers.
const (
	DriverTables   = "aztables"
	DriverPostgres = "postgres"
)

type lookupFunc func(string) (string, bool)

// Storage selects and addresses the persistence backend.
type Storage struct {
	Driver           string
	ConnectionString string
	PostgresURL      string
	OrdersTable      string
	CardStatesTable  string
	LabelsTable      string
	StoresTable      string
	IngestQueue      string
}

// Auth configures JWT validation.
type Auth struct {
	Domain     string
	Audience   string
	TestMode   bool
	TestSecret string
}

// BoardAPI is the board-api service configuration.
type BoardAPI struct {
	Port             string
	Storage          Storage
	RedisConnection  string
	LabelCacheTTL    time.Duration
	WebhookDedupeTTL time.Duration
	Feed             feed.Config
	BulkWorkers      int
	StorePrefixes    map[string]string
	Auth             Auth
	// WebhookSecret enables HMAC verification of order webhooks when set.
	WebhookSecret string
}

// Ingester is the order-ingester worker configuration.
type Ingester struct {
	Storage           Storage
	IdleDelay         time.Duration
	VisibilityTimeout time.Duration
	MaxDequeue        int
}

type reader struct {
	lookup lookupFunc
	errs   []string
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) envInt(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q", key, v))
		return def
	}
	return n
}

func (r *reader) envDur(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func (r *reader) envBool(key string) bool {
	v := r.str(key, "")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q", key, v))
	}
	return b
}

func (r *reader) require(key, value string) {
	if value == "" {
		r.errs = append(r.errs, "missing "+key)
	}
}

func (r *reader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(r.errs, "; "))
}

func (r *reader) storage() Storage {
	s := Storage{
		Driver:           strings.ToLower(r.str("STORAGE_DRIVER", DriverTables)),
		ConnectionString: r.str("STORAGE_CONNECTION_STRING", ""),
		PostgresURL:      r.str("POSTGRES_URL", ""),
		OrdersTable:      r.str("ORDERS_TABLE", "orders"),
		CardStatesTable:  r.str("CARD_STATES_TABLE", "cardstates"),
		LabelsTable:      r.str("LABELS_TABLE", "labels"),
		StoresTable:      r.str("STORES_TABLE", "stores"),
		IngestQueue:      r.str("INGEST_QUEUE", "order-ingest"),
	}
	switch s.Driver {
	case DriverTables:
		r.require("STORAGE_CONNECTION_STRING", s.ConnectionString)
	case DriverPostgres:
		r.require("POSTGRES_URL", s.PostgresURL)
	default:
		r.errs = append(r.errs, fmt.Sprintf("unsupported STORAGE_DRIVER %q", s.Driver))
	}
	return s
}

// ParseStorePrefixes reads "PREFIX:Store Name" pairs separated by commas.
func ParseStorePrefixes(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" || strings.TrimSpace(kv[1]) == "" {
			return nil, fmt.Errorf("invalid store prefix %q", pair)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// LoadStorage reads only the storage section, for provisioning.
func LoadStorage() (Storage, error) {
	r := &reader{lookup: os.LookupEnv}
	s := r.storage()
	return s, r.err()
}

// LoadBoardAPI reads the board-api configuration from the environment.
func LoadBoardAPI() (BoardAPI, error) {
	return loadBoardAPI(os.LookupEnv)
}

func loadBoardAPI(lookup lookupFunc) (BoardAPI, error) {
	r := &reader{lookup: lookup}
	def := feed.DefaultConfig()
	cfg := BoardAPI{
		Port:             r.str("BOARD_API_PORT", r.str("FUNCTIONS_CUSTOMHANDLER_PORT", "8080")),
		Storage:          r.storage(),
		RedisConnection:  r.str("REDIS_CONNECTION_STRING", ""),
		LabelCacheTTL:    r.envDur("LABEL_CACHE_TTL", 5*time.Minute),
		WebhookDedupeTTL: r.envDur("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		Feed: feed.Config{
			PollInterval:  r.envDur("FEED_POLL_INTERVAL", def.PollInterval),
			Lookback:      r.envDur("FEED_LOOKBACK", def.Lookback),
			SkewAllowance: r.envDur("FEED_SKEW_ALLOWANCE", def.SkewAllowance),
			DedupeSize:    r.envInt("FEED_DEDUPE_SIZE", def.DedupeSize),
		},
		BulkWorkers:   r.envInt("BULK_WORKERS", 8),
		WebhookSecret: r.str("WEBHOOK_SECRET", ""),
		Auth: Auth{
			Domain:     r.str("AUTH0_DOMAIN", ""),
			Audience:   r.str("AUTH0_AUDIENCE", ""),
			TestMode:   r.str("AUTH0_TEST_MODE", "") == "1",
			TestSecret: r.str("TEST_JWT_SECRET", ""),
		},
	}
	if cfg.Feed.PollInterval <= 0 || cfg.Feed.Lookback <= 0 {
		r.errs = append(r.errs, "feed poll interval and lookback must be positive")
	}
	if cfg.Feed.Lookback <= cfg.Feed.SkewAllowance {
		r.errs = append(r.errs, "FEED_LOOKBACK must exceed FEED_SKEW_ALLOWANCE")
	}
	prefixes, err := ParseStorePrefixes(r.str("STORE_PREFIXES", ""))
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	cfg.StorePrefixes = prefixes
	if cfg.Auth.TestMode {
		r.require("TEST_JWT_SECRET", cfg.Auth.TestSecret)
	} else {
		r.require("AUTH0_DOMAIN", cfg.Auth.Domain)
		r.require("AUTH0_AUDIENCE", cfg.Auth.Audience)
	}
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.ConnectionString == "" {
		r.errs = append(r.errs, "STORAGE_CONNECTION_STRING is required for the ingest queue")
	}
	return cfg, r.err()
}

// LoadIngester reads the order-ingester configuration from the environment.
func LoadIngester() (Ingester, error) {
	return loadIngester(os.LookupEnv)
}

func loadIngester(lookup lookupFunc) (Ingester, error) {
	r := &reader{lookup: lookup}
	cfg := Ingester{
		Storage:           r.storage(),
		IdleDelay:         r.envDur("INGEST_IDLE_DELAY", time.Second),
		VisibilityTimeout: r.envDur("INGEST_VISIBILITY_TIMEOUT", 30*time.Second),
		MaxDequeue:        r.envInt("INGEST_MAX_DEQUEUE", 5),
	}
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.ConnectionString == "" {
		r.errs = append(r.errs, "STORAGE_CONNECTION_STRING is required for the ingest queue")
	}
	return cfg, r.err()
}

// Debug reports whether DEBUG is set to a true value.
func Debug() bool {
	dbg, err := strconv.ParseBool(os.Getenv("DEBUG"))
	return err == nil && dbg
}

// RedisOptions parses a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
