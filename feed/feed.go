package feed

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

// EventType names a change feed event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventUpdate    EventType = "order_update"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
)

// Source reads overlay rows written after a point in time.
type Source interface {
	GetChangedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.CardState, error)
}

// Config tunes the polling loop.
type Config struct {
	PollInterval  time.Duration
	Lookback      time.Duration
	SkewAllowance time.Duration
	// DedupeSize presizes each subscriber's seen set. It is not a cap: the
	// set holds every change inside the current query window.
	DedupeSize    int
}

// DefaultConfig returns the stock feed settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:  3 * time.Second,
		Lookback:      2 * time.Minute,
		SkewAllowance: 5 * time.Second,
		DedupeSize:    100,
	}
}

// Change describes one overlay row update.
type Change struct {
	CardID          string           `json:"cardId"`
	UpstreamOrderID string           `json:"upstreamOrderId,omitempty"`
	DeliveryDate    string           `json:"deliveryDate"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	State           domain.CardState `json:"state"`
}

// Event is one message on a live subscription.
type Event struct {
	Type       EventType `json:"type"`
	Checkpoint time.Time `json:"checkpoint"`
	Change     *Change   `json:"change,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ChangeSet is the pull endpoint response.
type ChangeSet struct {
	Since      time.Time `json:"since"`
	Checkpoint time.Time `json:"checkpoint"`
	Truncated  bool      `json:"truncated"`
	Changes    []Change  `json:"changes"`
}

// Service runs change feed subscriptions against a Source.
type Service struct {
	src    Source
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a Service. Zero config fields take their defaults.
func NewService(src Source, cfg Config, logger *log.Logger) *Service {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.SkewAllowance < 0 {
		cfg.SkewAllowance = 0
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = def.DedupeSize
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{src: src, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// window returns the query lower bound for a checkpoint and whether it was
// clamped to the lookback floor.
func (s *Service) window(checkpoint, now time.Time) (time.Time, bool) {
	since := checkpoint.Add(-s.cfg.SkewAllowance)
	floor := now.Add(-s.cfg.Lookback)
	if since.Before(floor) {
		return floor, true
	}
	return since, false
}

func changeKey(st domain.CardState) string {
	return st.CardID + "|" + st.DeliveryDate + "|" + strconv.FormatInt(st.UpdatedAt.UnixNano(), 10)
}

func toChange(st domain.CardState) Change {
	c := Change{CardID: st.CardID, DeliveryDate: st.DeliveryDate, UpdatedAt: st.UpdatedAt, State: st}
	if upstream, _, _, ok := domain.ParseCardID(st.CardID); ok {
		c.UpstreamOrderID = upstream
	}
	return c
}

// oldestFirst orders rows by updatedAt ascending.
func oldestFirst(rows []domain.CardState) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].UpdatedAt.Before(rows[j].UpdatedAt) })
}

// Subscribe starts a polling loop for one subscriber. The returned channel
// is closed once ctx is cancelled and the loop has exited.
func (s *Service) Subscribe(ctx context.Context, tenantID string) <-chan Event {
	out := make(chan Event, 16)
	go s.run(ctx, tenantID, out)
	return out
}

func (s *Service) run(ctx context.Context, tenantID string, out chan<- Event) {
	defer close(out)
	entry := s.logger.WithField("tenant", tenantID)
	seen := newSeenSet(s.cfg.DedupeSize)
	checkpoint := s.now()
	if !send(ctx, out, Event{Type: EventConnected, Checkpoint: checkpoint}) {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := s.now()
		since, _ := s.window(checkpoint, now)
		rows, err := s.src.GetChangedSince(ctx, tenantID, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			entry.WithError(err).Warn("change feed poll failed")
			if !send(ctx, out, Event{Type: EventError, Checkpoint: checkpoint, Error: "change feed temporarily unavailable"}) {
				return
			}
			timer.Reset(s.cfg.PollInterval)
			continue
		}

		seen.prune(since)
		oldestFirst(rows)
		emitted := 0
		for _, st := range rows {
			if !seen.add(changeKey(st), st.UpdatedAt) {
				continue
			}
			ch := toChange(st)
			if !send(ctx, out, Event{Type: EventUpdate, Checkpoint: now, Change: &ch}) {
				return
			}
			emitted++
		}
		checkpoint = now
		if emitted == 0 && !send(ctx, out, Event{Type: EventHeartbeat, Checkpoint: checkpoint}) {
			return
		}
		timer.Reset(s.cfg.PollInterval)
	}
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ErrInvalidSince is returned for a since timestamp in the future.
var ErrInvalidSince = errors.New("since is in the future")

// Changes returns overlay rows changed after since, oldest first, with one
// entry per card and date. Truncated is set when since predates the lookback
// floor and older changes may be missing.
func (s *Service) Changes(ctx context.Context, tenantID string, since time.Time) (ChangeSet, error) {
	now := s.now()
	if since.After(now.Add(s.cfg.SkewAllowance)) {
		return ChangeSet{}, ErrInvalidSince
	}
	lower, truncated := s.window(since, now)
	rows, err := s.src.GetChangedSince(ctx, tenantID, lower)
	if err != nil {
		return ChangeSet{}, err
	}

	latest := make(map[string]domain.CardState, len(rows))
	for _, st := range rows {
		k := st.CardID + "|" + st.DeliveryDate
		if cur, ok := latest[k]; !ok || st.UpdatedAt.After(cur.UpdatedAt) {
			latest[k] = st
		}
	}
	unique := make([]domain.CardState, 0, len(latest))
	for _, st := range latest {
		unique = append(unique, st)
	}
	sort.Slice(unique, func(i, j int) bool {
		if !unique[i].UpdatedAt.Equal(unique[j].UpdatedAt) {
			return unique[i].UpdatedAt.Before(unique[j].UpdatedAt)
		}
		return unique[i].CardID < unique[j].CardID
	})

	set := ChangeSet{Since: since, Checkpoint: now, Truncated: truncated, Changes: make([]Change, 0, len(unique))}
	for _, st := range unique {
		set.Changes = append(set.Changes, toChange(st))
	}
	return set, nil
}
