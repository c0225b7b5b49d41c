package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	requestEventName   = "board.request.metrics"
	requestEventDomain = "order-board"

	attrHTTPStatusCode = "http.status_code"
	attrHTTPRoute      = "http.route"
	attrTotalMillis    = "board.request.total_ms"
	attrAuthMillis     = "board.request.auth_ms"
	attrServiceMillis  = "board.request.service_ms"
	attrItems          = "board.request.items"
	attrErrorStage     = "board.request.error_stage"
)

type logRecord struct {
	EventName      string         `json:"event.name"`
	EventDomain    string         `json:"event.domain"`
	SeverityText   string         `json:"severity_text"`
	SeverityNumber int            `json:"severity_number"`
	Attributes     map[string]any `json:"attributes"`
}

type collector struct {
	eventName   string
	eventDomain string
	stats       metricsSummary
	skipped     int
}

type metricsSummary struct {
	Count          int
	SeverityCounts map[string]int
	StatusCounts   map[int]int
	RouteCounts    map[string]int
	Durations      map[string]*numericStats
	Items          *numericStats
	ErrorStages    map[string]int
	ErrorEvents    int
	WarnEvents     int
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

type durationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

type numericSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type summaryOutput struct {
	EventName      string                     `json:"event_name"`
	EventDomain    string                     `json:"event_domain"`
	TotalEvents    int                        `json:"total_events"`
	SeverityCounts map[string]int             `json:"severity_counts"`
	StatusCounts   map[string]int             `json:"status_counts"`
	RouteCounts    map[string]int             `json:"route_counts"`
	DurationMs     map[string]durationSummary `json:"duration_ms"`
	Items          numericSummary             `json:"items"`
	ErrorStages    map[string]int             `json:"error_stages,omitempty"`
	ErrorEvents    int                        `json:"error_events"`
	WarnEvents     int                        `json:"warn_events"`
	SkippedLines   int                        `json:"skipped_lines"`
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		stats: metricsSummary{
			SeverityCounts: make(map[string]int),
			StatusCounts:   make(map[int]int),
			RouteCounts:    make(map[string]int),
			Durations:      make(map[string]*numericStats),
			ErrorStages:    make(map[string]int),
		},
	}
}

// ingest parses one log line. Container runtimes may prefix lines with
// "name |", which is stripped.
func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}

	rec, err := decodeRecord(trimmed)
	if err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName {
		return
	}
	if c.eventDomain != "" && rec.EventDomain != c.eventDomain {
		return
	}
	c.addRecord(rec)
}

func decodeRecord(raw string) (logRecord, error) {
	var rec logRecord
	dec := sonic.ConfigStd.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return logRecord{}, err
	}
	return rec, nil
}

var durationAttrs = map[string]string{
	attrTotalMillis:   "total",
	attrAuthMillis:    "auth",
	attrServiceMillis: "service",
}

func (c *collector) addRecord(rec logRecord) {
	c.stats.Count++

	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.stats.SeverityCounts[severity]++
	switch severity {
	case "ERROR":
		c.stats.ErrorEvents++
	case "WARN", "WARNING":
		c.stats.WarnEvents++
	}

	if rec.Attributes == nil {
		return
	}
	if status, ok := asInt(rec.Attributes[attrHTTPStatusCode]); ok {
		c.stats.StatusCounts[status]++
	}
	if route, ok := rec.Attributes[attrHTTPRoute].(string); ok && route != "" {
		c.stats.RouteCounts[route]++
	}
	for attr, key := range durationAttrs {
		if v, ok := asFloat(rec.Attributes[attr]); ok {
			c.stats.addDuration(key, v)
		}
	}
	if v, ok := asFloat(rec.Attributes[attrItems]); ok {
		if c.stats.Items == nil {
			c.stats.Items = newNumericStats()
		}
		c.stats.Items.add(v)
	}
	if stage, ok := rec.Attributes[attrErrorStage].(string); ok && stage != "" {
		c.stats.ErrorStages[stage]++
	}
}

func (s *metricsSummary) addDuration(key string, value float64) {
	stat, ok := s.Durations[key]
	if !ok {
		stat = newNumericStats()
		s.Durations[key] = stat
	}
	stat.add(value)
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(value float64) {
	n.Count++
	n.Sum += value
	if value < n.Min {
		n.Min = value
	}
	if value > n.Max {
		n.Max = value
	}
}

func (n *numericStats) summarize() numericSummary {
	if n == nil || n.Count == 0 {
		return numericSummary{}
	}
	return numericSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

func (c *collector) summary() summaryOutput {
	durations := make(map[string]durationSummary, len(c.stats.Durations))
	for key, stat := range c.stats.Durations {
		s := stat.summarize()
		durations[key] = durationSummary{Count: s.Count, Min: s.Min, Max: s.Max, Avg: s.Avg}
	}
	statusCounts := make(map[string]int, len(c.stats.StatusCounts))
	for status, count := range c.stats.StatusCounts {
		statusCounts[strconv.Itoa(status)] = count
	}
	var stages map[string]int
	if len(c.stats.ErrorStages) > 0 {
		stages = c.stats.ErrorStages
	}
	return summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.stats.Count,
		SeverityCounts: c.stats.SeverityCounts,
		StatusCounts:   statusCounts,
		RouteCounts:    c.stats.RouteCounts,
		DurationMs:     durations,
		Items:          c.stats.Items.summarize(),
		ErrorStages:    stages,
		ErrorEvents:    c.stats.ErrorEvents,
		WarnEvents:     c.stats.WarnEvents,
		SkippedLines:   c.skipped,
	}
}

func (s summaryOutput) ShortString() string {
	total := s.DurationMs["total"]
	return strings.Join([]string{
		"event=" + s.EventName,
		"domain=" + s.EventDomain,
		"total=" + strconv.Itoa(s.TotalEvents),
		"info=" + strconv.Itoa(s.SeverityCounts["INFO"]),
		"warn=" + strconv.Itoa(s.WarnEvents),
		"error=" + strconv.Itoa(s.ErrorEvents),
		"avg_total_ms=" + formatFloat(total.Avg),
		"max_total_ms=" + formatFloat(total.Max),
	}, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	default:
		return 0, false
	}
}
