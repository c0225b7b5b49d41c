package board

import (
	"regexp"
	"strconv"
	"strings"
)

// Window is a coarse delivery-time bucket.
type Window string

const (
	Morning     Window = "Morning"
	Midday      Window = "Midday"
	Afternoon   Window = "Afternoon"
	Night       Window = "Night"
	Unscheduled Window = "Unscheduled"
)

// WindowOrder is the display order of windows inside a store container.
var WindowOrder = []Window{Morning, Midday, Afternoon, Night, Unscheduled}

type windowRule struct {
	window   Window
	patterns []string
}

// Patterns are compared against tags lowercased with whitespace removed.
var windowRules = []windowRule{
	{window: Morning, patterns: []string{"morning", "10:00-13:00", "10:00-14:00", "10am-1pm", "10am-2pm"}},
	{window: Midday, patterns: []string{"midday", "11:00-15:00", "11am-3pm"}},
	{window: Afternoon, patterns: []string{"afternoon", "14:00-16:00", "14:00-18:00", "2pm-4pm", "2pm-6pm"}},
	{window: Night, patterns: []string{"night", "evening", "18:00-22:00", "6pm-10pm"}},
}

// WindowFromTags matches order tags against the fixed window rules.
func WindowFromTags(tags []string) (Window, bool) {
	for _, tag := range tags {
		norm := strings.ToLower(strings.Join(strings.Fields(tag), ""))
		if norm == "" {
			continue
		}
		for _, r := range windowRules {
			for _, p := range r.patterns {
				if strings.Contains(norm, p) {
					return r.window, true
				}
			}
		}
	}
	return "", false
}

var slotStartRe = regexp.MustCompile(`(?i)^\s*(\d{1,2}):(\d{2})\s*(am|pm)?`)

// WindowFromSlot buckets an express slot by its starting hour.
func WindowFromSlot(slot string) (Window, bool) {
	m := slotStartRe.FindStringSubmatch(slot)
	if m == nil {
		return "", false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return "", false
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	switch {
	case hour < 11:
		return Morning, true
	case hour < 14:
		return Midday, true
	case hour < 18:
		return Afternoon, true
	default:
		return Night, true
	}
}

// ResolveWindow applies tag rules, then the express slot, then falls back to
// Unscheduled.
func ResolveWindow(tags []string, expressSlot string) Window {
	if w, ok := WindowFromTags(tags); ok {
		return w
	}
	if w, ok := WindowFromSlot(expressSlot); ok {
		return w
	}
	return Unscheduled
}
