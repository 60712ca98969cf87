package serialmux

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	EventTypeSample  = "sample"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a payload string and returns a simple event type
// token. Sample lines are "uptime_ms,counts" CSV pairs; status responses
// from the board are JSON objects. The classification is intentionally
// conservative.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "{") {
		return EventTypeStatus
	}
	if _, _, err := ParseSampleLine(payload); err == nil {
		return EventTypeSample
	}
	return EventTypeUnknown
}

// ParseSampleLine parses a "uptime_ms,counts" sample line from the sensor
// board into the board uptime in milliseconds and the raw ADC reading.
func ParseSampleLine(payload string) (uptimeMS uint64, counts int, err error) {
	segments := strings.Split(strings.TrimSpace(payload), ",")
	if len(segments) != 2 {
		return 0, 0, fmt.Errorf("expected 2 fields, got %d", len(segments))
	}

	uptimeMS, err = strconv.ParseUint(strings.TrimSpace(segments[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse uptime: %v", err)
	}

	counts, err = strconv.Atoi(strings.TrimSpace(segments[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse counts: %v", err)
	}

	return uptimeMS, counts, nil
}
