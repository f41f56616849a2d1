package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"
)

type outcome int

const (
	outcomeUnknown outcome = iota
	outcomeCompleted
	outcomeFailed
)

// event is the provider-neutral reading of one delivery.
type event struct {
	outcome       outcome
	correlationID string
	resultURL     string
	message       string
	raw           string // provider's own event or status label
}

func decode(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// pick returns the first non-empty string among keys.
func pick(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// parseHeyGen reads avatar render callbacks. Fields may sit at the top level
// or under event_data.
func parseHeyGen(doc map[string]any) event {
	data := doc
	if nested, ok := doc["event_data"].(map[string]any); ok {
		data = nested
	}
	ev := event{
		correlationID: pick(data, "video_id", "videoId"),
		resultURL:     pick(data, "url", "video_url", "videoUrl"),
		message:       pick(data, "msg", "message", "error"),
		raw:           pick(doc, "event_type", "type", "status"),
	}
	if ev.raw == "" {
		ev.raw = pick(data, "status")
	}
	label := strings.ToLower(ev.raw)
	switch {
	case strings.Contains(label, "success"), label == "completed":
		ev.outcome = outcomeCompleted
	case strings.Contains(label, "fail"), label == "error":
		ev.outcome = outcomeFailed
	case label == "" && ev.resultURL != "":
		ev.outcome = outcomeCompleted
	}
	return ev
}

// parseSubmagic reads caption project callbacks.
func parseSubmagic(doc map[string]any) event {
	ev := event{
		correlationID: pick(doc, "projectId", "id"),
		resultURL:     pick(doc, "downloadUrl", "videoUrl", "url"),
		message:       pick(doc, "error", "message", "failureReason"),
		raw:           pick(doc, "status", "event"),
	}
	switch strings.ToLower(ev.raw) {
	case "completed", "complete", "done", "success":
		ev.outcome = outcomeCompleted
	case "failed", "fail", "error":
		ev.outcome = outcomeFailed
	case "":
		if ev.resultURL != "" {
			ev.outcome = outcomeCompleted
		}
	}
	return ev
}
