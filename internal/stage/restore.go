package stage

import (
	"errors"
	"fmt"

	"github.com/AaronLay10/linkstage/internal/storage/postgres"
)

// ErrHistoryTruncated means the persisted window no longer holds the insert
// that placed some surviving node.
var ErrHistoryTruncated = errors.New("chain history truncated")

// EventSource reads persisted chain events, oldest first.
type EventSource interface {
	QueryNamed(names []string, limit int) ([]postgres.EventRow, error)
}

// RestoreLabels replays the newest limit chain.inserted and chain.removed
// events and returns the labels of the resulting chain.
func RestoreLabels(src EventSource, limit int) ([]string, error) {
	rows, err := src.QueryNamed([]string{"chain.inserted", "chain.removed"}, limit)
	if err != nil {
		return nil, fmt.Errorf("query chain events: %w", err)
	}
	return ReplayLabels(rows)
}

// ReplayLabels rebuilds the chain from a suffix of its history. Every
// mutation records the chain length after it commits, so the last row fixes
// the final length; the node at slot i is the one from the newest insert at
// i. If the window lacks an insert for some slot below the final length,
// the labels before that slot are returned with ErrHistoryTruncated.
func ReplayLabels(rows []postgres.EventRow) ([]string, error) {
	latest := make(map[int]string)
	length := 0
	for _, r := range rows {
		noop, _ := r.Fields["noop"].(bool)
		if r.Event == "chain.removed" && noop {
			length = 0
			continue
		}
		index, ok := intField(r.Fields, "index")
		if !ok {
			return nil, fmt.Errorf("event %d: %s without index", r.EventID, r.Event)
		}
		switch r.Event {
		case "chain.inserted":
			latest[index], _ = r.Fields["label"].(string)
			length = index + 1
		case "chain.removed":
			length = index
		}
		if n, ok := intField(r.Fields, "length"); ok {
			length = n
		}
	}

	labels := make([]string, 0, length)
	for i := 0; i < length; i++ {
		label, ok := latest[i]
		if !ok {
			return labels, fmt.Errorf("slot %d of %d: %w", i, length, ErrHistoryTruncated)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// intField reads a number decoded from JSONB (float64) or set in process (int).
func intField(fields map[string]interface{}, key string) (int, bool) {
	switch v := fields[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
