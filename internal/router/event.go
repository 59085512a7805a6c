// Package router implements the tiered router (C3): a long-running process
// that pulls from the single ingress consumer, classifies each storage
// event by declared byte size, and republishes it to the tier-specific
// subject.
package router

import (
	"encoding/json"
	"fmt"
)

// StorageEvent is the message traversing C2 -> C3 -> C4.
type StorageEvent struct {
	EventType   string  `json:"event_type"`
	Path        string  `json:"path"`
	TenantID    string  `json:"tenant_id"`
	Size        int64   `json:"size"`
	ContentType string  `json:"content_type"`
	Timestamp   float64 `json:"timestamp"`
	Source      string  `json:"source,omitempty"`
}

const (
	mib = 1 << 20
	gib = 1 << 30

	smallMediumBoundary = 100 * mib
	mediumLargeBoundary = gib
)

// Tier names used both as broker.TopologyEntry.Name values and as the
// storage-worker --tier flag.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
)

// ParseStorageEvent decodes and validates the required fields of a storage
// event. A missing or negative size is a validation failure, reported back
// to the caller so it can NAK the message for redelivery rather than
// silently drop it.
func ParseStorageEvent(data []byte) (StorageEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return StorageEvent{}, fmt.Errorf("decode storage event: %w", err)
	}

	sizeRaw, ok := raw["size"]
	if !ok {
		return StorageEvent{}, fmt.Errorf("storage event missing required field %q", "size")
	}
	var size int64
	if err := json.Unmarshal(sizeRaw, &size); err != nil {
		return StorageEvent{}, fmt.Errorf("storage event field %q is not an integer: %w", "size", err)
	}
	if size < 0 {
		return StorageEvent{}, fmt.Errorf("storage event field %q must be non-negative, got %d", "size", size)
	}

	var ev StorageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StorageEvent{}, fmt.Errorf("decode storage event: %w", err)
	}
	ev.Size = size
	return ev, nil
}

// Classify maps a byte size onto a tier per the binary MiB/GiB boundaries:
// size < 100 MiB -> small, 100 MiB <= size < 1 GiB -> medium, size >= 1 GiB
// -> large. The boundaries themselves round up: exactly 100 MiB is medium,
// exactly 1 GiB is large.
func Classify(size int64) string {
	switch {
	case size < smallMediumBoundary:
		return TierSmall
	case size < mediumLargeBoundary:
		return TierMedium
	default:
		return TierLarge
	}
}
