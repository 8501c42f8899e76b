// Package queue defines message payloads exchanged over the message broker
// and the publisher that delivers them.
package queue

// DefaultRepairQueue is the queue repair notifications are published to
// when none is configured.
const DefaultRepairQueue = "batch.status.repaired"

// Repair kinds carried by BatchRepairedEvent.Kind
const (
	RepairKindStatus       = "status"
	RepairKindAvailability = "availability"
)

// BatchRepairedEvent is published after a repair has been written to a
// batch. Consumers can refresh caches or listings without re-reading the
// database.
type BatchRepairedEvent struct {
	MessageID       string `json:"message_id"`
	Kind            string `json:"kind"`
	BatchID         string `json:"batch_id"`
	EventID         string `json:"event_id"`
	Title           string `json:"title"`
	StatusBefore    string `json:"status_before"`
	StatusAfter     string `json:"status_after"`
	AvailableBefore int    `json:"available_before"`
	AvailableAfter  int    `json:"available_after"`
	RepairedAt      string `json:"repaired_at"`
}
