package status

import "time"

// StatusEvent is the unit of record and of broadcast: one accepted
// status change for one user. Immutable once constructed.
type StatusEvent struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}
