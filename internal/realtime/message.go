package realtime

import "time"

type Event string

const (
	EventProductState  Event = "product_state"
	EventSIPState      Event = "sip_state"
	EventChainStarted  Event = "chain_started"
	EventChainFinished Event = "chain_finished"
	EventJobCreated    Event = "job_created"
	EventJobProgress   Event = "job_progress"
	EventJobFailed     Event = "job_failed"
	EventJobDone       Event = "job_done"
)

// Message is one notification. Channel is the chain label; subscribers filter on it.
type Message struct {
	Channel string         `json:"channel"`
	Event   Event          `json:"event"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}
