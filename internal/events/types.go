package events

import "time"

// Event enumerates the topics published inside the bot.
type Event string

const (
	EventSignal          Event = "signal"
	EventPositionOpened  Event = "position.opened"
	EventPositionReduced Event = "position.reduced"
	EventPositionClosed  Event = "position.closed"
	EventPositionUpdated Event = "position.updated"
	EventRiskAlert       Event = "risk.alert"
	EventCycle           Event = "cycle"
	EventError           Event = "error"
)

// All lists every topic, for subscribers that want the full stream.
var All = []Event{
	EventSignal,
	EventPositionOpened,
	EventPositionReduced,
	EventPositionClosed,
	EventPositionUpdated,
	EventRiskAlert,
	EventCycle,
	EventError,
}

// Message is what subscribers receive.
type Message struct {
	Event   Event     `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}
