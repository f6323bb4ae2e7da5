package domain

import "time"

// FulfillmentEventType names an event published after a fulfillment write succeeds.
type FulfillmentEventType string

const (
	EventLedgerUpdated   FulfillmentEventType = "fulfillment.ledger.updated"
	EventPhaseCompleted  FulfillmentEventType = "fulfillment.phase.completed"
	EventBottlesMerged   FulfillmentEventType = "fulfillment.bottles.merged"
	EventBottleDiscarded FulfillmentEventType = "fulfillment.bottle.discarded"
)

// FulfillmentEvent is the payload published to the events topic.
type FulfillmentEvent struct {
	Type       FulfillmentEventType `json:"type"`
	CartID     string               `json:"cartId"`
	Phase      ProcessPhase         `json:"phase,omitempty"`
	Status     CartStatus           `json:"status,omitempty"`
	Operator   string               `json:"operator,omitempty"`
	Ledger     []LedgerEntry        `json:"ledger,omitempty"`
	Details    map[string]any       `json:"details,omitempty"`
	OccurredAt time.Time            `json:"occurredAt"`
}
