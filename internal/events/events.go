package events

import "context"

// StreamSettlement carries every settlement event; payload["player_id"]
// addresses the player the event belongs to.
const StreamSettlement = "events:settlement"

// Event types
const (
	EventSignRequest      = "sign_request"
	EventPaymentSubmitted = "payment_submitted"
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentFailed    = "payment_failed"
	EventListingsChanged  = "listings_changed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// PlayerID returns the addressee of e, or "" for broadcast events.
func (e Event) PlayerID() string {
	id, _ := e.Payload["player_id"].(string)
	return id
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
