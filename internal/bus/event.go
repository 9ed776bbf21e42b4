package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces ("chat.message_sent", "presence.online") so subscribers
// can filter by prefix.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
