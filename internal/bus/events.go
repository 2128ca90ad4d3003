package bus

import "time"

type EventKind string

const (
	EventReplied   EventKind = "replied"
	EventForbidden EventKind = "forbidden"
	EventFailed    EventKind = "failed"
	EventRemoved   EventKind = "removed"
	EventRefused   EventKind = "refused"
)

// Event is something an operator may want to hear about.
type Event struct {
	Kind      EventKind
	Author    string
	Permalink string
	Detail    string
	Timestamp time.Time
}
