// Package messenger describes the messaging-backend session as seen by the
// notifier and the supervisor. Adapters (telegram) implement it.
package messenger

import (
	"context"
	"time"
)

// MaxFields is the largest number of fields one structured message may carry.
const MaxFields = 25

// Field is one labelled block of a structured message.
type Field struct {
	Label  string
	Body   string
	Inline bool
}

// Message is a structured announcement.
type Message struct {
	Title       string
	Description string
	Timestamp   time.Time
	Fields      []Field
}

// Channel is a resolved destination.
type Channel interface {
	SendStructured(ctx context.Context, msg Message) error
	SendText(ctx context.Context, text string) error
}

// Session is a borrowed handle to a live backend connection.
// Holders may check liveness and send; they never open or close it.
type Session interface {
	IsLive() bool
	// ResolveChannel returns nil (and no error) when the id does not resolve.
	ResolveChannel(ctx context.Context, id string) (Channel, error)
}

// Observers are notified about session state transitions.
// They are registered before the session is opened.
type Observers struct {
	OnConnected    func()
	OnDisconnected func(err error)
}

// Connected calls OnConnected when set.
func (o Observers) Connected() {
	if o.OnConnected != nil {
		o.OnConnected()
	}
}

// Disconnected calls OnDisconnected when set.
func (o Observers) Disconnected(err error) {
	if o.OnDisconnected != nil {
		o.OnDisconnected(err)
	}
}
