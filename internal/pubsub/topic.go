package pubsub

import (
	"encoding/json"
	"fmt"
)

// Template names a PubSub stream. User-scoped templates are keyed by the
// authenticated user id, channel-scoped templates by the channel id.
type Template string

const (
	UserDrops           Template = "user-drop-events"
	UserNotifications   Template = "onsite-notifications"
	ChannelStreamState  Template = "video-playback-by-id"
	ChannelStreamUpdate Template = "broadcast-settings-update"
)

// TopicName renders the wire form of a subscription: "<template>.<target_id>".
func TopicName(tpl Template, targetID int64) string {
	return fmt.Sprintf("%s.%d", tpl, targetID)
}

// Handler processes one decoded message for a topic. It is always invoked on
// a fresh goroutine so a slow handler cannot stall the receive loop.
type Handler func(targetID int64, payload json.RawMessage)

// Topic pairs a subscription name with its handler. Topics are compared by
// name; registering the same name twice on a Pool is a no-op for the second
// copy.
type Topic struct {
	name     string
	targetID int64
	handler  Handler
}

// NewTopic builds a Topic for tpl scoped to targetID.
func NewTopic(tpl Template, targetID int64, handler Handler) *Topic {
	return &Topic{
		name:     TopicName(tpl, targetID),
		targetID: targetID,
		handler:  handler,
	}
}

// Name returns the wire form of the subscription.
func (t *Topic) Name() string { return t.name }

// Dispatch runs the handler with the topic's target id.
func (t *Topic) Dispatch(payload json.RawMessage) {
	t.handler(t.targetID, payload)
}

func (t *Topic) String() string { return t.name }
