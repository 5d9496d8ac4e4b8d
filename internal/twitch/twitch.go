// Package twitch holds the domain model of the mining core: games, benefits,
// timed drops, campaigns, channels and streams, together with the platform
// constants that bound watching behavior. Entities are built from the GQL
// payload structs defined alongside them and expose the eligibility and
// progress arithmetic the scheduler, the watch loop and the message handlers
// act on.
package twitch

import (
	"bytes"
	"strconv"
	"time"

	"github.com/driftwatch/driftwatch/internal/pubsub"
)

const (
	// MaxExtraMinutes bounds the estimated minutes a drop may accrue while
	// the platform stops pushing progress updates. Reaching it invalidates
	// the drop's earnable status until the next inventory reload.
	MaxExtraMinutes = 15

	// MaxChannels is how many channels the scheduler may track at once.
	// Every tracked channel occupies two pubsub topics.
	MaxChannels = pubsub.MaxTopics / 2

	// OnlineDelay is how long a channel status check is postponed after a
	// stream-up or settings-update event. The platform needs time before
	// its API reflects the change.
	OnlineDelay = 120 * time.Second

	// WatchInterval is the spacing between two watch heartbeats. One minute
	// of credit accrues per heartbeat; staying just under it keeps the
	// minute counter moving.
	WatchInterval = 59 * time.Second
)

// ID is a numeric identifier that the GQL API serves inconsistently as
// either a JSON number or a quoted string.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

func (id ID) Int64() int64 { return int64(id) }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }
