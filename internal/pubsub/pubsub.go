// Package pubsub maintains the persistent websocket connections that deliver
// drop progress, claim availability, stream state and on-site notification
// events. A Pool spreads topic subscriptions over up to MaxWebsockets
// connections, each limited to TopicsLimit topics, and compacts itself when
// subscriptions go away. Every connection runs the same state machine:
// connect, resubscribe, exchange pings, dispatch messages, reconnect on
// failure.
package pubsub

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Endpoint is the production PubSub edge.
const Endpoint = "wss://pubsub-edge.twitch.tv/v1"

const (
	// MaxWebsockets is the most simultaneous connections the edge tolerates
	// per client.
	MaxWebsockets = 8

	// TopicsLimit is the most topics one connection may listen to.
	TopicsLimit = 50

	// BaseTopics is the number of user-scoped topics that are always held
	// (drop events and on-site notifications).
	BaseTopics = 2

	// MaxTopics is the pool-wide topic capacity left for channels.
	MaxTopics = MaxWebsockets*TopicsLimit - BaseTopics

	// PingInterval is the spacing between outgoing PING frames.
	PingInterval = 3 * time.Minute

	// PingTimeout is how long a PONG may take before the connection is
	// considered dead.
	PingTimeout = 10 * time.Second

	// reconnectMax caps the backoff between connection attempts.
	reconnectMax = 3 * time.Minute

	// listenBatch is the most topics one LISTEN or UNLISTEN request carries.
	listenBatch = 10
)

// ErrMaxTopicsExceeded is returned by Pool.AddTopics when topics are left
// over after every connection slot is full. The miner sizes its channel list
// against MaxChannels, so hitting this is a programming error.
var ErrMaxTopicsExceeded = errors.New("pubsub: maximum topics limit reached")

// TokenSource supplies the access token attached to LISTEN and UNLISTEN
// requests. The auth state machine implements it.
type TokenSource interface {
	// AwaitLogin blocks until a validated login exists.
	AwaitLogin(ctx context.Context) error
	// AccessToken returns the current OAuth access token.
	AccessToken() string
}

const nonceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// nonce returns n random characters from [A-Za-z0-9], the format the edge
// expects on every non-PING request.
func nonce(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nonceChars[rand.Intn(len(nonceChars))]
	}
	return string(b)
}
