package twitch

import "sync"

// ACLChannelData is one entry of a campaign's allow-list.
type ACLChannelData struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// DirectoryStreamData is one stream node of a game directory page.
type DirectoryStreamData struct {
	ID           ID               `json:"id"`
	Title        string           `json:"title"`
	ViewersCount int              `json:"viewersCount"`
	Game         *GameData        `json:"game"`
	Broadcaster  *BroadcasterData `json:"broadcaster"`
}

// BroadcasterData identifies the channel behind a directory stream node.
type BroadcasterData struct {
	ID          ID     `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
}

// StreamInfoData is the data.user payload of the stream info operation.
// A nil Stream means the channel is offline.
type StreamInfoData struct {
	ID                ID                    `json:"id"`
	Login             string                `json:"login"`
	DisplayName       string                `json:"displayName"`
	Stream            *StreamData           `json:"stream"`
	BroadcastSettings BroadcastSettingsData `json:"broadcastSettings"`
}

// StreamData is the stream object of a stream info payload.
type StreamData struct {
	ID           ID        `json:"id"`
	Type         string    `json:"type"`
	ViewersCount int       `json:"viewersCount"`
	Game         *GameData `json:"game"`
}

// BroadcastSettingsData carries the title and game a broadcaster configured.
type BroadcastSettingsData struct {
	Title string    `json:"title"`
	Game  *GameData `json:"game"`
}

// Stream is one live broadcast on a channel. BroadcastID, Game, Title and
// DropsEnabled are fixed for the stream's lifetime; the viewer count and
// the cached watch URL are guarded by the owning channel's lock.
type Stream struct {
	BroadcastID  int64
	Game         *Game
	Title        string
	DropsEnabled bool

	viewers  int
	watchURL string
}

// NewStreamFromDirectory builds a Stream from a directory node. The
// directory is queried with the drops filter, so dropsEnabled reflects the
// filter used.
func NewStreamFromDirectory(data DirectoryStreamData, dropsEnabled bool) *Stream {
	var game *Game
	if data.Game != nil {
		game = NewGame(*data.Game)
	}
	return &Stream{
		BroadcastID:  data.ID.Int64(),
		Game:         game,
		Title:        data.Title,
		DropsEnabled: dropsEnabled,
		viewers:      data.ViewersCount,
	}
}

// NewStreamFromInfo builds a Stream from a stream info payload, or nil when
// the payload reports the channel offline. The broadcast settings carry the
// authoritative game; the stream object is the fallback.
func NewStreamFromInfo(data StreamInfoData, dropsEnabled bool) *Stream {
	if data.Stream == nil {
		return nil
	}
	gameData := data.BroadcastSettings.Game
	if gameData == nil {
		gameData = data.Stream.Game
	}
	var game *Game
	if gameData != nil {
		game = NewGame(*gameData)
	}
	return &Stream{
		BroadcastID:  data.Stream.ID.Int64(),
		Game:         game,
		Title:        data.BroadcastSettings.Title,
		DropsEnabled: dropsEnabled,
		viewers:      data.Stream.ViewersCount,
	}
}

// Channel is a tracked broadcaster. Identity fields are immutable; the
// current stream (nil while offline) and the pending-check flag are guarded
// by mu. Channels enter tracking either through a campaign allow-list or a
// directory query, and leave it at scheduler cleanup.
type Channel struct {
	ID       int64
	Login    string
	Name     string
	ACLBased bool

	mu           sync.Mutex
	stream       *Stream
	checkPending bool
}

// NewChannelFromACL builds an offline channel from an allow-list entry.
// Its online status is established later by a bulk status check.
func NewChannelFromACL(data ACLChannelData) *Channel {
	name := data.DisplayName
	if name == "" {
		name = data.Name
	}
	return &Channel{
		ID:       data.ID.Int64(),
		Login:    data.Name,
		Name:     name,
		ACLBased: true,
	}
}

// NewChannelFromDirectory builds a live channel from a directory node.
// Returns false when the node carries no broadcaster and must be skipped.
func NewChannelFromDirectory(data DirectoryStreamData, dropsEnabled bool) (*Channel, bool) {
	if data.Broadcaster == nil {
		return nil, false
	}
	name := data.Broadcaster.DisplayName
	if name == "" {
		name = data.Broadcaster.Login
	}
	ch := &Channel{
		ID:     data.Broadcaster.ID.Int64(),
		Login:  data.Broadcaster.Login,
		Name:   name,
		stream: NewStreamFromDirectory(data, dropsEnabled),
	}
	return ch, true
}

// Online reports whether the channel currently has a stream.
func (ch *Channel) Online() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.stream != nil
}

// Stream returns the current stream, or nil while offline.
func (ch *Channel) Stream() *Stream {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.stream
}

// SetStream installs a new stream (nil marks the channel offline) and
// returns the one it replaced.
func (ch *Channel) SetStream(s *Stream) (before *Stream) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	before, ch.stream = ch.stream, s
	return before
}

// Game returns the game being streamed, or nil while offline or when the
// stream has no category.
func (ch *Channel) Game() *Game {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return nil
	}
	return ch.stream.Game
}

// Viewers returns the current viewer count. ok is false while offline.
func (ch *Channel) Viewers() (viewers int, ok bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return 0, false
	}
	return ch.stream.viewers, true
}

// SetViewers updates the viewer count from a viewcount event. No-op while
// offline.
func (ch *Channel) SetViewers(v int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream != nil {
		ch.stream.viewers = v
	}
}

// DropsEnabled reports whether the current stream participates in drops.
func (ch *Channel) DropsEnabled() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.stream != nil && ch.stream.DropsEnabled
}

// WatchURL returns the cached heartbeat URL for the current stream, or "".
func (ch *Channel) WatchURL() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream == nil {
		return ""
	}
	return ch.stream.watchURL
}

// SetWatchURL caches the heartbeat URL on the current stream. The cache
// dies with the stream, so a new broadcast resolves a fresh URL.
func (ch *Channel) SetWatchURL(u string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stream != nil {
		ch.stream.watchURL = u
	}
}

// BeginOnlineCheck marks a pending delayed status check. Returns false when
// one is already scheduled, coalescing bursts of stream events into a
// single check.
func (ch *Channel) BeginOnlineCheck() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.checkPending {
		return false
	}
	ch.checkPending = true
	return true
}

// EndOnlineCheck clears the pending-check flag.
func (ch *Channel) EndOnlineCheck() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.checkPending = false
}

func (ch *Channel) String() string { return ch.Name }
