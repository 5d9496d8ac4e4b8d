package miner

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/pubsub"
	"github.com/driftwatch/driftwatch/internal/retry"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// directoryLimit caps how many live streams a directory query returns.
const directoryLimit = 30

// channelsFetch rebuilds the channel map: channels kept from the last pass,
// the allow lists of earnable campaigns, and directory results for wanted
// games without an allow list. The merged set is ordered by game priority,
// allow-list membership and viewer count, trimmed to the topic budget, and
// swapped in wholesale.
func (m *Miner) channelsFetch(ctx context.Context) error {
	logx.Infof("miner", "gathering channels")
	inventory := m.Inventory()
	wanted := m.WantedGames()

	ordered := m.Channels()
	inSet := make(map[int64]bool, len(ordered))
	for _, ch := range ordered {
		inSet[ch.ID] = true
	}

	now := time.Now()
	nextHour := now.Add(time.Hour)
	var aclChannels []*twitch.Channel
	noACL := make(map[int64]bool)
	for _, campaign := range inventory {
		if !gameIn(wanted, campaign.Game) || !campaign.CanEarnWithin(now, nextHour) {
			continue
		}
		if len(campaign.AllowedChannels) == 0 {
			noACL[campaign.Game.ID] = true
			continue
		}
		for _, ch := range campaign.AllowedChannels {
			if inSet[ch.ID] {
				continue
			}
			inSet[ch.ID] = true
			aclChannels = append(aclChannels, ch)
		}
	}

	m.bulkCheckOnline(ctx, aclChannels)
	ordered = append(ordered, aclChannels...)

	for _, game := range wanted {
		if !noACL[game.ID] {
			continue
		}
		streams, err := m.liveStreams(ctx, game)
		if err != nil {
			// leave the map rebuilt from what we have; the next cycle retries
			logx.Warnf("miner", "live streams for %s: %v", game.Slug, err)
			continue
		}
		for _, ch := range streams {
			if inSet[ch.ID] {
				continue
			}
			inSet[ch.ID] = true
			ordered = append(ordered, ch)
		}
	}

	// Most significant key last: viewers desc, then allow-list first, then
	// game priority.
	slices.SortStableFunc(ordered, func(a, b *twitch.Channel) int {
		return cmp.Compare(viewersKey(b), viewersKey(a))
	})
	slices.SortStableFunc(ordered, func(a, b *twitch.Channel) int {
		return boolDesc(a.ACLBased, b.ACLBased)
	})
	slices.SortStableFunc(ordered, func(a, b *twitch.Channel) int {
		return cmp.Compare(m.priority(a), m.priority(b))
	})

	if len(ordered) > twitch.MaxChannels {
		m.removeChannelTopics(ordered[twitch.MaxChannels:])
		ordered = ordered[:twitch.MaxChannels]
	}

	m.channels.Clear()
	ids := make([]int64, len(ordered))
	for i, ch := range ordered {
		m.channels.Store(ch.ID, ch)
		ids[i] = ch.ID
	}
	m.setOrder(ids)

	topics := make([]*pubsub.Topic, 0, 2*len(ordered))
	for _, ch := range ordered {
		topics = append(topics,
			pubsub.NewTopic(pubsub.ChannelStreamState, ch.ID, m.handler("stream state", m.handleStreamState)),
			pubsub.NewTopic(pubsub.ChannelStreamUpdate, ch.ID, m.handler("stream update", m.handleStreamUpdate)),
		)
	}
	if err := m.cfg.Pool.AddTopics(topics...); err != nil {
		return fmt.Errorf("channel topics: %w", err)
	}

	// Re-link the watched channel to its rebuilt instance so identity
	// comparisons keep working.
	if watching := m.watching.Peek(nil); watching != nil {
		if current, ok := m.channels.Load(watching.ID); ok && m.canWatch(current) {
			m.watch(current, false)
		}
	}
	logx.Infof("miner", "tracking %d channels", len(ordered))
	return nil
}

// liveStreams queries the game directory for live streams with drops
// enabled, most viewers first.
func (m *Miner) liveStreams(ctx context.Context, game *twitch.Game) ([]*twitch.Channel, error) {
	op := gql.Op("GameDirectory").WithVariables(map[string]any{
		"limit": directoryLimit,
		"slug":  game.Slug,
		"options": map[string]any{
			"systemFilters": []any{"DROPS_ENABLED"},
		},
	})
	resp, err := m.cfg.GQL.Request(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("game %q: %w", game.Slug, err)
	}
	var data struct {
		Game *struct {
			Streams struct {
				Edges []struct {
					Node twitch.DirectoryStreamData `json:"node"`
				} `json:"edges"`
			} `json:"streams"`
		} `json:"game"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, fmt.Errorf("game %q: %w", game.Slug, err)
	}
	if data.Game == nil {
		return nil, nil
	}
	channels := make([]*twitch.Channel, 0, len(data.Game.Streams.Edges))
	for _, edge := range data.Game.Streams.Edges {
		if ch, ok := twitch.NewChannelFromDirectory(edge.Node, true); ok {
			channels = append(channels, ch)
		}
	}
	return channels, nil
}

// bulkCheckOnline resolves the live state of allow-list channels in batched
// queries. Channels on an allow list take part in the campaign, so their
// streams count as drops-enabled without a separate check. Failures leave
// the affected channels offline; the next cycle retries.
func (m *Miner) bulkCheckOnline(ctx context.Context, channels []*twitch.Channel) {
	if len(channels) == 0 {
		return
	}
	byLogin := make(map[string]*twitch.Channel, len(channels))
	ops := make([]gql.Operation, len(channels))
	for i, ch := range channels {
		byLogin[ch.Login] = ch
		ops[i] = gql.Op("GetStreamInfo").WithVariables(map[string]any{"channel": ch.Login})
	}
	for start := 0; start < len(ops); start += fetchChunkSize {
		end := min(start+fetchChunkSize, len(ops))
		chunk := ops[start:end:end]
		responses, err := m.cfg.GQL.RequestBatch(ctx, chunk)
		if err != nil {
			logx.Warnf("miner", "bulk online check: %v", err)
			continue
		}
		for _, resp := range responses {
			var data struct {
				User *twitch.StreamInfoData `json:"user"`
			}
			if err := resp.Decode(&data); err != nil {
				logx.Warnf("miner", "bulk online check: %v", err)
				continue
			}
			if data.User == nil {
				continue
			}
			ch, ok := byLogin[data.User.Login]
			if !ok || data.User.Stream == nil {
				continue
			}
			ch.SetStream(twitch.NewStreamFromInfo(*data.User, true))
		}
	}
}

// fetchStream resolves a channel's current stream, nil when offline. Drops
// availability comes from a second query listing the channel's viewer drop
// campaigns.
func (m *Miner) fetchStream(ctx context.Context, ch *twitch.Channel) (*twitch.Stream, error) {
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("GetStreamInfo").WithVariables(map[string]any{
		"channel": ch.Login,
	}))
	if err != nil {
		return nil, err
	}
	var data struct {
		User *twitch.StreamInfoData `json:"user"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	if data.User == nil || data.User.Stream == nil {
		return nil, nil
	}
	dropsEnabled, err := m.availableDrops(ctx, ch)
	if err != nil {
		return nil, err
	}
	return twitch.NewStreamFromInfo(*data.User, dropsEnabled), nil
}

func (m *Miner) availableDrops(ctx context.Context, ch *twitch.Channel) (bool, error) {
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("AvailableDrops").WithVariables(map[string]any{
		"channelID": strconv.FormatInt(ch.ID, 10),
	}))
	if err != nil {
		return false, err
	}
	var data struct {
		Channel *struct {
			ViewerDropCampaigns []map[string]any `json:"viewerDropCampaigns"`
		} `json:"channel"`
	}
	if err := resp.Decode(&data); err != nil {
		return false, err
	}
	return data.Channel != nil && len(data.Channel.ViewerDropCampaigns) > 0, nil
}

// checkOnline schedules a delayed stream refresh for the channel. The delay
// coalesces bursts of events (title changes, tag updates, up/down flaps)
// into a single query; only one refresh per channel is in flight at a time.
func (m *Miner) checkOnline(ch *twitch.Channel) {
	if !ch.BeginOnlineCheck() {
		return
	}
	m.spawn("online check "+ch.Login, false, func(ctx context.Context) error {
		defer ch.EndOnlineCheck()
		if err := retry.Sleep(ctx, m.cfg.OnlineDelay); err != nil {
			return err
		}
		stream, err := m.fetchStream(ctx, ch)
		if err != nil {
			return fmt.Errorf("stream refresh for %s: %w", ch.Login, err)
		}
		before := ch.SetStream(stream)
		m.onChannelUpdate(ch, before, stream)
		return nil
	})
}

// setOffline marks the channel offline immediately in response to a
// stream-down event.
func (m *Miner) setOffline(ch *twitch.Channel) {
	before := ch.SetStream(nil)
	m.onChannelUpdate(ch, before, nil)
}

// removeChannelTopics unsubscribes both event streams of each channel.
func (m *Miner) removeChannelTopics(channels []*twitch.Channel) {
	names := make([]string, 0, 2*len(channels))
	for _, ch := range channels {
		names = append(names,
			pubsub.TopicName(pubsub.ChannelStreamState, ch.ID),
			pubsub.TopicName(pubsub.ChannelStreamUpdate, ch.ID),
		)
	}
	m.cfg.Pool.RemoveTopics(names...)
}

// viewersKey orders channels by viewer count, treating an unknown count as
// less than any real one.
func viewersKey(ch *twitch.Channel) int {
	if v, ok := ch.Viewers(); ok {
		return v
	}
	return -1
}
