package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/retry"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// markSeen records an event key in the dedupe cache, reporting whether it
// was new. PubSub redelivers messages after reconnects; acting on a claim
// or reminder twice is worse than dropping the duplicate.
func (m *Miner) markSeen(key string) bool {
	if _, ok := m.seen.Get(key); ok {
		return false
	}
	m.seen.Set(key, struct{}{})
	return true
}

// handleStreamState processes viewcount, stream-up, stream-down and
// commercial events for a tracked channel.
func (m *Miner) handleStreamState(_ context.Context, channelID int64, payload []byte) error {
	var msg struct {
		Type    string `json:"type"`
		Viewers int    `json:"viewers"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("stream state payload: %w", err)
	}
	ch, ok := m.channels.Load(channelID)
	if !ok {
		logx.Errorf("miner", "stream state change for an untracked channel: %d", channelID)
		return nil
	}
	switch msg.Type {
	case "viewcount":
		if !ch.Online() {
			m.checkOnline(ch)
		} else {
			ch.SetViewers(msg.Viewers)
		}
	case "stream-down":
		m.setOffline(ch)
	case "stream-up":
		m.checkOnline(ch)
	case "commercial":
		// nothing to do
	default:
		logx.Warnf("miner", "unknown stream state: %s", msg.Type)
	}
	return nil
}

// handleStreamUpdate processes broadcast settings changes (title, game,
// tags). The payload carries no tag data, so the channel is re-checked
// after the usual delay, which also coalesces change bursts.
func (m *Miner) handleStreamUpdate(_ context.Context, channelID int64, payload []byte) error {
	var msg struct {
		OldGame string `json:"old_game"`
		Game    string `json:"game"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("stream update payload: %w", err)
	}
	ch, ok := m.channels.Load(channelID)
	if !ok {
		logx.Errorf("miner", "broadcast settings update for an untracked channel: %d", channelID)
		return nil
	}
	gameChange := ""
	if msg.OldGame != msg.Game {
		gameChange = fmt.Sprintf(", game changed: %s -> %s", msg.OldGame, msg.Game)
	}
	logx.Callf("miner", "channel update from websocket: %s%s", ch.Name, gameChange)
	m.checkOnline(ch)
	return nil
}

// onChannelUpdate reacts to a channel's stream state flipping. Going online
// may grab the watch slot, the watched channel going offline or losing
// eligibility forces a switch pass.
func (m *Miner) onChannelUpdate(ch *twitch.Channel, before, after *twitch.Stream) {
	watching := m.watching.Peek(nil)
	isWatchingThis := watching != nil && watching.ID == ch.ID

	switch {
	case before == nil && after != nil:
		if m.canWatch(ch) && m.shouldSwitch(ch) {
			logx.Infof("miner", "%s goes online, watching", ch.Name)
			m.watch(ch, true)
		} else {
			logx.Infof("miner", "%s goes online", ch.Name)
		}

	case before != nil && after == nil:
		if isWatchingThis {
			logx.Infof("miner", "%s goes offline, switching", ch.Name)
			m.changeState(StateChannelSwitch)
		} else {
			logx.Infof("miner", "%s goes offline", ch.Name)
		}

	case before != nil && after != nil:
		if isWatchingThis && !m.canWatch(ch) {
			logx.Infof("miner", "%s status updated, switching (drops: %t -> %t)",
				ch.Name, before.DropsEnabled, after.DropsEnabled)
			m.changeState(StateChannelSwitch)
		} else if !isWatchingThis {
			logx.Infof("miner", "%s status updated (drops: %t -> %t)",
				ch.Name, before.DropsEnabled, after.DropsEnabled)
			if m.canWatch(ch) && m.shouldSwitch(ch) {
				m.watch(ch, true)
			}
		}

	default:
		logx.Callf("miner", "%s stays offline", ch.Name)
	}
}

// handleDrops processes drop progress and claim events for the user.
func (m *Miner) handleDrops(ctx context.Context, _ int64, payload []byte) error {
	var msg struct {
		Type string `json:"type"`
		Data struct {
			DropID         string `json:"drop_id"`
			DropInstanceID string `json:"drop_instance_id"`
			CurrentMin     int    `json:"current_progress_min"`
			RequiredMin    int    `json:"required_progress_min"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("drops payload: %w", err)
	}
	if msg.Type != "drop-progress" && msg.Type != "drop-claim" {
		return nil
	}

	drop := m.dropByID(msg.Data.DropID)
	watching := m.watching.Peek(nil)

	if msg.Type == "drop-claim" {
		if drop == nil {
			logx.Errorf("miner", "claim event for an unknown drop: %s (instance %s)",
				msg.Data.DropID, msg.Data.DropInstanceID)
			return nil
		}
		if !m.markSeen("claim:" + msg.Data.DropInstanceID) {
			return nil
		}
		return m.finalizeClaim(ctx, drop, msg.Data.DropInstanceID, watching)
	}

	text := "<unknown>"
	if drop != nil {
		text = fmt.Sprintf("%s (%s, %d/%d)",
			drop.Name, drop.Campaign.Game, msg.Data.CurrentMin, msg.Data.RequiredMin)
	}
	logx.Callf("miner", "drop update from websocket: %s", text)

	if drop != nil && drop.CanEarn(time.Now(), m.watching.Peek(nil)) {
		drop.UpdateMinutes(time.Now(), msg.Data.CurrentMin)
		m.progress.Bump(time.Now())
		m.recordMinutes(drop)
		m.notifyIfReady(drop)
	}
	return nil
}

// finalizeClaim claims an awarded drop, waits for the platform to roll the
// drop session over to the next drop, then either restarts the heartbeat
// cycle or reloads the inventory when the campaign is exhausted.
func (m *Miner) finalizeClaim(ctx context.Context, drop *twitch.TimedDrop, instanceID string, watching *twitch.Channel) error {
	drop.SetClaimID(instanceID)
	campaign := drop.Campaign
	m.claimDrop(ctx, drop)

	// the next drop only becomes minable a few seconds after the claim
	if err := retry.Sleep(ctx, m.cfg.ClaimDelay); err != nil {
		return err
	}
	if watching != nil {
		for attempt := 0; attempt < 8; attempt++ {
			dropID, _, ok, err := m.currentDropSession(ctx, watching)
			if err != nil {
				return err
			}
			if !ok || dropID != drop.ID {
				break
			}
			if err := retry.Sleep(ctx, m.cfg.ClaimPollDelay); err != nil {
				return err
			}
		}
	}

	if campaign.CanEarn(time.Now(), watching) {
		m.restartWatching()
	} else {
		m.changeState(StateInventoryFetch)
	}
	return nil
}

// handleNotifications watches for the drop reward reminder the platform
// sends when a claim is pending, reloading the inventory and deleting the
// notification so it doesn't linger.
func (m *Miner) handleNotifications(ctx context.Context, _ int64, payload []byte) error {
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Notification struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"notification"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("notification payload: %w", err)
	}
	if msg.Type != "create-notification" {
		return nil
	}
	notification := msg.Data.Notification
	if notification.Type != "user_drop_reward_reminder_notification" {
		return nil
	}
	if !m.markSeen("notification:" + notification.ID) {
		return nil
	}
	m.changeState(StateInventoryFetch)
	_, err := m.cfg.GQL.Request(ctx, gql.Op("NotificationsDelete").WithVariables(map[string]any{
		"input": map[string]any{"id": notification.ID},
	}))
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", notification.ID, err)
	}
	return nil
}
