package miner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/retry"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// usherURL serves the HLS master playlist for a live channel.
const usherURL = "https://usher.ttvnw.net/api/channel/hls/%s.m3u8"

// canWatch reports whether the channel qualifies as a watching candidate:
// online, drops enabled, streaming a wanted game, and at least one campaign
// progressable on it.
func (m *Miner) canWatch(ch *twitch.Channel) bool {
	if ch == nil || len(m.WantedGames()) == 0 {
		return false
	}
	if !ch.Online() || !ch.DropsEnabled() {
		return false
	}
	game := ch.Game()
	if game == nil || !gameIn(m.WantedGames(), game) {
		return false
	}
	now := time.Now()
	for _, campaign := range m.Inventory() {
		if campaign.CanEarn(now, ch) {
			return true
		}
	}
	return false
}

// shouldSwitch reports whether the channel beats the currently watched one:
// a higher-priority game wins, and on equal priority an allow-list channel
// beats a directory one.
func (m *Miner) shouldSwitch(ch *twitch.Channel) bool {
	watching := m.watching.Peek(nil)
	if watching == nil {
		return true
	}
	channelOrder := m.priority(ch)
	watchingOrder := m.priority(watching)
	return channelOrder < watchingOrder ||
		(channelOrder == watchingOrder && ch.ACLBased && !watching.ACLBased)
}

// watch points the watch loop at a channel.
func (m *Miner) watch(ch *twitch.Channel, updateStatus bool) {
	m.watching.Set(ch)
	if !updateStatus {
		return
	}
	if game, ok := m.ManualMode(); ok {
		logx.Infof("miner", "manual mode: watching %s for %s", ch.Name, game.Name)
	} else {
		logx.Infof("miner", "watching %s", ch.Name)
	}
}

// stopWatching clears the watched channel and the progress countdown.
func (m *Miner) stopWatching() {
	m.progress.Stop()
	m.watching.Clear()
}

// restartWatching forces the watch loop to resend the heartbeat right away.
func (m *Miner) restartWatching() {
	m.progress.Stop()
	m.restart.Notify()
}

// watchSleep waits out the rest of the watch interval, cutting out early
// when a restart is requested. Restarts signalled before the sleep begins
// are intentionally discarded.
func (m *Miner) watchSleep(ctx context.Context, d time.Duration) error {
	m.restart.Drain()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.restart.C():
		return nil
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchLoop sends the heartbeat for the watched channel once per interval
// and keeps drop progress fresh. Progress normally arrives over the
// websocket; when it stalls, the loop falls back to querying the current
// drop session, and failing that estimates progress on the most likely
// campaign.
func (m *Miner) watchLoop(ctx context.Context) error {
	interval := m.cfg.WatchInterval
	for {
		ch, err := m.watching.Get(ctx)
		if err != nil {
			return err
		}
		if !ch.Online() {
			// drop the stale channel unless the scheduler already
			// switched us elsewhere
			if m.watching.ClearIf(func(c *twitch.Channel) bool { return c == ch }) {
				m.progress.Stop()
			}
			continue
		}

		if !m.sendWatch(ctx, ch) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logx.Callf("miner", "watch request failed for channel: %s", ch.Name)
		}
		lastSent := time.Now()

		if err := retry.Sleep(ctx, m.cfg.ProgressDelay); err != nil {
			return err
		}

		if m.progress.AlmostDone(time.Now()) {
			m.syncProgress(ctx, ch)
		}

		elapsed := time.Since(lastSent)
		if elapsed > interval {
			elapsed = interval
		}
		if err := m.watchSleep(ctx, interval-elapsed); err != nil {
			return err
		}
	}
}

// syncProgress refreshes drop progress when websocket updates have dried
// up: first from the current drop session, then by estimating on the most
// plausible campaign.
func (m *Miner) syncProgress(ctx context.Context, ch *twitch.Channel) {
	dropID, minutes, ok, err := m.currentDropSession(ctx, ch)
	if err != nil && !errors.Is(err, context.Canceled) {
		logx.Debugf("miner", "current drop query: %v", err)
	}
	if ok {
		if drop := m.dropByID(dropID); drop != nil && drop.CanEarn(time.Now(), ch) {
			drop.UpdateMinutes(time.Now(), minutes)
			m.progress.Bump(time.Now())
			m.recordMinutes(drop)
			m.notifyIfReady(drop)
			logx.Callf("miner", "drop progress from GQL: %s", dropText(drop))
			return
		}
	}

	campaign := m.activeCampaign(ch)
	if campaign == nil {
		logx.Callf("miner", "no active drop could be determined")
		return
	}
	if campaign.BumpMinutes(time.Now(), ch) {
		logx.Warnf("miner", "campaign %q (%s) hit the estimated minutes limit",
			campaign.Name, campaign.Game.Name)
		m.changeState(StateChannelSwitch)
	}
	text := fmt.Sprintf("unknown drop (%s)", campaign.Game)
	if first := campaign.FirstDrop(time.Now()); first != nil {
		m.progress.Bump(time.Now())
		m.recordMinutes(first)
		text = dropText(first)
	}
	logx.Callf("miner", "drop progress from active search: %s", text)
}

// currentDropSession queries which drop the platform currently credits to
// the user on the given channel. ok is false when no session is active.
func (m *Miner) currentDropSession(ctx context.Context, ch *twitch.Channel) (dropID string, minutes int, ok bool, err error) {
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("CurrentDrop").WithVariables(map[string]any{
		"channelID": strconv.FormatInt(ch.ID, 10),
	}))
	if err != nil {
		return "", 0, false, err
	}
	var data struct {
		CurrentUser struct {
			DropCurrentSession *struct {
				DropID                string `json:"dropID"`
				CurrentMinutesWatched int    `json:"currentMinutesWatched"`
			} `json:"dropCurrentSession"`
		} `json:"currentUser"`
	}
	if err := resp.Decode(&data); err != nil {
		return "", 0, false, err
	}
	session := data.CurrentUser.DropCurrentSession
	if session == nil {
		return "", 0, false, nil
	}
	return session.DropID, session.CurrentMinutesWatched, true, nil
}

// sendWatch emits one watching heartbeat: fetch the stream's lowest-quality
// variant playlist and issue a HEAD request for its most recent segment.
// The variant URL is resolved once per stream and cached on the channel.
func (m *Miner) sendWatch(ctx context.Context, ch *twitch.Channel) bool {
	watchURL := ch.WatchURL()
	if watchURL == "" {
		resolved, err := m.resolveWatchURL(ctx, ch)
		if err != nil {
			logx.Callf("miner", "watch url for %s: %v", ch.Login, err)
			return false
		}
		ch.SetWatchURL(resolved)
		watchURL = resolved
	}
	resp, err := m.cfg.Session.Request(ctx, http.MethodGet, watchURL, netutil.RequestOptions{})
	if err != nil || resp.StatusCode != http.StatusOK {
		// likely an expired access token; resolve a fresh URL next time
		ch.SetWatchURL("")
		return false
	}
	lines := strings.Split(strings.TrimSpace(string(resp.Body)), "\n")
	segment := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(segment, "http") {
		return false
	}
	resp, err = m.cfg.Session.Request(ctx, http.MethodHead, segment, netutil.RequestOptions{})
	return err == nil && resp.StatusCode == http.StatusOK
}

// resolveWatchURL acquires a playback access token for the channel and
// picks the lowest-quality variant from the HLS master playlist.
func (m *Miner) resolveWatchURL(ctx context.Context, ch *twitch.Channel) (string, error) {
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("PlaybackAccessToken").WithVariables(map[string]any{
		"login": ch.Login,
	}))
	if err != nil {
		return "", err
	}
	var data struct {
		StreamPlaybackAccessToken *struct {
			Value     string `json:"value"`
			Signature string `json:"signature"`
		} `json:"streamPlaybackAccessToken"`
	}
	if err := resp.Decode(&data); err != nil {
		return "", err
	}
	token := data.StreamPlaybackAccessToken
	if token == nil {
		return "", fmt.Errorf("no playback access token for %s", ch.Login)
	}

	query := url.Values{
		"sig":              {token.Signature},
		"token":            {token.Value},
		"allow_source":     {"true"},
		"allow_audio_only": {"true"},
		"player":           {"twitchweb"},
	}
	master := fmt.Sprintf(m.cfg.UsherURL, url.PathEscape(ch.Login)) + "?" + query.Encode()
	playlist, err := m.cfg.Session.Request(ctx, http.MethodGet, master, netutil.RequestOptions{})
	if err != nil {
		return "", err
	}
	if playlist.StatusCode != http.StatusOK {
		return "", fmt.Errorf("master playlist: %s", playlist.Status)
	}
	variant := ""
	for _, line := range strings.Split(string(playlist.Body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			variant = line
		}
	}
	if variant == "" {
		return "", fmt.Errorf("no stream variants for %s", ch.Login)
	}
	return variant, nil
}

// notifyIfReady announces a drop whose watch time just completed, once.
func (m *Miner) notifyIfReady(drop *twitch.TimedDrop) {
	if drop.Claimed() || drop.RemainingMinutes() > 0 {
		return
	}
	if !m.markSeen("ready:" + drop.ID) {
		return
	}
	m.cfg.Notifier.DropReady(drop)
}

// progressTracker mirrors the per-minute countdown a progress display would
// run: every server-side progress report arms a fresh minute. When no
// report lands within a full watch interval the platform has stopped
// pushing progress and the watch loop must resync on its own.
type progressTracker struct {
	interval time.Duration

	mu       sync.Mutex
	counting bool
	lastPush time.Time
}

func newProgressTracker(interval time.Duration) *progressTracker {
	return &progressTracker{interval: interval}
}

// Bump records a progress report and restarts the countdown.
func (p *progressTracker) Bump(now time.Time) {
	p.mu.Lock()
	p.counting = true
	p.lastPush = now
	p.mu.Unlock()
}

// Stop halts the countdown; the next AlmostDone reports true.
func (p *progressTracker) Stop() {
	p.mu.Lock()
	p.counting = false
	p.mu.Unlock()
}

// AlmostDone reports whether the tracked minute ran out without a fresh
// progress report.
func (p *progressTracker) AlmostDone(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.counting || now.Sub(p.lastPush) >= p.interval
}
