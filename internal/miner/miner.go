// Package miner drives the drop mining scheduler: a single run loop that
// cycles through inventory fetches, campaign selection, channel discovery
// and channel switching, fed by websocket events and timed triggers.
//
// The run loop is the only goroutine that mutates the scheduler state, the
// campaign inventory, the drop index and the channel map membership. Event
// handlers and the watch loop run concurrently and read those through
// accessors; anything they want changed goes through changeState.
package miner

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftwatch/driftwatch/internal/auth"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/history"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/pubsub"
	"github.com/driftwatch/driftwatch/internal/syncutil"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// campaign detail and stream info requests go out in batches of this size
const fetchChunkSize = 20

// Config wires the miner to its collaborators. Session, GQL, Auth, Pool and
// Settings are required; History and Notifier may be nil. The duration knobs
// default to production values and exist so tests can compress time.
type Config struct {
	Session  *netutil.Session
	GQL      *gql.Client
	Auth     *auth.State
	Pool     *pubsub.Pool
	Settings *config.Settings
	History  *history.Store
	Notifier *notify.Telegram

	// Dump prints the wanted-campaigns tree after the first games update
	// and exits instead of mining.
	Dump   bool
	DumpTo io.Writer

	// UsherURL overrides the HLS playlist service; tests point it at a fake.
	UsherURL string

	WatchInterval     time.Duration // full watch cycle, default 59s
	ProgressDelay     time.Duration // wait before the progress fallback check, default 20s
	OnlineDelay       time.Duration // debounce before re-checking a stream, default 120s
	ClaimDelay        time.Duration // wait after a claim before polling, default 4s
	ClaimPollDelay    time.Duration // wait between claim poll attempts, default 2s
	MaintenancePeriod time.Duration // inventory reload period, default 1h
}

// Miner is the scheduler instance. Create with New, drive with Run.
type Miner struct {
	cfg Config

	channels *xsync.MapOf[int64, *twitch.Channel]
	watching *syncutil.Slot[*twitch.Channel]

	stateChange *syncutil.Signal
	restart     *syncutil.Signal
	progress    *progressTracker
	maint       *maintenance
	seen        otter.Cache[string, struct{}]

	mu            sync.RWMutex
	state         State
	inventory     []*twitch.Campaign
	drops         map[string]*twitch.TimedDrop
	wanted        []*twitch.Game
	order         []int64 // channel ids in priority order
	manualChannel *twitch.Channel
	manualGame    *twitch.Game
	selectedID    int64 // pending user selection, consumed by CHANNEL_SWITCH
	ctx           context.Context
	cancel        context.CancelFunc
	fatal         error

	closeOnce sync.Once
	wg        sync.WaitGroup
	dumped    bool
}

func New(cfg Config) *Miner {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = twitch.WatchInterval
	}
	if cfg.ProgressDelay <= 0 {
		cfg.ProgressDelay = 20 * time.Second
	}
	if cfg.OnlineDelay <= 0 {
		cfg.OnlineDelay = twitch.OnlineDelay
	}
	if cfg.ClaimDelay <= 0 {
		cfg.ClaimDelay = 4 * time.Second
	}
	if cfg.ClaimPollDelay <= 0 {
		cfg.ClaimPollDelay = 2 * time.Second
	}
	if cfg.MaintenancePeriod <= 0 {
		cfg.MaintenancePeriod = time.Hour
	}
	if cfg.UsherURL == "" {
		cfg.UsherURL = usherURL
	}
	seen, err := otter.MustBuilder[string, struct{}](1024).
		Cost(func(_ string, _ struct{}) uint32 { return 1 }).
		WithTTL(10 * time.Minute).
		Build()
	if err != nil {
		panic("miner: failed to create dedupe cache: " + err.Error())
	}
	m := &Miner{
		cfg:         cfg,
		channels:    xsync.NewMapOf[int64, *twitch.Channel](),
		watching:    syncutil.NewSlot[*twitch.Channel](),
		stateChange: syncutil.NewSignal(),
		restart:     syncutil.NewSignal(),
		progress:    newProgressTracker(cfg.WatchInterval),
		drops:       make(map[string]*twitch.TimedDrop),
		seen:        seen,
	}
	m.maint = newMaintenance(cfg.MaintenancePeriod, m.changeState)
	return m
}

// Run executes the scheduler until the context is cancelled, Close is called
// or a critical task fails. A requested exit returns nil.
func (m *Miner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.ctx = ctx
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	if err := m.cfg.Auth.Validate(ctx); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := m.cfg.Pool.Start(ctx); err != nil {
		return fmt.Errorf("websocket pool: %w", err)
	}
	userID := m.cfg.Auth.UserID()
	err := m.cfg.Pool.AddTopics(
		pubsub.NewTopic(pubsub.UserDrops, userID, m.handler("drops", m.handleDrops)),
		pubsub.NewTopic(pubsub.UserNotifications, userID, m.handler("notifications", m.handleNotifications)),
	)
	if err != nil {
		return fmt.Errorf("user topics: %w", err)
	}
	m.spawn("watch loop", true, m.watchLoop)

	m.changeState(StateInventoryFetch)
	err = m.runLoop(ctx)

	m.maint.Stop()
	m.cfg.Pool.Stop(true)
	cancel()
	m.wg.Wait()

	if fatal := m.fatalErr(); fatal != nil {
		return fatal
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runLoop processes one state per iteration and then waits for the next
// transition. Arms that park (IDLE, CHANNEL_SWITCH with nothing better to
// do) simply fall through to the wait.
func (m *Miner) runLoop(ctx context.Context) error {
	fullCleanup := false
	for {
		switch m.State() {
		case StateIdle:
			if m.cfg.Dump {
				m.Close()
				continue
			}
			m.stopWatching()

		case StateInventoryFetch:
			if !m.cfg.Pool.Running() {
				if err := m.cfg.Pool.Start(ctx); err != nil {
					return fmt.Errorf("websocket pool: %w", err)
				}
			}
			if err := m.fetchInventory(ctx); err != nil {
				return fmt.Errorf("inventory fetch: %w", err)
			}
			m.changeState(StateGamesUpdate)

		case StateGamesUpdate:
			m.gamesUpdate(ctx)
			fullCleanup = true
			m.restartWatching()
			m.changeState(StateChannelsCleanup)

		case StateChannelsCleanup:
			m.channelsCleanup(fullCleanup)
			fullCleanup = false

		case StateChannelsFetch:
			if err := m.channelsFetch(ctx); err != nil {
				return fmt.Errorf("channels fetch: %w", err)
			}
			m.changeState(StateChannelSwitch)

		case StateChannelSwitch:
			if m.cfg.Dump {
				m.Close()
				continue
			}
			m.channelSwitch()

		case StateExit:
			return nil
		}

		if err := m.stateChange.Wait(ctx); err != nil {
			if m.State() == StateExit {
				return nil
			}
			return err
		}
	}
}

// changeState requests a transition. Once EXIT is reached the state sticks,
// but the run loop is still woken so it can notice and unwind.
func (m *Miner) changeState(s State) {
	m.mu.Lock()
	if m.state != StateExit {
		if m.state != s {
			logx.Debugf("miner", "state change: %s -> %s", m.state, s)
		}
		m.state = s
	}
	m.mu.Unlock()
	m.stateChange.Notify()
}

// Close requests a clean shutdown. Safe to call from any goroutine and more
// than once.
func (m *Miner) Close() {
	m.closeOnce.Do(func() {
		m.changeState(StateExit)
		m.mu.RLock()
		cancel := m.cancel
		m.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
	})
}

// spawn runs fn on its own goroutine under the run context. A critical task
// failing takes the whole miner down; anything else is just logged.
func (m *Miner) spawn(name string, critical bool, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := fn(m.runCtx())
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		logx.Errorf("miner", "task %q failed: %v", name, err)
		if critical {
			m.setFatal(fmt.Errorf("%s: %w", name, err))
			m.Close()
		}
	}()
}

func (m *Miner) runCtx() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

func (m *Miner) setFatal(err error) {
	m.mu.Lock()
	if m.fatal == nil {
		m.fatal = err
	}
	m.mu.Unlock()
}

func (m *Miner) fatalErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatal
}

// handler adapts a miner method to a pubsub handler, supplying the run
// context and swallowing errors with a log line. Event handlers are not
// critical tasks.
func (m *Miner) handler(name string, fn func(ctx context.Context, targetID int64, payload []byte) error) pubsub.Handler {
	return func(targetID int64, payload json.RawMessage) {
		if err := fn(m.runCtx(), targetID, payload); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("miner", "%s handler: %v", name, err)
		}
	}
}

// State returns the current scheduler state.
func (m *Miner) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Inventory returns the current campaign list, most relevant first.
func (m *Miner) Inventory() []*twitch.Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.inventory)
}

// WantedGames returns the games being mined, in priority order.
func (m *Miner) WantedGames() []*twitch.Game {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.wanted)
}

// Channels returns the tracked channels in priority order.
func (m *Miner) Channels() []*twitch.Channel {
	m.mu.RLock()
	ids := slices.Clone(m.order)
	m.mu.RUnlock()
	out := make([]*twitch.Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := m.channels.Load(id); ok {
			out = append(out, ch)
		}
	}
	return out
}

// Watching returns the channel currently being watched, or nil.
func (m *Miner) Watching() *twitch.Channel {
	return m.watching.Peek(nil)
}

func (m *Miner) dropByID(id string) *twitch.TimedDrop {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drops[id]
}

func (m *Miner) setInventory(campaigns []*twitch.Campaign, drops map[string]*twitch.TimedDrop) {
	m.mu.Lock()
	m.inventory = campaigns
	m.drops = drops
	m.mu.Unlock()
}

func (m *Miner) setWanted(games []*twitch.Game) {
	m.mu.Lock()
	m.wanted = games
	m.mu.Unlock()
}

func (m *Miner) setOrder(ids []int64) {
	m.mu.Lock()
	m.order = ids
	m.mu.Unlock()
}

// Select queues a user channel selection and asks the scheduler to act on
// it. The selection is consumed by the next CHANNEL_SWITCH pass; picking a
// channel streaming a different game than the current one enters manual
// mode for that game.
func (m *Miner) Select(channelID int64) error {
	ch, ok := m.channels.Load(channelID)
	if !ok {
		return fmt.Errorf("channel %d is not tracked", channelID)
	}
	if ch.Game() == nil {
		return fmt.Errorf("channel %s is not playing any game", ch.Login)
	}
	m.mu.Lock()
	m.selectedID = channelID
	m.mu.Unlock()
	m.changeState(StateChannelSwitch)
	return nil
}

// takeSelection consumes the pending user selection, if any.
func (m *Miner) takeSelection() *twitch.Channel {
	m.mu.Lock()
	id := m.selectedID
	m.selectedID = 0
	m.mu.Unlock()
	if id == 0 {
		return nil
	}
	ch, ok := m.channels.Load(id)
	if !ok {
		return nil
	}
	return ch
}

// ManualMode reports whether manual mode is active and for which game.
func (m *Miner) ManualMode() (*twitch.Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manualGame, m.manualChannel != nil && m.manualGame != nil
}

func (m *Miner) isManualMode() bool {
	_, ok := m.ManualMode()
	return ok
}

func (m *Miner) manualTargets() (*twitch.Channel, *twitch.Game) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manualChannel, m.manualGame
}

func (m *Miner) setManualChannel(ch *twitch.Channel) {
	m.mu.Lock()
	m.manualChannel = ch
	m.mu.Unlock()
}

func (m *Miner) enterManualMode(ch *twitch.Channel) {
	game := ch.Game()
	if game == nil {
		logx.Warnf("miner", "cannot enter manual mode: channel %s has no game", ch.Name)
		return
	}
	m.mu.Lock()
	m.manualChannel = ch
	m.manualGame = game
	m.mu.Unlock()
	logx.Infof("miner", "entered manual mode for game %s, channel %s", game.Name, ch.Name)
}

func (m *Miner) exitManualMode(reason string) {
	m.mu.Lock()
	if m.manualChannel == nil && m.manualGame == nil {
		m.mu.Unlock()
		return
	}
	game := "<none>"
	if m.manualGame != nil {
		game = m.manualGame.Name
	}
	m.manualChannel = nil
	m.manualGame = nil
	m.mu.Unlock()
	logx.Infof("miner", "exiting manual mode for game %s: %s", game, reason)
	m.changeState(StateChannelSwitch)
}

// channelSwitch picks the next channel to watch: an explicit user selection
// first, then the manual-mode target, then the best watchable channel by
// game priority. With nothing watchable the scheduler goes idle.
func (m *Miner) channelSwitch() {
	var newWatching *twitch.Channel
	selected := m.takeSelection()
	watching := m.watching.Peek(nil)

	switch {
	case selected != nil && m.canWatch(selected):
		if watching != nil && !selected.Game().Equal(watching.Game()) {
			m.enterManualMode(selected)
		}
		newWatching = selected

	case m.isManualMode():
		manualCh, manualGame := m.manualTargets()
		if manualCh != nil && m.canWatch(manualCh) {
			newWatching = manualCh
		} else {
			for _, ch := range m.Channels() {
				if manualGame.Equal(ch.Game()) && m.canWatch(ch) {
					newWatching = ch
					m.setManualChannel(ch)
					logx.Infof("miner", "manual mode: switching to %s (same game: %s)", ch.Name, manualGame.Name)
					break
				}
			}
			if newWatching == nil {
				m.exitManualMode("no channels available for manual game")
			}
		}

	default:
		ordered := m.Channels()
		slices.SortStableFunc(ordered, func(a, b *twitch.Channel) int {
			return cmp.Compare(m.priority(a), m.priority(b))
		})
		for _, ch := range ordered {
			if m.canWatch(ch) && m.shouldSwitch(ch) {
				newWatching = ch
				break
			}
		}
	}

	switch {
	case newWatching != nil:
		m.watch(newWatching, true)
	case watching != nil && m.canWatch(watching):
		logx.Infof("miner", "continuing to watch %s", watching.Name)
	default:
		logx.Infof("miner", "no available channels to watch")
		m.changeState(StateIdle)
	}
}

// priority maps a channel to the position of its game on the wanted list;
// channels without a wanted game sort last.
func (m *Miner) priority(ch *twitch.Channel) int {
	game := ch.Game()
	if game == nil {
		return math.MaxInt
	}
	for i, g := range m.WantedGames() {
		if g.Equal(game) {
			return i
		}
	}
	return math.MaxInt
}

func gameIn(games []*twitch.Game, game *twitch.Game) bool {
	for _, g := range games {
		if g.Equal(game) {
			return true
		}
	}
	return false
}

// gamesUpdate claims anything claimable, then rebuilds the wanted games
// list from the configured names, keeping their configured order.
func (m *Miner) gamesUpdate(ctx context.Context) {
	logx.Infof("miner", "checking for claimable drops")
	now := time.Now()
	inventory := m.Inventory()
	for _, campaign := range inventory {
		if campaign.Upcoming(now) {
			continue
		}
		for _, drop := range campaign.Drops() {
			if drop.CanClaim(time.Now()) {
				m.claimDrop(ctx, drop)
			}
		}
	}

	games := make([]*twitch.Game, 0, len(m.cfg.Settings.GamesToWatch))
	nextHour := time.Now().Add(time.Hour)
	for _, name := range m.cfg.Settings.GamesToWatch {
		lower := strings.ToLower(name)
		for _, campaign := range inventory {
			if strings.ToLower(campaign.Game.Name) != lower ||
				gameIn(games, campaign.Game) ||
				!campaign.CanEarnWithin(time.Now(), nextHour) {
				continue
			}
			games = append(games, campaign.Game)
			break
		}
	}

	if len(games) > 0 {
		logx.Infof("miner", "wanted games: %s", joinGameNames(games))
	} else {
		eligible := 0
		for _, c := range inventory {
			if c.Eligible() && c.CanEarnWithin(time.Now(), nextHour) {
				eligible++
			}
		}
		logx.Warnf("miner", "no wanted games found (games_to_watch=%v, eligible_campaigns=%d)",
			m.cfg.Settings.GamesToWatch, eligible)
	}

	if m.isManualMode() {
		_, manualGame := m.manualTargets()
		hasDrops := false
		for _, campaign := range inventory {
			if campaign.CanEarnWithin(time.Now(), nextHour) && campaign.Game.Equal(manualGame) {
				hasDrops = true
				break
			}
		}
		if !hasDrops {
			m.exitManualMode("all drops completed for manual game")
		} else if gameIn(games, manualGame) {
			games = slices.DeleteFunc(games, manualGame.Equal)
			games = slices.Insert(games, 0, manualGame)
			logx.Infof("miner", "manual mode: prioritizing game %s", manualGame.Name)
		}
	}

	m.setWanted(games)

	if m.cfg.Dump && !m.dumped {
		m.dumped = true
		m.writeDump()
	}
}

// channelsCleanup drops channels that no longer serve a wanted game. A full
// cleanup (after every games update) removes everything so the following
// fetch rebuilds the map from scratch; ACL channels otherwise survive even
// while offline.
func (m *Miner) channelsCleanup(fullCleanup bool) {
	wanted := m.WantedGames()
	var remove []*twitch.Channel
	if len(wanted) == 0 || fullCleanup {
		remove = m.Channels()
	} else {
		for _, ch := range m.Channels() {
			if ch.ACLBased {
				continue
			}
			game := ch.Game()
			if !ch.Online() || game == nil || !gameIn(wanted, game) {
				remove = append(remove, ch)
			}
		}
	}
	if len(remove) > 0 {
		m.removeChannelTopics(remove)
		removed := make(map[int64]bool, len(remove))
		for _, ch := range remove {
			m.channels.Delete(ch.ID)
			removed[ch.ID] = true
		}
		m.mu.Lock()
		m.order = slices.DeleteFunc(m.order, func(id int64) bool { return removed[id] })
		m.mu.Unlock()
	}
	if len(wanted) > 0 {
		m.changeState(StateChannelsFetch)
	} else {
		logx.Infof("miner", "no active campaigns to mine")
		m.changeState(StateIdle)
	}
}
