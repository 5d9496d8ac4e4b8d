package twitch

import (
	"fmt"
	"sync"
	"time"
)

// CampaignData is the merged GQL payload shape of a drops campaign, as
// produced by the campaign listing and detail operations.
type CampaignData struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Game           *GameData        `json:"game"`
	Self           CampaignSelfData `json:"self"`
	AccountLinkURL string           `json:"accountLinkURL"`
	StartAt        time.Time        `json:"startAt"`
	EndAt          time.Time        `json:"endAt"`
	Status         string           `json:"status"`
	Allow          AllowData        `json:"allow"`
	TimeBasedDrops []DropData       `json:"timeBasedDrops"`
}

// CampaignSelfData is the viewer-specific edge of a campaign payload.
type CampaignSelfData struct {
	IsAccountConnected bool `json:"isAccountConnected"`
}

// AllowData is a campaign's channel allow-list. A missing isEnabled means
// the list applies.
type AllowData struct {
	Channels  []ACLChannelData `json:"channels"`
	IsEnabled *bool            `json:"isEnabled"`
}

// Campaign is a collection of timed drops for one game during a time
// window, optionally restricted to an allow-list of channels. Everything
// except the drops' claim state and minute counters is immutable after
// construction; mu guards those across all owned drops.
type Campaign struct {
	ID              string
	Name            string
	Game            *Game
	LinkURL         string
	CampaignURL     string
	StartsAt        time.Time
	EndsAt          time.Time
	Linked          bool
	AllowedChannels []*Channel

	valid    bool
	eligible bool
	drops    []*TimedDrop

	mu sync.Mutex
}

// NewCampaign materializes a campaign and its drops from payload data.
// claimedBenefits maps benefit ids to their awarded timestamps and feeds
// the claim-state inference for drops without a self edge.
func NewCampaign(data CampaignData, claimedBenefits map[string]time.Time) (*Campaign, error) {
	if data.Game == nil {
		return nil, fmt.Errorf("campaign %q (%s) has no game", data.Name, data.ID)
	}
	c := &Campaign{
		ID:          data.ID,
		Name:        data.Name,
		Game:        NewGame(*data.Game),
		LinkURL:     data.AccountLinkURL,
		CampaignURL: "https://www.twitch.tv/drops/campaigns?dropID=" + data.ID,
		StartsAt:    data.StartAt,
		EndsAt:      data.EndAt,
		Linked:      data.Self.IsAccountConnected,
		valid:       data.Status != "EXPIRED",
	}
	if len(data.Allow.Channels) > 0 && (data.Allow.IsEnabled == nil || *data.Allow.IsEnabled) {
		for _, ch := range data.Allow.Channels {
			c.AllowedChannels = append(c.AllowedChannels, NewChannelFromACL(ch))
		}
	}
	for _, dd := range data.TimeBasedDrops {
		c.drops = append(c.drops, newTimedDrop(c, dd, claimedBenefits))
	}
	c.eligible = c.Linked || c.hasBadgeOrEmote()
	return c, nil
}

func (c *Campaign) hasBadgeOrEmote() bool {
	for _, d := range c.drops {
		for _, b := range d.Benefits {
			if b.Type.IsBadgeOrEmote() {
				return true
			}
		}
	}
	return false
}

// Drops returns the campaign's drops in payload order. The slice is shared;
// callers must not modify it.
func (c *Campaign) Drops() []*TimedDrop { return c.drops }

// GetDrop returns the drop with the given id, or nil.
func (c *Campaign) GetDrop(id string) *TimedDrop {
	for _, d := range c.drops {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Eligible reports whether this account can make progress at all: the game
// account is linked, or the campaign rewards badges/emotes which need no
// link.
func (c *Campaign) Eligible() bool { return c.eligible }

// Active reports whether the campaign is running at now.
func (c *Campaign) Active(now time.Time) bool {
	return c.valid && !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

// Upcoming reports whether the campaign starts after now.
func (c *Campaign) Upcoming(now time.Time) bool {
	return c.valid && now.Before(c.StartsAt)
}

// Expired reports whether the campaign is over (or marked expired upstream).
func (c *Campaign) Expired(now time.Time) bool {
	return !c.valid || !now.Before(c.EndsAt)
}

// TotalDrops is the number of drops in the campaign.
func (c *Campaign) TotalDrops() int { return len(c.drops) }

// ClaimedDrops counts the drops already claimed.
func (c *Campaign) ClaimedDrops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.drops {
		if d.claimed {
			n++
		}
	}
	return n
}

// RemainingDrops counts the drops not yet claimed.
func (c *Campaign) RemainingDrops() int {
	return len(c.drops) - c.ClaimedDrops()
}

// Finished reports whether nothing mineable is left: every drop is claimed
// or requires no watch time.
func (c *Campaign) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.drops {
		if !d.claimed && d.RequiredMinutes > 0 {
			return false
		}
	}
	return true
}

// RequiredMinutes is the longest required chain across the campaign.
func (c *Campaign) RequiredMinutes() int {
	most := 0
	for _, d := range c.drops {
		if t := d.TotalRequiredMinutes(); t > most {
			most = t
		}
	}
	return most
}

// RemainingMinutes is the longest remaining chain across the campaign.
func (c *Campaign) RemainingMinutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	most := 0
	for _, d := range c.drops {
		if t := d.totalRemainingLocked(); t > most {
			most = t
		}
	}
	return most
}

// Progress averages drop progress across the campaign.
func (c *Campaign) Progress() float64 {
	if len(c.drops) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0.0
	for _, d := range c.drops {
		sum += d.progressLocked()
	}
	return sum / float64(len(c.drops))
}

// FirstDrop picks the earnable drop closest to completion, or nil when
// nothing is earnable right now.
func (c *Campaign) FirstDrop(now time.Time) *TimedDrop {
	if !c.baseCanEarn(now, nil) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var first *TimedDrop
	least := 0
	for _, d := range c.drops {
		if !d.baseCanEarnLocked(now) {
			continue
		}
		if r := d.remainingLocked(); first == nil || r < least {
			first, least = d, r
		}
	}
	return first
}

// TimeTriggers returns the campaign and drop boundary instants, deduplicated
// in no particular order. The maintenance task wakes on each of them.
func (c *Campaign) TimeTriggers() []time.Time {
	seen := map[time.Time]bool{c.StartsAt: true, c.EndsAt: true}
	for _, d := range c.drops {
		seen[d.StartsAt] = true
		seen[d.EndsAt] = true
	}
	out := make([]time.Time, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// CanEarn reports whether watching channel accrues progress on any drop.
// A nil channel checks campaign eligibility only.
func (c *Campaign) CanEarn(now time.Time, channel *Channel) bool {
	if !c.baseCanEarn(now, channel) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.drops {
		if d.baseCanEarnLocked(now) {
			return true
		}
	}
	return false
}

// CanEarnWithin reports whether any drop could produce credit before stamp,
// regardless of which channel would be watched. Drives channel discovery
// for the near future.
func (c *Campaign) CanEarnWithin(now, stamp time.Time) bool {
	if !c.eligible || !c.valid || !c.EndsAt.After(now) || !c.StartsAt.Before(stamp) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.drops {
		if d.canEarnWithinLocked(now, stamp) {
			return true
		}
	}
	return false
}

// BumpMinutes credits one estimated minute to every earnable drop. Used
// when the platform stops pushing progress updates. Reports whether any
// drop hit the estimate cap, in which case the caller should switch
// channels.
func (c *Campaign) BumpMinutes(now time.Time, channel *Channel) bool {
	base := c.baseCanEarn(now, channel)
	c.mu.Lock()
	defer c.mu.Unlock()
	limit := false
	for _, d := range c.drops {
		if d.bumpLocked(now, base) {
			limit = true
		}
	}
	return limit
}

// HasWantedUnclaimedBenefits reports whether any drop still offers a
// benefit of an enabled type that this account hasn't received.
func (c *Campaign) HasWantedUnclaimedBenefits(allowed map[string]bool) bool {
	for _, d := range c.drops {
		if d.HasWantedUnclaimedBenefits(allowed) {
			return true
		}
	}
	return false
}

// baseCanEarn holds the drop-independent part of earnability: account
// eligibility, campaign active, and (when a channel is given) allow-list
// membership plus the channel being live on the campaign's game.
func (c *Campaign) baseCanEarn(now time.Time, channel *Channel) bool {
	if !c.eligible || !c.Active(now) {
		return false
	}
	if channel == nil {
		return true
	}
	if len(c.AllowedChannels) > 0 && !c.inACL(channel) {
		return false
	}
	game := channel.Game()
	return game != nil && game.Equal(c.Game)
}

func (c *Campaign) inACL(channel *Channel) bool {
	for _, ch := range c.AllowedChannels {
		if ch.ID == channel.ID {
			return true
		}
	}
	return false
}

// preconditionsChainLocked returns the ids of drops that gate an unclaimed
// drop. Such drops are mineable even when they carry no benefits of their
// own.
func (c *Campaign) preconditionsChainLocked() map[string]bool {
	chain := make(map[string]bool)
	for _, d := range c.drops {
		if d.claimed {
			continue
		}
		for _, pid := range d.PreconditionIDs {
			chain[pid] = true
		}
	}
	return chain
}

func (c *Campaign) String() string {
	return fmt.Sprintf("Campaign(%s, %s, %d/%d)", c.Game, c.Name, c.ClaimedDrops(), c.TotalDrops())
}
