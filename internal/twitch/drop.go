package twitch

import (
	"fmt"
	"strings"
	"time"
)

// DropData is the GQL payload shape of a time-based drop inside a campaign
// payload.
type DropData struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name"`
	BenefitEdges           []BenefitEdge `json:"benefitEdges"`
	StartAt                time.Time     `json:"startAt"`
	EndAt                  time.Time     `json:"endAt"`
	RequiredMinutesWatched int           `json:"requiredMinutesWatched"`
	PreconditionDrops      []DropRefData `json:"preconditionDrops"`
	Self                   *DropSelfData `json:"self"`
}

// DropRefData is a reference to another drop by id.
type DropRefData struct {
	ID string `json:"id"`
}

// DropSelfData is the viewer-specific edge of a drop payload. The campaign
// listing omits it; only detailed campaign data carries it.
type DropSelfData struct {
	DropInstanceID        string `json:"dropInstanceID"`
	IsClaimed             bool   `json:"isClaimed"`
	CurrentMinutesWatched int    `json:"currentMinutesWatched"`
}

// TimedDrop is a single time-gated reward within a campaign. Static fields
// are immutable after construction; claim state and minute counters are
// guarded by the owning campaign's lock, so that precondition lookups and
// campaign-wide minute updates observe all sibling drops consistently.
type TimedDrop struct {
	ID              string
	Name            string
	Campaign        *Campaign
	Benefits        []Benefit
	StartsAt        time.Time
	EndsAt          time.Time
	PreconditionIDs []string
	RequiredMinutes int

	// benefit id -> awarded, for benefits the inventory reports as already
	// received by this account.
	claimedBenefits map[string]bool

	// Guarded by Campaign.mu.
	claimID      string
	claimed      bool
	realMinutes  int
	extraMinutes int
}

func newTimedDrop(c *Campaign, data DropData, claimedBenefits map[string]time.Time) *TimedDrop {
	d := &TimedDrop{
		ID:              data.ID,
		Name:            data.Name,
		Campaign:        c,
		StartsAt:        data.StartAt,
		EndsAt:          data.EndAt,
		RequiredMinutes: data.RequiredMinutesWatched,
		claimedBenefits: make(map[string]bool),
	}
	for _, edge := range data.BenefitEdges {
		d.Benefits = append(d.Benefits, newBenefit(edge))
	}
	for _, pre := range data.PreconditionDrops {
		d.PreconditionIDs = append(d.PreconditionIDs, pre.ID)
	}
	for _, b := range d.Benefits {
		if _, ok := claimedBenefits[b.ID]; ok {
			d.claimedBenefits[b.ID] = true
		}
	}
	if data.Self != nil {
		d.claimID = data.Self.DropInstanceID
		d.claimed = data.Self.IsClaimed
		d.realMinutes = data.Self.CurrentMinutesWatched
	} else if len(d.Benefits) > 0 {
		// Without a self edge, the awarded timestamps of the drop's benefits
		// tell us whether it was claimed: all of them received while the
		// drop was live means the drop itself was.
		claimed := true
		for _, b := range d.Benefits {
			awarded, ok := claimedBenefits[b.ID]
			if !ok || awarded.Before(d.StartsAt) || !awarded.Before(d.EndsAt) {
				claimed = false
				break
			}
		}
		d.claimed = claimed
	}
	if d.claimed {
		// claimed drops may report inconsistent current minutes
		d.realMinutes = d.RequiredMinutes
	}
	return d
}

// RewardsText joins the drop's benefit names for display.
func (d *TimedDrop) RewardsText(delim string) string {
	names := make([]string, len(d.Benefits))
	for i, b := range d.Benefits {
		names[i] = b.Name
	}
	return strings.Join(names, delim)
}

// Claimed reports whether the drop has been claimed.
func (d *TimedDrop) Claimed() bool {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.claimed
}

// ClaimID returns the drop instance id, or "" when none is known yet.
func (d *TimedDrop) ClaimID() string {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.claimID
}

// SetClaimID records the instance id announced by a drop-claim event.
func (d *TimedDrop) SetClaimID(id string) {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	d.claimID = id
}

// GenerateClaimID synthesizes the instance id from ids we already hold and
// records it. Used when mining finishes without the platform announcing one.
func (d *TimedDrop) GenerateClaimID(userID int64) string {
	id := fmt.Sprintf("%d#%s#%s", userID, d.Campaign.ID, d.ID)
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	d.claimID = id
	return id
}

// MarkClaimed finalizes a successful claim: the drop counts as complete and
// the estimated minutes are discarded.
func (d *TimedDrop) MarkClaimed() {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	d.claimed = true
	d.realMinutes = d.RequiredMinutes
	d.extraMinutes = 0
}

// CanClaim reports whether a claim request may be issued: an instance id is
// known, the drop is unclaimed, and the campaign ended less than 24 hours
// ago (the platform keeps claims open for one day past campaign end).
func (d *TimedDrop) CanClaim(now time.Time) bool {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.claimID != "" && !d.claimed && now.Before(d.Campaign.EndsAt.Add(24*time.Hour))
}

// CanEarn reports whether watching channel accrues progress on this drop
// right now. A nil channel checks campaign eligibility only.
func (d *TimedDrop) CanEarn(now time.Time, channel *Channel) bool {
	if !d.Campaign.baseCanEarn(now, channel) {
		return false
	}
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.baseCanEarnLocked(now)
}

// CurrentMinutes is the watched credit including estimated minutes.
func (d *TimedDrop) CurrentMinutes() int {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.currentLocked()
}

// RemainingMinutes is how much credit the drop still needs.
func (d *TimedDrop) RemainingMinutes() int {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.remainingLocked()
}

// TotalRequiredMinutes includes the longest precondition chain leading here.
func (d *TimedDrop) TotalRequiredMinutes() int {
	most := 0
	for _, pid := range d.PreconditionIDs {
		if pre := d.Campaign.GetDrop(pid); pre != nil {
			if t := pre.TotalRequiredMinutes(); t > most {
				most = t
			}
		}
	}
	return d.RequiredMinutes + most
}

// TotalRemainingMinutes includes the longest remaining precondition chain.
func (d *TimedDrop) TotalRemainingMinutes() int {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.totalRemainingLocked()
}

// Progress is the watched fraction in [0, 1].
func (d *TimedDrop) Progress() float64 {
	d.Campaign.mu.Lock()
	defer d.Campaign.mu.Unlock()
	return d.progressLocked()
}

// UpdateMinutes reconciles the drop against a platform-reported minute
// count. The delta is clamped so the counter stays within [0, required],
// then applied campaign-wide: sibling drops earn in lockstep while the
// campaign is active.
func (d *TimedDrop) UpdateMinutes(now time.Time, minutes int) {
	c := d.Campaign
	earnable := c.baseCanEarn(now, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := minutes - d.realMinutes
	if delta == 0 {
		return
	}
	if d.realMinutes+delta < 0 {
		delta = -d.realMinutes
	} else if d.realMinutes+delta > d.RequiredMinutes {
		delta = d.RequiredMinutes - d.realMinutes
	}
	for _, drop := range c.drops {
		drop.updateRealMinutesLocked(now, delta, earnable)
	}
}

// WantedUnclaimedBenefits filters the drop's benefits to the ones this
// account hasn't received yet and whose type is enabled in the allowed map.
func (d *TimedDrop) WantedUnclaimedBenefits(allowed map[string]bool) []Benefit {
	var out []Benefit
	for _, b := range d.Benefits {
		if !d.claimedBenefits[b.ID] && allowed[string(b.Type)] {
			out = append(out, b)
		}
	}
	return out
}

// HasWantedUnclaimedBenefits reports whether WantedUnclaimedBenefits would
// return anything, without building the slice.
func (d *TimedDrop) HasWantedUnclaimedBenefits(allowed map[string]bool) bool {
	for _, b := range d.Benefits {
		if !d.claimedBenefits[b.ID] && allowed[string(b.Type)] {
			return true
		}
	}
	return false
}

// --- locked helpers; the owning campaign's lock must be held ---

func (d *TimedDrop) currentLocked() int {
	return d.realMinutes + d.extraMinutes
}

func (d *TimedDrop) remainingLocked() int {
	return d.RequiredMinutes - d.currentLocked()
}

func (d *TimedDrop) totalRemainingLocked() int {
	most := 0
	for _, pid := range d.PreconditionIDs {
		if pre := d.Campaign.GetDrop(pid); pre != nil {
			if t := pre.totalRemainingLocked(); t > most {
				most = t
			}
		}
	}
	return d.remainingLocked() + most
}

func (d *TimedDrop) progressLocked() float64 {
	current := d.currentLocked()
	switch {
	case current <= 0 || d.RequiredMinutes <= 0:
		return 0
	case current >= d.RequiredMinutes:
		return 1
	default:
		return float64(current) / float64(d.RequiredMinutes)
	}
}

func (d *TimedDrop) preconditionsMetLocked() bool {
	for _, pid := range d.PreconditionIDs {
		pre := d.Campaign.GetDrop(pid)
		if pre == nil || !pre.claimed {
			return false
		}
	}
	return true
}

// baseEarnConditionsLocked holds the time-independent part of earnability:
// preconditions met, unclaimed, rewarding (directly or as a link in an
// unclaimed precondition chain), and the estimate cap not yet reached.
func (d *TimedDrop) baseEarnConditionsLocked() bool {
	return d.preconditionsMetLocked() &&
		!d.claimed &&
		(len(d.Benefits) > 0 || d.Campaign.preconditionsChainLocked()[d.ID]) &&
		d.RequiredMinutes > 0 &&
		d.extraMinutes < MaxExtraMinutes
}

func (d *TimedDrop) baseCanEarnLocked(now time.Time) bool {
	return d.baseEarnConditionsLocked() &&
		!now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

// canEarnWithinLocked ignores campaign eligibility and the channel: it asks
// whether the drop could still produce credit before the stamp.
func (d *TimedDrop) canEarnWithinLocked(now, stamp time.Time) bool {
	return d.baseEarnConditionsLocked() &&
		d.EndsAt.After(now) &&
		d.StartsAt.Before(stamp)
}

func (d *TimedDrop) updateRealMinutesLocked(now time.Time, delta int, campaignEarnable bool) {
	if delta == 0 || d.realMinutes+delta < 0 {
		return
	}
	if !campaignEarnable || !d.baseCanEarnLocked(now) {
		return
	}
	if d.realMinutes+delta < d.RequiredMinutes {
		d.realMinutes += delta
	} else {
		d.realMinutes = d.RequiredMinutes
	}
	d.extraMinutes = 0
}

// bumpLocked credits one estimated minute. Reports whether the estimate cap
// was reached, which signals the caller to look for another channel.
func (d *TimedDrop) bumpLocked(now time.Time, campaignEarnable bool) bool {
	if !campaignEarnable || !d.baseCanEarnLocked(now) {
		return false
	}
	d.extraMinutes++
	return d.extraMinutes >= MaxExtraMinutes
}
