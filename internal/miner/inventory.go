package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/history"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// fetchInventory rebuilds the campaign inventory: the user's in-progress
// campaigns merged with the public campaign listing, each enriched with the
// full per-campaign details. In-progress data wins any merge conflict since
// it carries the user's actual progress.
func (m *Miner) fetchInventory(ctx context.Context) error {
	logx.Infof("miner", "fetching inventory")
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("Inventory"))
	if err != nil {
		return err
	}
	var inv struct {
		CurrentUser struct {
			Inventory struct {
				DropCampaignsInProgress []map[string]any `json:"dropCampaignsInProgress"`
				GameEventDrops          []struct {
					ID            string    `json:"id"`
					LastAwardedAt time.Time `json:"lastAwardedAt"`
				} `json:"gameEventDrops"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := resp.Decode(&inv); err != nil {
		return fmt.Errorf("decode inventory: %w", err)
	}

	claimedBenefits := make(map[string]time.Time, len(inv.CurrentUser.Inventory.GameEventDrops))
	for _, b := range inv.CurrentUser.Inventory.GameEventDrops {
		claimedBenefits[b.ID] = b.LastAwardedAt
	}

	merged := make(map[string]map[string]any)
	var order []string
	for _, raw := range inv.CurrentUser.Inventory.DropCampaignsInProgress {
		id, _ := raw["id"].(string)
		if id == "" {
			continue
		}
		if _, ok := merged[id]; !ok {
			order = append(order, id)
		}
		merged[id] = raw
	}

	resp, err = m.cfg.GQL.Request(ctx, gql.Op("Campaigns"))
	if err != nil {
		return err
	}
	var listing struct {
		CurrentUser struct {
			DropCampaigns []map[string]any `json:"dropCampaigns"`
		} `json:"currentUser"`
	}
	if err := resp.Decode(&listing); err != nil {
		return fmt.Errorf("decode campaign listing: %w", err)
	}

	available := make(map[string]map[string]any)
	var availableOrder []string
	for _, raw := range listing.CurrentUser.DropCampaigns {
		status, _ := raw["status"].(string)
		if status != "ACTIVE" && status != "UPCOMING" {
			continue
		}
		id, _ := raw["id"].(string)
		if id == "" {
			continue
		}
		if _, ok := available[id]; !ok {
			availableOrder = append(availableOrder, id)
		}
		available[id] = raw
	}

	for start := 0; start < len(availableOrder); start += fetchChunkSize {
		end := min(start+fetchChunkSize, len(availableOrder))
		chunk := availableOrder[start:end:end]
		fetched, err := m.fetchCampaignDetails(ctx, chunk)
		if err != nil {
			return err
		}
		for id, detail := range fetched {
			full, err := gql.Merge(available[id], detail)
			if err != nil {
				return fmt.Errorf("campaign %s: %w", id, err)
			}
			if existing, ok := merged[id]; ok {
				full, err = gql.Merge(existing, full)
				if err != nil {
					return fmt.Errorf("campaign %s: %w", id, err)
				}
			} else {
				order = append(order, id)
			}
			merged[id] = full
		}
	}

	campaigns := make([]*twitch.Campaign, 0, len(order))
	for _, id := range order {
		raw := merged[id]
		if raw["game"] == nil {
			continue
		}
		var data twitch.CampaignData
		if err := decodeMap(raw, &data); err != nil {
			logx.Warnf("miner", "campaign %s: %v", id, err)
			continue
		}
		campaign, err := twitch.NewCampaign(data, claimedBenefits)
		if err != nil {
			logx.Warnf("miner", "campaign %s: %v", id, err)
			continue
		}
		campaigns = append(campaigns, campaign)
	}

	// Order: campaigns the user can progress first, nearest deadline first
	// within that, active before upcoming on ties. Three stable passes, the
	// last applied being the most significant key.
	now := time.Now()
	slices.SortStableFunc(campaigns, func(a, b *twitch.Campaign) int {
		return boolDesc(a.Active(now), b.Active(now))
	})
	slices.SortStableFunc(campaigns, func(a, b *twitch.Campaign) int {
		return campaignSortTime(a, now).Compare(campaignSortTime(b, now))
	})
	slices.SortStableFunc(campaigns, func(a, b *twitch.Campaign) int {
		return boolDesc(a.Eligible(), b.Eligible())
	})

	drops := make(map[string]*twitch.TimedDrop)
	for _, campaign := range campaigns {
		for _, drop := range campaign.Drops() {
			drops[drop.ID] = drop
		}
	}
	m.setInventory(campaigns, drops)
	logx.Infof("miner", "inventory: %d campaigns, %d drops", len(campaigns), len(drops))

	// Collect the timestamps at which any earnable campaign changes phase;
	// each becomes a cleanup trigger for the maintenance cycle.
	nextHour := now.Add(time.Hour)
	triggerSet := make(map[time.Time]bool)
	for _, campaign := range campaigns {
		if !campaign.CanEarnWithin(now, nextHour) {
			continue
		}
		for _, stamp := range campaign.TimeTriggers() {
			triggerSet[stamp] = true
		}
	}
	triggers := make([]time.Time, 0, len(triggerSet))
	for stamp := range triggerSet {
		if stamp.After(now) {
			triggers = append(triggers, stamp)
		}
	}
	slices.SortFunc(triggers, func(a, b time.Time) int { return a.Compare(b) })
	m.maint.Restart(m.runCtx(), triggers)

	if err := m.cfg.Session.SaveCookies(); err != nil {
		logx.Warnf("miner", "saving cookies: %v", err)
	}
	return nil
}

// fetchCampaignDetails requests full details for a batch of campaign ids,
// returning them keyed by campaign id.
func (m *Miner) fetchCampaignDetails(ctx context.Context, ids []string) (map[string]map[string]any, error) {
	login := strconv.FormatInt(m.cfg.Auth.UserID(), 10)
	ops := make([]gql.Operation, len(ids))
	for i, id := range ids {
		ops[i] = gql.Op("CampaignDetails").WithVariables(map[string]any{
			"channelLogin": login,
			"dropID":       id,
		})
	}
	responses, err := m.cfg.GQL.RequestBatch(ctx, ops)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(responses))
	for _, resp := range responses {
		var detail struct {
			User struct {
				DropCampaign map[string]any `json:"dropCampaign"`
			} `json:"user"`
		}
		if err := resp.Decode(&detail); err != nil {
			return nil, fmt.Errorf("decode campaign details: %w", err)
		}
		if detail.User.DropCampaign == nil {
			logx.Warnf("miner", "campaign details missing for %s", resp.OperationName())
			continue
		}
		id, _ := detail.User.DropCampaign["id"].(string)
		if id == "" {
			continue
		}
		out[id] = detail.User.DropCampaign
	}
	return out, nil
}

// activeCampaign returns the earnable campaign closest to completion for
// the watched channel, preferring the actually watched channel over the
// candidate passed in.
func (m *Miner) activeCampaign(ch *twitch.Channel) *twitch.Campaign {
	if len(m.WantedGames()) == 0 {
		return nil
	}
	watching := m.watching.Peek(ch)
	if watching == nil {
		return nil
	}
	now := time.Now()
	var best *twitch.Campaign
	for _, campaign := range m.Inventory() {
		if !campaign.CanEarn(now, watching) {
			continue
		}
		if best == nil || campaign.RemainingMinutes() < best.RemainingMinutes() {
			best = campaign
		}
	}
	return best
}

// claimDrop claims a pending drop award. A drop already claimed server-side
// counts as success. On success the local drop is finalized, the claim is
// journaled and a notification goes out.
func (m *Miner) claimDrop(ctx context.Context, drop *twitch.TimedDrop) bool {
	if drop.Claimed() {
		return true
	}
	if !drop.CanClaim(time.Now()) {
		return false
	}
	claimed := false
	resp, err := m.cfg.GQL.Request(ctx, gql.Op("ClaimDrop").WithVariables(map[string]any{
		"input": map[string]any{"dropInstanceID": drop.ClaimID()},
	}))
	if err != nil {
		logx.Errorf("miner", "drop claim failed for %s: %v", drop.ID, err)
	} else {
		var data struct {
			ClaimDropRewards *struct {
				Status string `json:"status"`
			} `json:"claimDropRewards"`
		}
		if err := resp.Decode(&data); err == nil && data.ClaimDropRewards != nil {
			switch data.ClaimDropRewards.Status {
			case "ELIGIBLE_FOR_ALL", "DROP_INSTANCE_ALREADY_CLAIMED":
				claimed = true
			}
		}
	}
	if !claimed {
		logx.Errorf("miner", "drop claim has potentially failed, drop: %s", drop.ID)
		return false
	}

	drop.MarkClaimed()
	campaign := drop.Campaign
	logx.Infof("miner", "claimed drop: %s (%s, %d/%d)",
		drop.RewardsText(", "), campaign.Game.Name, campaign.ClaimedDrops(), campaign.TotalDrops())
	if m.cfg.History != nil {
		benefits := make([]string, len(drop.Benefits))
		for i, b := range drop.Benefits {
			benefits[i] = b.Name
		}
		m.cfg.History.RecordClaim(history.Claim{
			DropID:       drop.ID,
			CampaignID:   campaign.ID,
			CampaignName: campaign.Name,
			GameName:     campaign.Game.Name,
			DropName:     drop.Name,
			Benefits:     benefits,
			ClaimedAt:    time.Now(),
		})
	}
	m.cfg.Notifier.DropClaimed(drop)
	return true
}

// recordMinutes journals the drop's watched-minute total.
func (m *Miner) recordMinutes(drop *twitch.TimedDrop) {
	if m.cfg.History != nil {
		m.cfg.History.RecordMinutes(drop.ID, drop.CurrentMinutes())
	}
}

func boolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// campaignSortTime is the deadline key for inventory ordering: start time
// for campaigns not yet running, end time otherwise.
func campaignSortTime(c *twitch.Campaign, now time.Time) time.Time {
	if c.Upcoming(now) {
		return c.StartsAt
	}
	return c.EndsAt
}

// decodeMap round-trips a raw JSON object into a typed struct.
func decodeMap(raw map[string]any, v any) error {
	blob, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, v)
}

// dropText formats a drop for progress log lines.
func dropText(drop *twitch.TimedDrop) string {
	return fmt.Sprintf("%s (%s, %d/%d)",
		drop.Name, drop.Campaign.Game, drop.CurrentMinutes(), drop.RequiredMinutes)
}

func joinGameNames(games []*twitch.Game) string {
	names := make([]string, len(games))
	for i, g := range games {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}
