package twitch

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewCampaign_RequiresGame(t *testing.T) {
	data := campaignData(dropData("d1", 15))
	data.Game = nil
	if _, err := NewCampaign(data, nil); err == nil {
		t.Fatal("expected an error for a campaign without a game")
	}
}

func TestNewCampaign_ACL(t *testing.T) {
	off := false
	tests := []struct {
		name  string
		allow AllowData
		want  int
	}{
		{"no allow list", AllowData{}, 0},
		{"enabled by default", AllowData{
			Channels: []ACLChannelData{{ID: 1, Name: "cha"}, {ID: 2, Name: "chb", DisplayName: "ChB"}},
		}, 2},
		{"explicitly disabled", AllowData{
			Channels:  []ACLChannelData{{ID: 1, Name: "cha"}},
			IsEnabled: &off,
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := campaignData(dropData("d1", 15))
			data.Allow = tt.allow
			c := mustCampaign(t, data, nil)
			if len(c.AllowedChannels) != tt.want {
				t.Fatalf("AllowedChannels = %d, want %d", len(c.AllowedChannels), tt.want)
			}
			for _, ch := range c.AllowedChannels {
				if !ch.ACLBased {
					t.Fatalf("%s should be ACL-based", ch)
				}
				if ch.Online() {
					t.Fatalf("%s should start offline", ch)
				}
			}
		})
	}
}

func TestCampaign_Phases(t *testing.T) {
	c := mustCampaign(t, campaignData(dropData("d1", 15)), nil)

	if !c.Active(testNow) || c.Upcoming(testNow) || c.Expired(testNow) {
		t.Fatal("campaign should be active at testNow")
	}
	before := c.StartsAt.Add(-time.Minute)
	if c.Active(before) || !c.Upcoming(before) {
		t.Fatal("campaign should be upcoming before its start")
	}
	after := c.EndsAt
	if c.Active(after) || !c.Expired(after) {
		t.Fatal("campaign should be expired at its end")
	}

	data := campaignData(dropData("d1", 15))
	data.Status = "EXPIRED"
	dead := mustCampaign(t, data, nil)
	if !dead.Expired(testNow) || dead.Active(testNow) {
		t.Fatal("EXPIRED status should force the expired phase")
	}
}

func TestCampaign_Eligible(t *testing.T) {
	tests := []struct {
		name   string
		linked bool
		distro string
		want   bool
	}{
		{"linked", true, "DIRECT_ENTITLEMENT", true},
		{"unlinked entitlement", false, "DIRECT_ENTITLEMENT", false},
		{"unlinked emote", false, "EMOTE", true},
		{"unlinked badge", false, "BADGE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := campaignData(dropData("d1", 15, benefitEdge("b1", "Reward", tt.distro)))
			data.Self.IsAccountConnected = tt.linked
			c := mustCampaign(t, data, nil)
			if got := c.Eligible(); got != tt.want {
				t.Fatalf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCampaign_CanEarnAgainstChannel(t *testing.T) {
	data := campaignData(dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT")))
	data.Allow.Channels = []ACLChannelData{{ID: 10, Name: "allowed"}}
	c := mustCampaign(t, data, nil)

	alpha := c.Game
	beta := NewGame(GameData{ID: 99, DisplayName: "Beta"})

	inACL := liveChannel(10, "allowed", alpha, 100)
	outACL := liveChannel(11, "other", alpha, 100)
	wrongGame := liveChannel(10, "allowed", beta, 100)
	offline := &Channel{ID: 10, Login: "allowed", Name: "allowed"}

	if !c.CanEarn(testNow, inACL) {
		t.Fatal("allowed channel on the right game should earn")
	}
	if c.CanEarn(testNow, outACL) {
		t.Fatal("channel outside the allow list should not earn")
	}
	if c.CanEarn(testNow, wrongGame) {
		t.Fatal("allowed channel on the wrong game should not earn")
	}
	if c.CanEarn(testNow, offline) {
		t.Fatal("offline channel should not earn")
	}
	if !c.CanEarn(testNow, nil) {
		t.Fatal("nil channel should only check eligibility and drops")
	}

	open := mustCampaign(t, campaignData(dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT"))), nil)
	if !open.CanEarn(testNow, outACL) {
		t.Fatal("without an allow list any channel on the game should earn")
	}
}

func TestCampaign_CanEarnWithin(t *testing.T) {
	hour := testNow.Add(time.Hour)

	soon := dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT"))
	soon.StartAt = testNow.Add(30 * time.Minute)
	soon.EndAt = testNow.Add(5 * time.Hour)

	later := dropData("d2", 15, benefitEdge("b2", "Skin", "DIRECT_ENTITLEMENT"))
	later.StartAt = testNow.Add(2 * time.Hour)
	later.EndAt = testNow.Add(5 * time.Hour)

	data := campaignData(soon)
	data.StartAt = soon.StartAt // campaign not active yet
	c := mustCampaign(t, data, nil)
	if c.CanEarn(testNow, nil) {
		t.Fatal("upcoming campaign should not earn now")
	}
	if !c.CanEarnWithin(testNow, hour) {
		t.Fatal("campaign starting within the hour should be wanted")
	}

	farData := campaignData(later)
	farData.StartAt = later.StartAt
	far := mustCampaign(t, farData, nil)
	if far.CanEarnWithin(testNow, hour) {
		t.Fatal("campaign starting past the horizon should not be wanted")
	}
}

func TestCampaign_FirstDrop(t *testing.T) {
	near := dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT"))
	near.Self = &DropSelfData{CurrentMinutesWatched: 10} // 5 remaining
	far := dropData("d2", 60, benefitEdge("b2", "Skin", "DIRECT_ENTITLEMENT"))

	c := mustCampaign(t, campaignData(far, near), nil)
	first := c.FirstDrop(testNow)
	if first == nil || first.ID != "d1" {
		t.Fatalf("FirstDrop = %v, want d1", first)
	}

	// No drop earnable implies no first drop.
	c.GetDrop("d1").MarkClaimed()
	c.GetDrop("d2").MarkClaimed()
	if got := c.FirstDrop(testNow); got != nil {
		t.Fatalf("FirstDrop = %v, want nil once everything is claimed", got)
	}
	if c.CanEarn(testNow, nil) {
		t.Fatal("CanEarn should agree with FirstDrop being nil")
	}
}

func TestCampaign_TimeTriggers(t *testing.T) {
	d1 := dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT"))
	d2 := dropData("d2", 30, benefitEdge("b2", "Skin", "DIRECT_ENTITLEMENT"))
	d2.StartAt = testNow.Add(3 * time.Hour)
	d2.EndAt = testNow.Add(6 * time.Hour)

	c := mustCampaign(t, campaignData(d1, d2), nil)
	triggers := c.TimeTriggers()

	// campaign start/end + d1 start/end + d2 start/end, all distinct
	if len(triggers) != 6 {
		t.Fatalf("TimeTriggers = %d instants, want 6", len(triggers))
	}
	seen := make(map[time.Time]bool, len(triggers))
	for _, tr := range triggers {
		if seen[tr] {
			t.Fatalf("duplicate trigger %v", tr)
		}
		seen[tr] = true
	}
	if !seen[c.StartsAt] || !seen[c.EndsAt] {
		t.Fatal("campaign bounds missing from triggers")
	}
}

func TestCampaign_Counters(t *testing.T) {
	d1 := dropData("d1", 15, benefitEdge("b1", "Skin", "DIRECT_ENTITLEMENT"))
	d1.Self = &DropSelfData{IsClaimed: true}
	d2 := dropData("d2", 30, benefitEdge("b2", "Skin", "DIRECT_ENTITLEMENT"))
	d2.Self = &DropSelfData{CurrentMinutesWatched: 15}

	c := mustCampaign(t, campaignData(d1, d2), nil)
	if got := c.TotalDrops(); got != 2 {
		t.Fatalf("TotalDrops = %d", got)
	}
	if got := c.ClaimedDrops(); got != 1 {
		t.Fatalf("ClaimedDrops = %d", got)
	}
	if got := c.RemainingDrops(); got != 1 {
		t.Fatalf("RemainingDrops = %d", got)
	}
	if c.Finished() {
		t.Fatal("campaign with an unclaimed drop is not finished")
	}
	if got, want := c.Progress(), 0.75; got != want {
		t.Fatalf("Progress = %v, want %v", got, want)
	}

	c.GetDrop("d2").MarkClaimed()
	if !c.Finished() {
		t.Fatal("campaign should be finished")
	}
}

func TestCampaignData_DecodeJSON(t *testing.T) {
	raw := `{
		"id": "camp-9",
		"name": "Launch Party",
		"game": {"id": "515025", "displayName": "Alpha", "slug": "alpha", "boxArtURL": "https://img/a.jpg"},
		"self": {"isAccountConnected": true},
		"accountLinkURL": "https://game.example/link",
		"startAt": "2024-05-10T10:00:00Z",
		"endAt": "2024-05-12T10:00:00.000Z",
		"status": "ACTIVE",
		"allow": {"channels": [{"id": 55, "name": "acme", "displayName": "Acme"}]},
		"timeBasedDrops": [{
			"id": "d-9",
			"name": "Starter Pack",
			"benefitEdges": [{"benefit": {"id": "b-9", "name": "Pack", "distributionType": "DIRECT_ENTITLEMENT", "imageAssetURL": "https://img/b.png"}}],
			"startAt": "2024-05-10T10:00:00Z",
			"endAt": "2024-05-12T10:00:00Z",
			"requiredMinutesWatched": 120,
			"preconditionDrops": null,
			"self": {"dropInstanceID": null, "isClaimed": false, "currentMinutesWatched": 12}
		}]
	}`
	var data CampaignData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c, err := NewCampaign(data, nil)
	if err != nil {
		t.Fatalf("NewCampaign: %v", err)
	}
	if c.Game.ID != 515025 || c.Game.Slug != "alpha" {
		t.Fatalf("game = %+v", c.Game)
	}
	if len(c.AllowedChannels) != 1 || c.AllowedChannels[0].ID != 55 {
		t.Fatalf("allowed channels = %v", c.AllowedChannels)
	}
	d := c.GetDrop("d-9")
	if d == nil {
		t.Fatal("drop d-9 missing")
	}
	if d.ClaimID() != "" {
		t.Fatalf("null dropInstanceID should decode to empty, got %q", d.ClaimID())
	}
	if got := d.CurrentMinutes(); got != 12 {
		t.Fatalf("CurrentMinutes = %d", got)
	}
	if d.RequiredMinutes != 120 {
		t.Fatalf("RequiredMinutes = %d", d.RequiredMinutes)
	}
}
