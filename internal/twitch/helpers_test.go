package twitch

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func benefitEdge(id, name, distribution string) BenefitEdge {
	var e BenefitEdge
	e.Benefit.ID = id
	e.Benefit.Name = name
	e.Benefit.DistributionType = distribution
	e.Benefit.ImageAssetURL = "https://static.example/" + id + ".png"
	return e
}

// dropData builds a drop live from an hour ago to a day ahead.
func dropData(id string, required int, benefits ...BenefitEdge) DropData {
	return DropData{
		ID:                     id,
		Name:                   "Drop " + id,
		BenefitEdges:           benefits,
		StartAt:                testNow.Add(-time.Hour),
		EndAt:                  testNow.Add(24 * time.Hour),
		RequiredMinutesWatched: required,
	}
}

// campaignData builds an active, linked campaign for the game "Alpha".
func campaignData(drops ...DropData) CampaignData {
	return CampaignData{
		ID:             "camp-1",
		Name:           "Alpha Rewards",
		Game:           &GameData{ID: 11, DisplayName: "Alpha"},
		Self:           CampaignSelfData{IsAccountConnected: true},
		AccountLinkURL: "https://game.example/link",
		StartAt:        testNow.Add(-2 * time.Hour),
		EndAt:          testNow.Add(48 * time.Hour),
		Status:         "ACTIVE",
		TimeBasedDrops: drops,
	}
}

func mustCampaign(t *testing.T, data CampaignData, claimed map[string]time.Time) *Campaign {
	t.Helper()
	c, err := NewCampaign(data, claimed)
	if err != nil {
		t.Fatalf("NewCampaign: %v", err)
	}
	return c
}

// liveChannel builds an online channel streaming the given game.
func liveChannel(id int64, login string, game *Game, viewers int) *Channel {
	return &Channel{
		ID:    id,
		Login: login,
		Name:  login,
		stream: &Stream{
			BroadcastID:  id*100 + 1,
			Game:         game,
			Title:        "live",
			DropsEnabled: true,
			viewers:      viewers,
		},
	}
}
