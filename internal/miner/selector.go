package miner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// WantedGame is one entry of the wanted-campaigns tree: a configured game
// with the campaigns and unclaimed drops the miner would work on for it.
type WantedGame struct {
	GameID    int64            `json:"game_id"`
	GameName  string           `json:"game_name"`
	GameIcon  string           `json:"game_icon,omitempty"`
	Campaigns []WantedCampaign `json:"campaigns"`

	game *twitch.Game
}

type WantedCampaign struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	URL   string       `json:"url"`
	Drops []WantedDrop `json:"drops"`
}

type WantedDrop struct {
	Name     string   `json:"name"`
	Benefits []string `json:"benefits"`
}

// WantedTree resolves the configured game names against the campaign
// inventory. A game makes the tree when some campaign for it can be
// progressed within the next hour and still has unclaimed drops whose
// benefits pass the benefit filter. Campaign matching is case-insensitive
// on the game name; the tree keeps the configured spelling.
func WantedTree(gamesToWatch []string, benefitFilter map[string]bool, campaigns []*twitch.Campaign, now time.Time) []WantedGame {
	nextHour := now.Add(time.Hour)
	tree := make([]WantedGame, 0, len(gamesToWatch))
	for _, name := range gamesToWatch {
		lower := strings.ToLower(name)
		var game *twitch.Game
		var wantedCampaigns []WantedCampaign
		for _, campaign := range campaigns {
			if strings.ToLower(campaign.Game.Name) != lower {
				continue
			}
			if game == nil {
				game = campaign.Game
			}
			if !campaign.CanEarnWithin(now, nextHour) {
				continue
			}
			var drops []WantedDrop
			for _, drop := range campaign.Drops() {
				if drop.Claimed() {
					continue
				}
				wanted := drop.WantedUnclaimedBenefits(benefitFilter)
				if len(wanted) == 0 {
					continue
				}
				names := make([]string, len(wanted))
				for i, b := range wanted {
					names[i] = b.Name
				}
				drops = append(drops, WantedDrop{Name: drop.Name, Benefits: names})
			}
			if len(drops) == 0 {
				continue
			}
			wantedCampaigns = append(wantedCampaigns, WantedCampaign{
				ID:    campaign.ID,
				Name:  campaign.Name,
				URL:   campaign.CampaignURL,
				Drops: drops,
			})
		}
		if len(wantedCampaigns) == 0 {
			continue
		}
		entry := WantedGame{GameName: name, Campaigns: wantedCampaigns, game: game}
		if game != nil {
			entry.GameID = game.ID
			entry.GameIcon = game.BoxArtURL
		}
		tree = append(tree, entry)
	}
	return tree
}

// Games returns the game objects backing the tree, in tree order.
func Games(tree []WantedGame) []*twitch.Game {
	games := make([]*twitch.Game, 0, len(tree))
	for _, entry := range tree {
		if entry.game != nil {
			games = append(games, entry.game)
		}
	}
	return games
}

// writeDump prints the wanted-campaigns tree as indented JSON.
func (m *Miner) writeDump() {
	out := m.cfg.DumpTo
	if out == nil {
		out = os.Stdout
	}
	tree := WantedTree(m.cfg.Settings.GamesToWatch, m.cfg.Settings.MiningBenefits, m.Inventory(), time.Now())
	blob, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		logx.Errorf("miner", "dump: %v", err)
		return
	}
	fmt.Fprintln(out, string(blob))
}
