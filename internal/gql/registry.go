package gql

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/driftwatch/driftwatch/internal/logx"
)

// registry maps friendly operation keys to their persisted-query identities.
// Hashes are platform constants and must match its registry exactly; they are
// never computed at runtime. Variables listed here are the fixed defaults;
// per-call values are layered on with WithVariables.
var registry = map[string]Operation{
	// stream information for a particular channel
	"GetStreamInfo": {
		Name: "VideoPlayerStreamInfoOverlayChannel",
		Hash: "198492e0857f6aedead9665c81c5a06d67b25b58034649687124083ff288597d",
	},
	// claims channel points
	"ClaimCommunityPoints": {
		Name: "ClaimCommunityPoints",
		Hash: "46aaeebe02c99afdf4fc97c7c0cba964124bf6b0af229395f1f6d1feed05b3d0",
	},
	// claims a drop
	"ClaimDrop": {
		Name: "DropsPage_ClaimDropRewards",
		Hash: "a455deea71bdc9015b78eb49f4acfbce8baa7ccbedd28e549bb025bd0f751930",
	},
	// current state of channel points for a particular channel
	"ChannelPointsContext": {
		Name: "ChannelPointsContext",
		Hash: "374314de591e69925fce3ddc2bcf085796f56ebb8cad67a0daa3165c03adc345",
	},
	// all in-progress campaigns
	"Inventory": {
		Name: "Inventory",
		Hash: "d86775d0ef16a63a33ad52e80eaff963b2d5b72fada7c991504a57496e1d8e4b",
		Variables: map[string]any{
			"fetchRewardCampaigns": false,
		},
	},
	// current drop progress on the watched channel
	"CurrentDrop": {
		Name: "DropCurrentSessionContext",
		Hash: "4d06b702d25d652afb9ef835d2a550031f1cf762b193523a92166f40ea3d142b",
		Variables: map[string]any{
			"channelLogin": "",
		},
	},
	// all available campaigns
	"Campaigns": {
		Name: "ViewerDropsDashboard",
		Hash: "5a4da2ab3d5b47c9f9ce864e727b2cb346af1e3ea8b897fe8f704a97ff017619",
		Variables: map[string]any{
			"fetchRewardCampaigns": false,
		},
	},
	// extended information about a particular campaign
	"CampaignDetails": {
		Name: "DropCampaignDetails",
		Hash: "039277bf98f3130929262cc7c6efd9c141ca3749cb6dca442fc8ead9a53f77c1",
	},
	// drops available for a particular channel
	"AvailableDrops": {
		Name: "DropsHighlightService_AvailableDrops",
		Hash: "9a62a09bce5b53e26e64a671e530bc599cb6aab1e5ba3cbd5d85966d3940716f",
	},
	// stream playback access token
	"PlaybackAccessToken": {
		Name: "PlaybackAccessToken",
		Hash: "ed230aa1e33e07eebb8928504583da78a5173989fadfb1ac94be06a04f3cdbe9",
		Variables: map[string]any{
			"isLive":     true,
			"isVod":      false,
			"platform":   "web",
			"playerType": "site",
			"vodID":      "",
		},
	},
	// live channels for a particular game
	"GameDirectory": {
		Name: "DirectoryPage_Game",
		Hash: "98a996c3c3ebb1ba4fd65d6671c6028d7ee8d615cb540b0731b3db2a911d3649",
		Variables: map[string]any{
			"limit":              30,
			"imageWidth":         50,
			"includeCostreaming": false,
			"options": map[string]any{
				"broadcasterLanguages":   []any{},
				"freeformTags":           nil,
				"includeRestricted":      []any{"SUB_ONLY_LIVE"},
				"recommendationsContext": map[string]any{"platform": "web"},
				"sort":                   "RELEVANCE",
				"systemFilters":          []any{},
				"tags":                   []any{},
				"requestID":              "JIRA-VXP-2397",
			},
			"sortTypeIsRecency": false,
		},
	},
	// turns a game name into a game slug
	"SlugRedirect": {
		Name: "DirectoryGameRedirect",
		Hash: "1f0300090caceec51f33c5e20647aceff9017f740f223c3c532ba6fa59f6b6cc",
	},
	// triggers the notifications "update-summary" event
	"NotificationsView": {
		Name: "OnsiteNotifications_View",
		Hash: "e8e06193f8df73d04a1260df318585d1bd7a7bb447afa058e52095513f2bfa4f",
		Variables: map[string]any{
			"input": map[string]any{},
		},
	},
	"NotificationsList": {
		Name: "OnsiteNotifications_ListNotifications",
		Hash: "11cdb54a2706c2c0b2969769907675680f02a6e77d8afe79a749180ad16bfea6",
		Variables: map[string]any{
			"cursor":                  "",
			"displayType":             "VIEWER",
			"language":                "en",
			"limit":                   10,
			"shouldLoadLastBroadcast": false,
		},
	},
	"NotificationsDelete": {
		Name: "OnsiteNotifications_DeleteNotification",
		Hash: "13d463c831f28ffe17dccf55b3148ed8b3edbbd0ebadd56352f1ff0160616816",
		Variables: map[string]any{
			"input": map[string]any{
				"id": "",
			},
		},
	},
}

// Op returns the named operation. Unknown keys panic: the registry is a
// compile-time constant, so a miss is a programmer error.
func Op(name string) Operation {
	op, ok := registry[name]
	if !ok {
		panic(fmt.Sprintf("gql: unknown operation %q", name))
	}
	return op
}

// LoadHashOverrides layers operationKey→sha256Hash pairs from a YAML file
// over the registry. Persisted hashes rotate upstream; the override file
// keeps a deployed binary working without a rebuild. A missing file is fine;
// an override for an unknown operation key is an error.
func LoadHashOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		op, ok := registry[key]
		if !ok {
			return fmt.Errorf("hash override for unknown operation %q", key)
		}
		op.Hash = overrides[key]
		registry[key] = op
		logx.Infof("gql", "hash override: %s = %s", key, overrides[key])
	}
	return nil
}
