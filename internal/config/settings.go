package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/zeebo/xxh3"
)

// InventoryFilters controls which campaigns the inventory view surfaces.
// The core only persists these; filtering itself happens in the frontend.
type InventoryFilters struct {
	GameNameSearch   []string `json:"game_name_search"`
	ShowActive       bool     `json:"show_active"`
	ShowBenefitBadge bool     `json:"show_benefit_badge"`
	ShowBenefitEmote bool     `json:"show_benefit_emote"`
	ShowBenefitItem  bool     `json:"show_benefit_item"`
	ShowBenefitOther bool     `json:"show_benefit_other"`
	ShowExpired      bool     `json:"show_expired"`
	ShowFinished     bool     `json:"show_finished"`
	ShowNotLinked    bool     `json:"show_not_linked"`
	ShowUpcoming     bool     `json:"show_upcoming"`
}

// Settings is the persistent settings file. Loading merges the on-disk JSON
// against the defaults template: unknown keys are dropped, wrong-typed values
// are replaced by their default, missing keys are filled in. The file on disk
// is therefore always round-trippable regardless of what previous versions or
// hand edits left behind.
type Settings struct {
	ConnectionQuality             int              `json:"connection_quality"`
	DarkMode                      bool             `json:"dark_mode"`
	GamesToWatch                  []string         `json:"games_to_watch"`
	Language                      string           `json:"language"`
	InventoryFilters              InventoryFilters `json:"inventory_filters"`
	MinimumRefreshIntervalMinutes int              `json:"minimum_refresh_interval_minutes"`
	MiningBenefits                map[string]bool  `json:"mining_benefits"`
	Proxy                         string           `json:"proxy"`

	lastSum uint64
	hasSum  bool
}

// DefaultSettings returns the defaults template.
func DefaultSettings() *Settings {
	return &Settings{
		ConnectionQuality: 1,
		DarkMode:          false,
		GamesToWatch:      []string{},
		Language:          "English",
		InventoryFilters: InventoryFilters{
			GameNameSearch:   []string{},
			ShowActive:       false,
			ShowBenefitBadge: true,
			ShowBenefitEmote: true,
			ShowBenefitItem:  true,
			ShowBenefitOther: true,
			ShowExpired:      false,
			ShowFinished:     false,
			ShowNotLinked:    true,
			ShowUpcoming:     true,
		},
		MinimumRefreshIntervalMinutes: 30,
		MiningBenefits: map[string]bool{
			"BADGE":              true,
			"DIRECT_ENTITLEMENT": true,
			"EMOTE":              true,
			"UNKNOWN":            true,
		},
		Proxy: "",
	}
}

// LoadSettings reads and merges the settings file at path. A missing file
// yields the defaults; a file that exists but cannot be read or parsed is an
// error so a corrupt file never silently resets user configuration.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	template, err := toJSONMap(DefaultSettings())
	if err != nil {
		return nil, err
	}
	mergeJSON(raw, template)

	merged, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("merge settings: %w", err)
	}
	s := &Settings{}
	if err := json.Unmarshal(merged, s); err != nil {
		return nil, fmt.Errorf("merge settings: %w", err)
	}
	return s, nil
}

// Save writes the settings to path with sorted keys. Writes are skipped when
// the serialized content hasn't changed since the last successful Save.
func (s *Settings) Save(path string) error {
	b, err := s.marshalSorted()
	if err != nil {
		return err
	}
	sum := xxh3.Hash(b)
	if s.hasSum && sum == s.lastSum {
		return nil
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.lastSum = sum
	s.hasSum = true
	return nil
}

// marshalSorted produces the canonical on-disk form: keys sorted, 4-space
// indentation. Round-tripping through a map gets encoding/json's sorted map
// key order instead of struct field order.
func (s *Settings) marshalSorted() ([]byte, error) {
	m, err := toJSONMap(s)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return b, nil
}

func toJSONMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return m, nil
}

// mergeJSON merges obj against template in place: keys absent from the
// template are deleted, values whose JSON type differs from the template's
// are overwritten with the template value, nested objects merge recursively,
// and missing keys are filled in from the template.
func mergeJSON(obj, template map[string]any) {
	for k, v := range obj {
		tv, ok := template[k]
		if !ok {
			delete(obj, k)
			continue
		}
		if !sameJSONType(v, tv) {
			obj[k] = tv
			continue
		}
		if m, ok := v.(map[string]any); ok {
			mergeJSON(m, tv.(map[string]any))
		}
	}
	for k, tv := range template {
		if _, ok := obj[k]; !ok {
			obj[k] = tv
		}
	}
}

func sameJSONType(a, b any) bool {
	switch b.(type) {
	case map[string]any:
		_, ok := a.(map[string]any)
		return ok
	case []any:
		_, ok := a.([]any)
		return ok
	case string:
		_, ok := a.(string)
		return ok
	case float64:
		_, ok := a.(float64)
		return ok
	case bool:
		_, ok := a.(bool)
		return ok
	case nil:
		return a == nil
	}
	return false
}
