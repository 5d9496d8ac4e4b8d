package gql

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOperation_MarshalWireShape(t *testing.T) {
	raw, err := json.Marshal(Op("Inventory"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := wire["operationName"]; got != "Inventory" {
		t.Fatalf("operationName = %v, want Inventory", got)
	}
	pq := wire["extensions"].(map[string]any)["persistedQuery"].(map[string]any)
	if got := pq["version"]; got != float64(1) {
		t.Fatalf("version = %v, want 1", got)
	}
	wantHash := "d86775d0ef16a63a33ad52e80eaff963b2d5b72fada7c991504a57496e1d8e4b"
	if got := pq["sha256Hash"]; got != wantHash {
		t.Fatalf("sha256Hash = %v, want %v", got, wantHash)
	}
	vars := wire["variables"].(map[string]any)
	if got := vars["fetchRewardCampaigns"]; got != false {
		t.Fatalf("fetchRewardCampaigns = %v, want false", got)
	}
}

func TestOperation_WithVariablesMergesNestedMaps(t *testing.T) {
	op := Op("NotificationsDelete").WithVariables(map[string]any{
		"input": map[string]any{"id": "notif-1"},
	})
	input := op.Variables["input"].(map[string]any)
	if got := input["id"]; got != "notif-1" {
		t.Fatalf("input.id = %v, want notif-1", got)
	}

	// The registry entry must stay untouched.
	orig := Op("NotificationsDelete").Variables["input"].(map[string]any)
	if got := orig["id"]; got != "" {
		t.Fatalf("registry input.id = %v, want empty", got)
	}
}

func TestOperation_WithVariablesOverridesScalars(t *testing.T) {
	op := Op("GameDirectory").WithVariables(map[string]any{
		"slug": "alpha",
		"options": map[string]any{
			"systemFilters": []any{"DROPS_ENABLED"},
		},
	})
	if got := op.Variables["slug"]; got != "alpha" {
		t.Fatalf("slug = %v, want alpha", got)
	}
	opts := op.Variables["options"].(map[string]any)
	if got := opts["systemFilters"]; !reflect.DeepEqual(got, []any{"DROPS_ENABLED"}) {
		t.Fatalf("systemFilters = %v, want [DROPS_ENABLED]", got)
	}
	// Untouched fixed option survives the merge.
	if got := opts["requestID"]; got != "JIRA-VXP-2397" {
		t.Fatalf("requestID = %v, want JIRA-VXP-2397", got)
	}
}

func TestOp_PanicsOnUnknownOperation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Op did not panic for an unknown operation")
		}
	}()
	Op("NoSuchOperation")
}

func TestLoadHashOverrides(t *testing.T) {
	t.Run("missing file is fine", func(t *testing.T) {
		if err := LoadHashOverrides(filepath.Join(t.TempDir(), "gql_hashes.yaml")); err != nil {
			t.Fatalf("missing file: %v", err)
		}
	})

	t.Run("override applies", func(t *testing.T) {
		orig := Op("SlugRedirect").Hash
		defer func() {
			op := registry["SlugRedirect"]
			op.Hash = orig
			registry["SlugRedirect"] = op
		}()

		path := filepath.Join(t.TempDir(), "gql_hashes.yaml")
		if err := os.WriteFile(path, []byte("SlugRedirect: abc123\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := LoadHashOverrides(path); err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := Op("SlugRedirect").Hash; got != "abc123" {
			t.Fatalf("hash = %q, want abc123", got)
		}
	})

	t.Run("unknown operation is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gql_hashes.yaml")
		if err := os.WriteFile(path, []byte("NoSuchOperation: abc\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := LoadHashOverrides(path); err == nil {
			t.Fatal("expected error for unknown operation key")
		}
	})
}
