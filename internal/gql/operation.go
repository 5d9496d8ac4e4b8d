// Package gql implements the persisted-query GraphQL client: a fixed
// registry of (operationName, sha256Hash) pairs, a rate-limited request
// loop with per-error-class retry policy, and the data-merge helper used to
// combine campaign payloads from different operations.
package gql

import "encoding/json"

// Endpoint is the platform's GraphQL gateway.
const Endpoint = "https://gql.twitch.tv/gql"

// Operation is a persisted query: the wire payload names the operation and
// its registered sha256 hash instead of carrying a query string. Registry
// entries are shared; treat Variables as read-only and derive per-call
// copies with WithVariables.
type Operation struct {
	Name      string
	Hash      string
	Variables map[string]any
}

// WithVariables returns a copy of op with vars merged over its variables.
// Nested maps merge recursively; values from vars win.
func (op Operation) WithVariables(vars map[string]any) Operation {
	op.Variables = mergeVars(op.Variables, vars)
	return op
}

func mergeVars(base, vars map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(vars))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range vars {
		if bm, ok := out[k].(map[string]any); ok {
			if vm, ok := v.(map[string]any); ok {
				out[k] = mergeVars(bm, vm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// MarshalJSON emits the persisted-query wire shape:
//
//	{"operationName": …, "extensions": {"persistedQuery":
//	{"version": 1, "sha256Hash": …}}, "variables": {…}}
func (op Operation) MarshalJSON() ([]byte, error) {
	type persistedQuery struct {
		Version    int    `json:"version"`
		Sha256Hash string `json:"sha256Hash"`
	}
	type extensions struct {
		PersistedQuery persistedQuery `json:"persistedQuery"`
	}
	type wire struct {
		OperationName string         `json:"operationName"`
		Extensions    extensions     `json:"extensions"`
		Variables     map[string]any `json:"variables,omitempty"`
	}
	return json.Marshal(wire{
		OperationName: op.Name,
		Extensions:    extensions{persistedQuery{Version: 1, Sha256Hash: op.Hash}},
		Variables:     op.Variables,
	})
}
