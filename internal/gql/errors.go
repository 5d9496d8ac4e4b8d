package gql

import "fmt"

// Error is a fatal GraphQL-level failure: the gateway answered the HTTP
// request but rejected the operation in a way the retry matrix does not
// cover. Errors carries the raw errors[] payload when present.
type Error struct {
	Op      string
	Message string
	Errors  []map[string]any
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Op != "":
		return fmt.Sprintf("gql %s: %s", e.Op, e.Message)
	case e.Message != "":
		return "gql: " + e.Message
	case e.Op != "":
		return fmt.Sprintf("gql %s: %v", e.Op, e.Errors)
	default:
		return fmt.Sprintf("gql: %v", e.Errors)
	}
}
