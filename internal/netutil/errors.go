package netutil

import (
	"errors"
	"fmt"
)

// ErrRequestInvalid is returned when a request's invalidate_after deadline
// would land inside the next attempt's timeout window, so retrying it can no
// longer succeed in time.
var ErrRequestInvalid = errors.New("request invalidated")

// StatusError reports a non-retryable HTTP status the caller did not expect.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}
