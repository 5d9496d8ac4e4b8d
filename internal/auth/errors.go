package auth

import "errors"

// ErrLoginFailed is returned when the login flow exhausts its attempts:
// token validation failed twice in a row, or the stored token kept belonging
// to a different client id after a full cookie reset.
var ErrLoginFailed = errors.New("auth: login verification failure")
