package auth

import "errors"

// ErrInvalidCredential covers every verification failure: missing,
// malformed, expired or wrongly signed. Callers surface it to clients only
// as a generic "Unauthorized".
var ErrInvalidCredential = errors.New("invalid credential")
