package credential

import (
	"errors"
	"fmt"
)

// Stage identifies which external credential call failed.
type Stage string

const (
	StageToken  Stage = "token"
	StageTicket Stage = "ticket"
)

// ErrURLRequired is returned when GetSignature is called without a URL.
var ErrURLRequired = errors.New("url is required")

// CredentialError reports a failed call to the credential authority.
// Err never contains the application secret.
type CredentialError struct {
	Stage Stage
	Err   error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %v", e.Stage, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// IsCredential reports whether err is (or wraps) a CredentialError.
func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
