package types

import "errors"

// Error taxonomy shared by every layer.
//
// Lower layers wrap these with context; callers test with errors.Is():
//
//	if errors.Is(err, types.ErrNotFound) {
//	    // render "no such member"
//	}
var (
	// ErrConfigurationMissing is returned when a required credential or
	// path is absent. The affected backend is reported DISCONNECTED and
	// nothing is retried until the configuration changes.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrRemoteUnavailable is returned for network failures and timeouts
	// talking to the remote directory.
	ErrRemoteUnavailable = errors.New("remote directory unavailable")

	// ErrAuthenticationRejected is returned when the remote directory
	// answers 401/403 after the single re-authentication attempt.
	ErrAuthenticationRejected = errors.New("authentication rejected")

	// ErrNotFound means neither the cache nor the remote directory knows
	// the identity. It is a defined result, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrStoreWrite wraps local persistence failures.
	ErrStoreWrite = errors.New("local store write failed")

	// ErrSyncFailure is recorded in the sync ledger when a cloud push fails.
	ErrSyncFailure = errors.New("cloud sync failed")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrSyncFailure)
}

// IsUserActionRequired returns true if the error needs a configuration or
// credential change before it can succeed.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConfigurationMissing) || errors.Is(err, ErrAuthenticationRejected)
}
