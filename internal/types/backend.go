package types

import "time"

// BackendID identifies one independently monitored dependency.
type BackendID string

const (
	BackendRemoteDirectory BackendID = "REMOTE_DIRECTORY"
	BackendLocalCache      BackendID = "LOCAL_CACHE"
	BackendScannerExport   BackendID = "SCANNER_EXPORT"
	BackendTimeClockStore  BackendID = "TIME_CLOCK_STORE"
)

// AllBackends is the fixed probe order used for reporting.
var AllBackends = []BackendID{
	BackendRemoteDirectory,
	BackendLocalCache,
	BackendScannerExport,
	BackendTimeClockStore,
}

// ConnectionStatus is the liveness of a backend.
type ConnectionStatus string

const (
	ConnUnknown      ConnectionStatus = "UNKNOWN"
	ConnConnecting   ConnectionStatus = "CONNECTING"
	ConnConnected    ConnectionStatus = "CONNECTED"
	ConnDisconnected ConnectionStatus = "DISCONNECTED"
)

// ConnectionState is the monitor's view of one backend.
type ConnectionState struct {
	Backend          BackendID        `json:"backend" yaml:"backend"`
	Status           ConnectionStatus `json:"status" yaml:"status"`
	LastTransitionAt time.Time        `json:"last_transition_at" yaml:"last_transition_at"`
	LastError        string           `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// StateChange is published once per actual status change.
type StateChange struct {
	Backend   BackendID        `json:"backend"`
	OldStatus ConnectionStatus `json:"old_status"`
	NewStatus ConnectionStatus `json:"new_status"`
	Timestamp time.Time        `json:"timestamp"`
}
