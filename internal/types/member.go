// Package types defines the records shared by the cache, the remote
// directory client and the sync ledger.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MembershipStatus is the membership state reported by the remote directory.
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "ACTIVE"
	StatusExpired MembershipStatus = "EXPIRED"
	StatusPending MembershipStatus = "PENDING"
	StatusUnknown MembershipStatus = "UNKNOWN"
)

// ParseMembershipStatus maps a loosely formatted status string onto a
// MembershipStatus. Anything unrecognized becomes StatusUnknown.
func ParseMembershipStatus(s string) MembershipStatus {
	switch MembershipStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive
	case StatusExpired:
		return StatusExpired
	case StatusPending:
		return StatusPending
	default:
		return StatusUnknown
	}
}

// Member is an identity record.
//
// ExternalID is assigned by the remote directory and never changes. A
// member with an empty ExternalID was created locally and has not been
// reconciled yet. LocalID is the cache's surrogate key.
type Member struct {
	LocalID          int64            `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	ExternalID       string           `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	FirstName        string           `json:"first_name" yaml:"first_name"`
	LastName         string           `json:"last_name" yaml:"last_name"`
	Email            string           `json:"email,omitempty" yaml:"email,omitempty"`
	Phone            string           `json:"phone,omitempty" yaml:"phone,omitempty"`
	MembershipStatus MembershipStatus `json:"membership_status" yaml:"membership_status"`
	MembershipExpiry *time.Time       `json:"membership_expiry,omitempty" yaml:"membership_expiry,omitempty"`
	LastSyncedAt     time.Time        `json:"last_synced_at" yaml:"last_synced_at"`
}

// FullName returns "First Last", trimmed.
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// IsLocalOnly reports whether the member has not been reconciled with the
// remote directory.
func (m *Member) IsLocalOnly() bool {
	return m.ExternalID == ""
}

// Validate checks a locally entered member: a name and a known status.
func (m *Member) Validate() error {
	if m.FirstName == "" && m.LastName == "" {
		return fmt.Errorf("member name is required")
	}
	if m.MembershipStatus == "" {
		return fmt.Errorf("membership status is required")
	}
	return m.validateStatus()
}

// ValidateSnapshot checks a record received from the remote directory. Only
// the external id is required; the directory is the source of truth for
// everything else. An empty status is allowed and stored as UNKNOWN.
func (m *Member) ValidateSnapshot() error {
	if m.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	if m.MembershipStatus == "" {
		return nil
	}
	return m.validateStatus()
}

func (m *Member) validateStatus() error {
	switch m.MembershipStatus {
	case StatusActive, StatusExpired, StatusPending, StatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid membership status %q", m.MembershipStatus)
	}
}
