package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// memberPayload is the directory's JSON representation of a member.
type memberPayload struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	MembershipStatus string `json:"membership_status"`
	MembershipExpiry string `json:"membership_expiry,omitempty"`
}

type listPayload struct {
	Members []memberPayload `json:"members"`
	Total   int             `json:"total"`
}

func (p memberPayload) toMember(syncedAt time.Time) (*types.Member, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("directory returned a member without an id")
	}
	m := &types.Member{
		ExternalID:       p.ID,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Email:            p.Email,
		Phone:            p.Phone,
		MembershipStatus: types.ParseMembershipStatus(p.MembershipStatus),
		LastSyncedAt:     syncedAt,
	}
	if p.MembershipExpiry != "" {
		expiry, err := parseExpiry(p.MembershipExpiry)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", p.ID, err)
		}
		m.MembershipExpiry = &expiry
	}
	return m, nil
}

func decodeMembers(body []byte, syncedAt time.Time) ([]*types.Member, error) {
	var list listPayload
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode member list: %w", err)
	}
	members := make([]*types.Member, 0, len(list.Members))
	for _, p := range list.Members {
		m, err := p.toMember(syncedAt)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// parseExpiry accepts either a calendar date or an RFC 3339 timestamp.
func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid membership expiry %q", s)
	}
	return t, nil
}

// MemberPatch lists the fields Update may change. Nil fields are left
// untouched by the directory.
type MemberPatch struct {
	FirstName        *string                 `json:"first_name,omitempty"`
	LastName         *string                 `json:"last_name,omitempty"`
	Email            *string                 `json:"email,omitempty"`
	Phone            *string                 `json:"phone,omitempty"`
	MembershipStatus *types.MembershipStatus `json:"membership_status,omitempty"`
	MembershipExpiry *string                 `json:"membership_expiry,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p MemberPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.Phone == nil && p.MembershipStatus == nil && p.MembershipExpiry == nil
}
