package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMembershipStatus(t *testing.T) {
	tests := []struct {
		in   string
		want MembershipStatus
	}{
		{"active", StatusActive},
		{" EXPIRED ", StatusExpired},
		{"Pending", StatusPending},
		{"frozen", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMembershipStatus(tt.in))
		})
	}
}

func TestMemberValidate(t *testing.T) {
	m := &Member{FirstName: "Ada", MembershipStatus: StatusActive}
	assert.NoError(t, m.Validate())

	m.MembershipStatus = ""
	assert.Error(t, m.Validate())

	m.MembershipStatus = "BANNED"
	assert.Error(t, m.Validate())

	assert.Error(t, (&Member{MembershipStatus: StatusActive}).Validate())
}

func TestMemberValidateSnapshot(t *testing.T) {
	assert.NoError(t, (&Member{ExternalID: "w1", FirstName: "A"}).ValidateSnapshot())
	assert.NoError(t, (&Member{ExternalID: "w2", Email: "only@example.com"}).ValidateSnapshot())
	assert.Error(t, (&Member{FirstName: "A"}).ValidateSnapshot())
	assert.Error(t, (&Member{ExternalID: "w3", MembershipStatus: "BANNED"}).ValidateSnapshot())
}

func TestMemberHelpers(t *testing.T) {
	m := &Member{FirstName: "Ada", LastName: "Lovelace"}
	assert.Equal(t, "Ada Lovelace", m.FullName())
	assert.True(t, m.IsLocalOnly())
	m.ExternalID = "w1"
	assert.False(t, m.IsLocalOnly())
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("get member w1: %w", ErrRemoteUnavailable)
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsUserActionRequired(wrapped))

	rejected := fmt.Errorf("list: %w", ErrAuthenticationRejected)
	assert.False(t, IsRetryable(rejected))
	assert.True(t, IsUserActionRequired(rejected))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsSyncedTable(TableCheckIns))
	assert.False(t, IsSyncedTable("cloud_sync"))
}
