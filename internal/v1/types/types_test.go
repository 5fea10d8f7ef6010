package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleTypeConstants(t *testing.T) {
	assert.Equal(t, RoleType("initiator"), RoleTypeInitiator)
	assert.Equal(t, RoleType("responder"), RoleTypeResponder)
}

func TestOpaqueIdentifiers(t *testing.T) {
	assert.Equal(t, "u-123", string(UserIDType("u-123")))
	assert.Equal(t, "r-456", string(RoomIDType("r-456")))
	assert.Equal(t, "aabbcc", string(TokenType("aabbcc")))
}

func TestRoleTypeComparison(t *testing.T) {
	role1 := RoleTypeInitiator
	role2 := RoleTypeInitiator
	role3 := RoleTypeResponder

	assert.Equal(t, role1, role2)
	assert.NotEqual(t, role1, role3)
}
