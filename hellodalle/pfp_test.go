package hellodalle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeMember is a ChatMember backed by plain fields.
type fakeMember struct {
	id          string
	displayName string
	avatarURL   string
	roles       []string
	admin       bool
}

func (m fakeMember) ID() string {
	return m.id
}

func (m fakeMember) DisplayName() string {
	return m.displayName
}

func (m fakeMember) AvatarURL(_ string) string {
	return m.avatarURL
}

func (m fakeMember) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range m.roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (m fakeMember) IsAdmin() bool {
	return m.admin
}

func TestHasPFPPermission(t *testing.T) {
	t.Parallel()

	hd := newPromptTestBot(t)
	hd.config.Discord.BotUserRoleID = "role-123"

	admin := fakeMember{id: "1", admin: true}
	roleHolder := fakeMember{id: "2", roles: []string{"role-123", "role-456"}}
	regular := fakeMember{id: "3", roles: []string{"role-456"}}

	assert.True(t, hd.hasPFPPermission(admin))
	assert.True(t, hd.hasPFPPermission(roleHolder))
	assert.False(t, hd.hasPFPPermission(regular))

	// pfp-anyone opens the command to everyone
	hd.config.Generation.PFPAnyone = true
	assert.True(t, hd.hasPFPPermission(regular))
}

func TestHasPFPPermissionNoRoleConfigured(t *testing.T) {
	t.Parallel()

	hd := newPromptTestBot(t)
	hd.config.Discord.BotUserRoleID = ""

	// With no role configured, a member holding arbitrary roles is
	// still just a regular user
	member := fakeMember{id: "1", roles: []string{"role-456"}}
	assert.False(t, hd.hasPFPPermission(member))
}
