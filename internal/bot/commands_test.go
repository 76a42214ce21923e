package bot

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
	"github.com/forwhat-rbx/clannr-sub000/internal/rolesync"
)

func TestParseRoleIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "mentions", input: "<@&123456789012345678> <@&223456789012345678>", want: []string{"123456789012345678", "223456789012345678"}},
		{name: "raw and commas", input: "123456789012345678,223456789012345678", want: []string{"123456789012345678", "223456789012345678"}},
		{name: "duplicates", input: "<@&123456789012345678> 123456789012345678", want: []string{"123456789012345678"}},
		{name: "too short", input: "12345", want: nil},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRoleIDs(tt.input))
		})
	}
}

func TestValidRobloxID(t *testing.T) {
	assert.True(t, validRobloxID("1"))
	assert.True(t, validRobloxID("3141592653"))
	assert.False(t, validRobloxID("0"))
	assert.False(t, validRobloxID("-4"))
	assert.False(t, validRobloxID("builderman"))
}

func TestIsAdmin(t *testing.T) {
	withPerms := func(p int64) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Member: &discordgo.Member{Permissions: p}}}
	}

	assert.True(t, isAdmin(withPerms(discordgo.PermissionManageRoles)))
	assert.True(t, isAdmin(withPerms(discordgo.PermissionManageRoles|discordgo.PermissionSendMessages)))
	assert.False(t, isAdmin(withPerms(discordgo.PermissionSendMessages)))
	assert.False(t, isAdmin(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}))
}

func TestAdminCommandsAreDefined(t *testing.T) {
	b := &Bot{}
	defined := make(map[string]bool)
	for _, cmd := range b.getCommandDefinitions() {
		defined[cmd.Name] = true
	}
	for name := range adminCommands {
		assert.True(t, defined[name], "admin command %s has no definition", name)
	}
	assert.False(t, adminCommands["update"])
}

func TestFormatSyncResult(t *testing.T) {
	assert.Equal(t, "Roblox rank: **Private** (2)\nYour roles are already up to date.",
		formatSyncResult(&rolesync.Result{Rank: 2, RankName: "Private"}))

	got := formatSyncResult(&rolesync.Result{
		Rank: 10, RankName: "Sergeant",
		Added:     []string{"1"},
		RemoveErr: errors.New("forbidden"),
		Nickname:  "builderman",
	})
	assert.Equal(t, "Roblox rank: **Sergeant** (10)\nAdded: <@&1>\nSome role changes failed; the bot may be missing permissions.\nNickname set to `builderman`.", got)
}

func TestFormatBindingList(t *testing.T) {
	assert.Contains(t, formatBindingList(nil, nil), "No role bindings")

	bindings := []binding.Binding{
		{DiscordRoleID: "A", MinRank: 1, MaxRank: 10, RobloxRankName: "Enlisted"},
		{DiscordRoleID: "B", MinRank: 5, MaxRank: 20, RolesToRemove: []string{"A"}},
	}
	out := formatBindingList(bindings, binding.Conflicts(bindings))
	assert.Contains(t, out, "1. <@&A> to ranks 1-10 (Enlisted)")
	assert.Contains(t, out, "2. <@&B> to ranks 5-20, removes <@&A>")
	assert.Contains(t, out, "**Conflicts:**")
}
