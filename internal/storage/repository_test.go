package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "data", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestAddXPCreatesUserAndLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.AddXP(ctx, "1001", 50, "raid", "42")
	require.NoError(t, err)
	assert.Equal(t, 50, u.XP)
	assert.NotNil(t, u.LastActivity)

	u, err = repo.AddXP(ctx, "1001", -80, "penalty", "42")
	require.NoError(t, err)
	assert.Equal(t, 0, u.XP, "xp is clamped at zero")

	logs, err := repo.GetXPLogs(ctx, "1001")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, -80, logs[0].Amount)
	assert.Equal(t, "raid", logs[1].Reason)
}

func TestGetAllUsersPreservesInsertionOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ids := []string{"30", "10", "20"}
	for _, id := range ids {
		_, err := repo.AddXP(ctx, id, 1, "", "")
		require.NoError(t, err)
	}

	users, err := repo.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	for i, id := range ids {
		assert.Equal(t, id, users[i].RobloxID)
	}
}

func TestUpdateUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.AddXP(ctx, "7", 10, "", "")
	require.NoError(t, err)

	xp, raids := 250, 3
	raidAt := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	u, err := repo.UpdateUser(ctx, "7", UserUpdate{XP: &xp, Raids: &raids, LastRaid: &raidAt})
	require.NoError(t, err)
	assert.Equal(t, 250, u.XP)
	assert.Equal(t, 3, u.Raids)
	require.NotNil(t, u.LastRaid)
	assert.True(t, raidAt.Equal(*u.LastRaid))
	assert.Nil(t, u.LastScrim)

	neg := -1
	_, err = repo.UpdateUser(ctx, "7", UserUpdate{XP: &neg})
	assert.Error(t, err)

	_, err = repo.UpdateUser(ctx, "missing", UserUpdate{XP: &xp})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLinkDiscordMovesLink(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LinkDiscord(ctx, "1", "discord-a")
	require.NoError(t, err)
	_, err = repo.LinkDiscord(ctx, "2", "discord-a")
	require.NoError(t, err)

	u, err := repo.GetUserByDiscordID(ctx, "discord-a")
	require.NoError(t, err)
	assert.Equal(t, "2", u.RobloxID)

	old, err := repo.GetUser(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, old.DiscordID)
}

func TestDeleteUserRemovesLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.AddXP(ctx, "5", 10, "", "")
	require.NoError(t, err)

	require.NoError(t, repo.DeleteUser(ctx, "5"))

	_, err = repo.GetUser(ctx, "5")
	assert.ErrorIs(t, err, ErrNotFound)
	logs, err := repo.GetXPLogs(ctx, "5")
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, repo.DeleteUser(ctx, "5"), ErrNotFound)
}

func TestBindings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBinding(ctx, binding.Binding{
		GuildID: "g", DiscordRoleID: "officer", RobloxRankName: "Officer", MinRank: 10, MaxRank: 255,
	}))
	require.NoError(t, repo.UpsertBinding(ctx, binding.Binding{
		GuildID: "g", DiscordRoleID: "member", MinRank: 1, MaxRank: 9, RolesToRemove: []string{"unverified"},
	}))
	require.NoError(t, repo.UpsertBinding(ctx, binding.Binding{
		GuildID: "other", DiscordRoleID: "member", MinRank: 1, MaxRank: 255,
	}))

	err := repo.UpsertBinding(ctx, binding.Binding{GuildID: "g", DiscordRoleID: "bad", MinRank: 5, MaxRank: 1})
	assert.ErrorIs(t, err, binding.ErrInvalidRange)

	bindings, err := repo.GetBindings(ctx, "g")
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "member", bindings[0].DiscordRoleID)
	assert.Equal(t, []string{"unverified"}, bindings[0].RolesToRemove)
	assert.Empty(t, bindings[1].RolesToRemove)

	require.NoError(t, repo.UpsertBinding(ctx, binding.Binding{
		GuildID: "g", DiscordRoleID: "officer", RobloxRankName: "Command", MinRank: 20, MaxRank: 255,
	}))
	bindings, err = repo.GetBindings(ctx, "g")
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "Command", bindings[1].RobloxRankName)
	assert.Equal(t, 20, bindings[1].MinRank)

	require.NoError(t, repo.DeleteBinding(ctx, "g", "officer"))
	assert.ErrorIs(t, repo.DeleteBinding(ctx, "g", "officer"), ErrNotFound)
}

func TestAuditEntries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	faker := gofakeit.New(7)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.InsertAuditEntry(ctx, &AuditEntry{
			ID:       faker.UUID(),
			Action:   "promotion",
			ActorID:  "42",
			TargetID: "1001",
			Detail:   faker.Sentence(4),
		}))
	}

	entries, err := repo.GetAuditEntries(ctx, "1001", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "promotion", entries[0].Action)
}
