package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forwhat-rbx/clannr-sub000/internal/binding"
)

// UpsertBinding creates or replaces the binding keyed on guild and role
func (r *Repository) UpsertBinding(ctx context.Context, b binding.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}

	remove := b.RolesToRemove
	if remove == nil {
		remove = []string{}
	}
	encoded, err := json.Marshal(remove)
	if err != nil {
		return fmt.Errorf("failed to encode roles to remove: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO role_bindings (guild_id, discord_role_id, roblox_rank_name, min_rank_id, max_rank_id, roles_to_remove, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id, discord_role_id) DO UPDATE SET
			roblox_rank_name = excluded.roblox_rank_name,
			min_rank_id = excluded.min_rank_id,
			max_rank_id = excluded.max_rank_id,
			roles_to_remove = excluded.roles_to_remove,
			updated_at = excluded.updated_at`,
		b.GuildID, b.DiscordRoleID, b.RobloxRankName, b.MinRank, b.MaxRank, string(encoded), now, now,
	)
	return err
}

// GetBindings returns a guild's bindings ordered by rank range
func (r *Repository) GetBindings(ctx context.Context, guildID string) ([]binding.Binding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT guild_id, discord_role_id, roblox_rank_name, min_rank_id, max_rank_id, roles_to_remove, created_at, updated_at
		 FROM role_bindings WHERE guild_id = ? ORDER BY min_rank_id, max_rank_id, discord_role_id`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []binding.Binding
	for rows.Next() {
		var (
			b      binding.Binding
			remove string
		)
		if err := rows.Scan(&b.GuildID, &b.DiscordRoleID, &b.RobloxRankName, &b.MinRank, &b.MaxRank, &remove, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(remove), &b.RolesToRemove); err != nil {
			return nil, fmt.Errorf("binding %s has malformed roles_to_remove: %w", b.DiscordRoleID, err)
		}
		bindings = append(bindings, b)
	}

	return bindings, rows.Err()
}

// DeleteBinding removes one binding
func (r *Repository) DeleteBinding(ctx context.Context, guildID, discordRoleID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM role_bindings WHERE guild_id = ? AND discord_role_id = ?`,
		guildID, discordRoleID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
