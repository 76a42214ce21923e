package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `roblox_id, discord_id, xp, raids, defenses, scrims, trainings,
	last_activity, last_raid, last_defense, last_scrim, last_training,
	suspended_until, banned, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var (
		discordID                                                 sql.NullString
		lastActivity, lastRaid, lastDefense, lastScrim, lastTrain sql.NullTime
		suspendedUntil                                            sql.NullTime
	)
	err := row.Scan(
		&u.RobloxID, &discordID, &u.XP, &u.Raids, &u.Defenses, &u.Scrims, &u.Trainings,
		&lastActivity, &lastRaid, &lastDefense, &lastScrim, &lastTrain,
		&suspendedUntil, &u.Banned, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.DiscordID = discordID.String
	u.LastActivity = nullTime(lastActivity)
	u.LastRaid = nullTime(lastRaid)
	u.LastDefense = nullTime(lastDefense)
	u.LastScrim = nullTime(lastScrim)
	u.LastTraining = nullTime(lastTrain)
	u.SuspendedUntil = nullTime(suspendedUntil)
	return u, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *Repository) queryUser(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUser finds a user by Roblox ID
func (r *Repository) GetUser(ctx context.Context, robloxID string) (*User, error) {
	return r.queryUser(ctx, `roblox_id = ?`, robloxID)
}

// GetUserByDiscordID finds the user linked to a Discord account
func (r *Repository) GetUserByDiscordID(ctx context.Context, discordID string) (*User, error) {
	return r.queryUser(ctx, `discord_id = ?`, discordID)
}

// GetAllUsers returns every user in insertion order
func (r *Repository) GetAllUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// UpdateUser applies the non-nil fields of upd and returns the updated user
func (r *Repository) UpdateUser(ctx context.Context, robloxID string, upd UserUpdate) (*User, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if upd.XP != nil {
		if *upd.XP < 0 {
			return nil, fmt.Errorf("xp cannot be negative: %d", *upd.XP)
		}
		add("xp", *upd.XP)
	}
	if upd.Raids != nil {
		add("raids", *upd.Raids)
	}
	if upd.Defenses != nil {
		add("defenses", *upd.Defenses)
	}
	if upd.Scrims != nil {
		add("scrims", *upd.Scrims)
	}
	if upd.Trainings != nil {
		add("trainings", *upd.Trainings)
	}
	if upd.LastActivity != nil {
		add("last_activity", upd.LastActivity.UTC())
	}
	if upd.LastRaid != nil {
		add("last_raid", upd.LastRaid.UTC())
	}
	if upd.LastDefense != nil {
		add("last_defense", upd.LastDefense.UTC())
	}
	if upd.LastScrim != nil {
		add("last_scrim", upd.LastScrim.UTC())
	}
	if upd.LastTraining != nil {
		add("last_training", upd.LastTraining.UTC())
	}
	if upd.SuspendedUntil != nil {
		add("suspended_until", upd.SuspendedUntil.UTC())
	}
	if upd.Banned != nil {
		add("banned", *upd.Banned)
	}

	if len(sets) == 0 {
		return r.GetUser(ctx, robloxID)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, robloxID)

	result, err := r.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE roblox_id = ?`, args...)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.GetUser(ctx, robloxID)
}

// AddXP adjusts a user's XP, creating the user on first grant, and records the
// change in the XP log. XP never drops below zero.
func (r *Repository) AddXP(ctx context.Context, robloxID string, amount int, reason, grantedBy string) (*User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (roblox_id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(roblox_id) DO NOTHING`,
		robloxID, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET xp = MAX(0, xp + ?), last_activity = ?, updated_at = ? WHERE roblox_id = ?`,
		amount, now, now, robloxID,
	); err != nil {
		return nil, fmt.Errorf("failed to update xp: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO xp_logs (roblox_id, amount, reason, granted_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		robloxID, amount, reason, grantedBy, now,
	); err != nil {
		return nil, fmt.Errorf("failed to write xp log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetUser(ctx, robloxID)
}

// LinkDiscord associates a Discord account with a Roblox ID, creating the user
// if needed. Any previous owner of the Discord account is unlinked.
func (r *Repository) LinkDiscord(ctx context.Context, robloxID, discordID string) (*User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET discord_id = NULL, updated_at = ? WHERE discord_id = ? AND roblox_id <> ?`,
		now, discordID, robloxID,
	); err != nil {
		return nil, fmt.Errorf("failed to unlink previous account: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (roblox_id, discord_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(roblox_id) DO UPDATE SET discord_id = excluded.discord_id, updated_at = excluded.updated_at`,
		robloxID, discordID, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to link user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetUser(ctx, robloxID)
}

// DeleteUser removes a user and their XP log in one transaction
func (r *Repository) DeleteUser(ctx context.Context, robloxID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM xp_logs WHERE roblox_id = ?`, robloxID); err != nil {
		return fmt.Errorf("failed to delete xp logs: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE roblox_id = ?`, robloxID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetXPLogs returns a user's XP history, newest first
func (r *Repository) GetXPLogs(ctx context.Context, robloxID string) ([]*XPLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, roblox_id, amount, reason, granted_by, created_at FROM xp_logs WHERE roblox_id = ? ORDER BY id DESC`,
		robloxID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*XPLog
	for rows.Next() {
		l := &XPLog{}
		if err := rows.Scan(&l.ID, &l.RobloxID, &l.Amount, &l.Reason, &l.GrantedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}
