package roblox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/forwhat-rbx/clannr-sub000/internal/cache"
)

const (
	rolesCacheTTL = 10 * time.Minute
	namesCacheTTL = 30 * time.Minute
)

// Role is a rank within a group
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// GroupMember is a user as seen by a group, regardless of which endpoint produced it
type GroupMember struct {
	ID   int64
	Name string
	Role Role
}

// GroupInfo is the subset of group metadata the bot reads
type GroupInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

type rolesResponse struct {
	GroupID int64  `json:"groupId"`
	Roles   []Role `json:"roles"`
}

type userGroupRolesResponse struct {
	Data []struct {
		Group GroupInfo `json:"group"`
		Role  Role      `json:"role"`
	} `json:"data"`
}

type userResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Group is an initialised handle on one Roblox group
type Group struct {
	client *Client
	info   GroupInfo
	roles  *cache.TTL[int64, []Role]
	names  *cache.TTL[int64, string]
}

// LoadGroup fetches group metadata and a CSRF token. It fails until both the
// group and the session are reachable.
func (c *Client) LoadGroup(ctx context.Context, groupID int64) (*Group, error) {
	var info GroupInfo
	url := fmt.Sprintf("%s/v1/groups/%d", c.urls.Groups, groupID)
	if err := c.get(ctx, "get group", url, &info); err != nil {
		return nil, fmt.Errorf("failed to load group %d: %w", groupID, err)
	}
	if err := c.RefreshAuth(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	c.logger.Info("Loaded Roblox group", "group", info.Name, "groupID", info.ID, "members", info.MemberCount)
	return &Group{
		client: c,
		info:   info,
		roles:  cache.NewTTL[int64, []Role](rolesCacheTTL),
		names:  cache.NewTTL[int64, string](namesCacheTTL),
	}, nil
}

// Info returns the group metadata captured at load time
func (g *Group) Info() GroupInfo {
	return g.info
}

// GetRoles returns the group's roles ordered by rank
func (g *Group) GetRoles(ctx context.Context) ([]Role, error) {
	if roles, ok := g.roles.Get(g.info.ID); ok {
		return append([]Role(nil), roles...), nil
	}

	var resp rolesResponse
	url := fmt.Sprintf("%s/v1/groups/%d/roles", g.client.urls.Groups, g.info.ID)
	if err := g.client.get(ctx, "get roles", url, &resp); err != nil {
		return nil, err
	}

	sort.Slice(resp.Roles, func(i, j int) bool { return resp.Roles[i].Rank < resp.Roles[j].Rank })
	g.roles.Set(g.info.ID, resp.Roles)
	return append([]Role(nil), resp.Roles...), nil
}

// GetMember returns the user's role in the group, or ErrNotInGroup
func (g *Group) GetMember(ctx context.Context, userID int64) (*GroupMember, error) {
	var resp userGroupRolesResponse
	url := fmt.Sprintf("%s/v2/users/%d/groups/roles", g.client.urls.Groups, userID)
	if err := g.client.get(ctx, "get member", url, &resp); err != nil {
		return nil, err
	}

	for _, entry := range resp.Data {
		if entry.Group.ID != g.info.ID {
			continue
		}
		return &GroupMember{
			ID:   userID,
			Name: g.username(ctx, userID),
			Role: entry.Role,
		}, nil
	}
	return nil, ErrNotInGroup
}

// UpdateMember sets the user's role in the group
func (g *Group) UpdateMember(ctx context.Context, userID, roleID int64) error {
	url := fmt.Sprintf("%s/v1/groups/%d/users/%d", g.client.urls.Groups, g.info.ID, userID)
	body := map[string]int64{"roleId": roleID}
	return g.client.doRequest(ctx, "update member", http.MethodPatch, url, body, nil)
}

// RefreshAuth refreshes the session CSRF token
func (g *Group) RefreshAuth(ctx context.Context) error {
	return g.client.RefreshAuth(ctx)
}

// username is display-only, so a lookup failure degrades to the numeric id
func (g *Group) username(ctx context.Context, userID int64) string {
	if name, ok := g.names.Get(userID); ok {
		return name
	}

	var resp userResponse
	url := fmt.Sprintf("%s/v1/users/%d", g.client.urls.Users, userID)
	if err := g.client.get(ctx, "get user", url, &resp); err != nil || resp.Name == "" {
		if err != nil && !errors.Is(err, context.Canceled) {
			g.client.logger.Debug("Failed to resolve Roblox username", "userID", userID, "error", err)
		}
		return strconv.FormatInt(userID, 10)
	}

	g.names.Set(userID, resp.Name)
	return resp.Name
}

// SweepCaches drops expired role and username entries
func (g *Group) SweepCaches() {
	removed := g.roles.Sweep() + g.names.Sweep()
	if removed > 0 {
		g.client.logger.Debug("Swept Roblox caches", "removed", removed, "roles", g.roles.Len(), "names", g.names.Len())
	}
}
