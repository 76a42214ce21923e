package binding

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned for a binding whose minimum rank exceeds its maximum
var ErrInvalidRange = errors.New("binding min rank is greater than max rank")

// Binding maps a Discord role to an inclusive Roblox rank range
type Binding struct {
	GuildID        string
	DiscordRoleID  string
	RobloxRankName string // display only
	MinRank        int
	MaxRank        int
	RolesToRemove  []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Applies reports whether a member at the given rank should hold the role
func (b Binding) Applies(rank int) bool {
	return rank >= b.MinRank && rank <= b.MaxRank
}

// Validate checks the binding before it is persisted
func (b Binding) Validate() error {
	if b.GuildID == "" || b.DiscordRoleID == "" {
		return fmt.Errorf("binding requires a guild and a role")
	}
	if b.MinRank > b.MaxRank {
		return fmt.Errorf("%w: %d > %d", ErrInvalidRange, b.MinRank, b.MaxRank)
	}
	return nil
}
