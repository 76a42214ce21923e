package binding

import (
	"fmt"
	"sort"
)

// Delta is the set of role changes that brings a member in line with their rank.
// Both slices are sorted.
type Delta struct {
	ToAdd    []string
	ToRemove []string
}

// Empty reports whether the member is already in sync
func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Reconcile computes role changes for a member holding memberRoles at robloxRank.
//
// Only roles the bindings manage are ever removed: roles bound to any range,
// plus roles listed in RolesToRemove of an applicable binding. An explicit
// removal wins over applicability, so a role is never added and removed in
// the same pass and the result reaches a fixed point after one application.
func Reconcile(memberRoles []string, robloxRank int, bindings []Binding) Delta {
	held := toSet(memberRoles)

	bound := make(map[string]struct{}, len(bindings))
	applicable := make(map[string]struct{})
	explicit := make(map[string]struct{})
	for _, b := range bindings {
		bound[b.DiscordRoleID] = struct{}{}
		if !b.Applies(robloxRank) {
			continue
		}
		applicable[b.DiscordRoleID] = struct{}{}
		for _, id := range b.RolesToRemove {
			explicit[id] = struct{}{}
		}
	}

	targets := make(map[string]struct{}, len(applicable))
	for id := range applicable {
		if _, stripped := explicit[id]; !stripped {
			targets[id] = struct{}{}
		}
	}

	var delta Delta
	for id := range targets {
		if _, ok := held[id]; !ok {
			delta.ToAdd = append(delta.ToAdd, id)
		}
	}
	for id := range held {
		_, isBound := bound[id]
		_, isTarget := targets[id]
		_, isExplicit := explicit[id]
		if (isBound && !isTarget) || isExplicit {
			delta.ToRemove = append(delta.ToRemove, id)
		}
	}

	sort.Strings(delta.ToAdd)
	sort.Strings(delta.ToRemove)
	return delta
}

// Conflict describes a binding that strips the role of another binding
// across an overlapping rank range.
type Conflict struct {
	Remover  Binding
	Stripped Binding
	MinRank  int
	MaxRank  int
}

func (c Conflict) String() string {
	return fmt.Sprintf("role %s (ranks %d-%d) removes role %s, which is also granted at ranks %d-%d",
		c.Remover.DiscordRoleID, c.Remover.MinRank, c.Remover.MaxRank,
		c.Stripped.DiscordRoleID, c.MinRank, c.MaxRank)
}

// Conflicts finds rank ranges where a binding's RolesToRemove includes a role
// that another binding would grant at the same rank.
func Conflicts(bindings []Binding) []Conflict {
	var conflicts []Conflict
	for _, remover := range bindings {
		strip := toSet(remover.RolesToRemove)
		for _, other := range bindings {
			if other.DiscordRoleID == remover.DiscordRoleID {
				continue
			}
			if _, ok := strip[other.DiscordRoleID]; !ok {
				continue
			}
			lo, hi := max(remover.MinRank, other.MinRank), min(remover.MaxRank, other.MaxRank)
			if lo > hi {
				continue
			}
			conflicts = append(conflicts, Conflict{Remover: remover, Stripped: other, MinRank: lo, MaxRank: hi})
		}
	}
	return conflicts
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
