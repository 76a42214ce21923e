package rank

import (
	"fmt"
	"sort"
)

// Entry maps an XP threshold to a target group rank
type Entry struct {
	Rank int `yaml:"rank"`
	XP   int `yaml:"xp"`
}

// Table is the configured list of promotion thresholds
type Table []Entry

// Sorted returns a copy of the table ordered by XP ascending.
// Entries with equal XP are ordered by rank.
func (t Table) Sorted() Table {
	sorted := make(Table, len(t))
	copy(sorted, t)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].XP == sorted[j].XP {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].XP < sorted[j].XP
	})
	return sorted
}

// Validate reports configuration problems. None of them are fatal: the
// resolver still behaves correctly, but the table probably isn't what the
// operator meant.
func (t Table) Validate() []error {
	var problems []error
	for _, e := range t {
		if e.XP < 0 {
			problems = append(problems, fmt.Errorf("rank %d has negative xp threshold %d", e.Rank, e.XP))
		}
		if e.Rank <= 0 || e.Rank > 255 {
			problems = append(problems, fmt.Errorf("rank %d is outside the group rank range 1-255", e.Rank))
		}
	}

	sorted := t.Sorted()
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.XP > prev.XP && cur.Rank < prev.Rank {
			problems = append(problems, fmt.Errorf(
				"threshold %d xp maps to rank %d, lower than rank %d at %d xp", cur.XP, cur.Rank, prev.Rank, prev.XP,
			))
		}
	}
	return problems
}
