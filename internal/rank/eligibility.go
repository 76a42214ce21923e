package rank

// FindHighestEligible returns the highest rank above currentRank whose XP
// threshold is met. The winner is chosen by rank, not by threshold, so a
// member is promoted as far as they currently qualify.
func FindHighestEligible(currentRank, xp int, table Table) (Entry, bool) {
	var (
		best  Entry
		found bool
	)
	for _, e := range table.Sorted() {
		if e.XP > xp || e.Rank <= currentRank {
			continue
		}
		if !found || e.Rank > best.Rank {
			best = e
			found = true
		}
	}
	return best, found
}
