package engine

import (
	"math"
	"sort"
	"time"
)

const (
	baseScore     = 1000
	maxSpeedBonus = 500
)

// scoreAnswer computes the points for one answer. The bonus scales with
// the time remaining when the answer arrived; a wrong answer is always 0.
func scoreAnswer(correct bool, elapsed, limit time.Duration) int {
	if !correct {
		return 0
	}
	if limit <= 0 {
		return baseScore
	}
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	bonus := int(math.Floor(maxSpeedBonus * remaining.Seconds() / limit.Seconds()))
	return baseScore + bonus
}

// computeLeaderboard sums each player's recorded scores (missing answers count
// as 0) and sorts descending. The sort is stable over join order, so equal
// totals rank by who joined first.
func computeLeaderboard(players []*Player, answers map[string][]*Answer) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		total := 0
		for _, a := range answers[p.ID] {
			if a != nil {
				total += a.Score
			}
		}
		entries = append(entries, LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Wallet:   p.Wallet,
			Score:    total,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}
