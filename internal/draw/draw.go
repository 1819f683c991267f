// Package draw implements weighted winner selection for lotteries.
package draw

import (
	"math/rand"
	"sort"
	"time"
)

// SelectWinners picks up to winnerCount distinct winners from the ticket
// pool. Each ticket is one chance: a user holding N tickets appears N times
// in the pool, so their odds per pick are proportional to their holdings.
//
// Drawing is without replacement, one ticket at a time. A user can win at
// most once; when a drawn ticket belongs to a user already in the winner
// list, that single ticket is discarded and the draw continues. The winner's
// remaining tickets stay in the pool and keep diluting later picks until
// they are drawn and burned.
//
// If the pool runs out before winnerCount distinct winners are found, the
// partial winner list is returned. An empty participant map yields an empty
// list. Neither case is an error.
//
// A nil rng falls back to a time-seeded source. Tests inject a seeded one
// for determinism.
func SelectWinners(participants map[string]int, winnerCount int, rng *rand.Rand) []string {
	winners := []string{}
	if winnerCount <= 0 || len(participants) == 0 {
		return winners
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	// Map iteration order is randomized, so the pool is expanded over
	// sorted keys to keep same-seed draws reproducible.
	userIDs := make([]string, 0, len(participants))
	for userID := range participants {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	pool := make([]string, 0)
	for _, userID := range userIDs {
		for i := 0; i < participants[userID]; i++ {
			pool = append(pool, userID)
		}
	}

	won := make(map[string]bool, winnerCount)
	for len(winners) < winnerCount && len(pool) > 0 {
		i := rng.Intn(len(pool))
		userID := pool[i]

		// Remove the single drawn ticket.
		pool[i] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]

		if won[userID] {
			continue
		}
		won[userID] = true
		winners = append(winners, userID)
	}

	return winners
}
