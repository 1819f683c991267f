// Property-based tests for winner selection.
package draw

import (
	"math/rand"
	"testing"

	"pgregory.net/rapid"
)

// genParticipants draws a random participant map with 0-20 users holding
// 1-10 tickets each.
func genParticipants(t *rapid.T) map[string]int {
	ids := rapid.SliceOfNDistinct(
		rapid.StringMatching(`[0-9]{6,18}`), 0, 20, rapid.ID[string],
	).Draw(t, "ids")

	participants := make(map[string]int, len(ids))
	for _, id := range ids {
		participants[id] = rapid.IntRange(1, 10).Draw(t, "tickets")
	}
	return participants
}

// TestSelectWinnersBoundsProperty checks that for any participant map the
// result holds at most winnerCount ids, every id is a participant, and no id
// repeats.
func TestSelectWinnersBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants := genParticipants(t)
		winnerCount := rapid.IntRange(1, 25).Draw(t, "winnerCount")
		seed := rapid.Int64().Draw(t, "seed")

		winners := SelectWinners(participants, winnerCount, rand.New(rand.NewSource(seed)))

		if len(winners) > winnerCount {
			t.Fatalf("got %d winners, want at most %d", len(winners), winnerCount)
		}

		seen := make(map[string]bool)
		for _, w := range winners {
			if _, ok := participants[w]; !ok {
				t.Fatalf("winner %q is not a participant", w)
			}
			if seen[w] {
				t.Fatalf("winner %q appeared twice", w)
			}
			seen[w] = true
		}
	})
}

// TestSelectWinnersExhaustionProperty checks that the result is shorter than
// winnerCount only when there are fewer distinct participants than
// winnerCount, in which case every participant wins.
func TestSelectWinnersExhaustionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants := genParticipants(t)
		winnerCount := rapid.IntRange(1, 25).Draw(t, "winnerCount")
		seed := rapid.Int64().Draw(t, "seed")

		winners := SelectWinners(participants, winnerCount, rand.New(rand.NewSource(seed)))

		want := winnerCount
		if len(participants) < want {
			want = len(participants)
		}
		if len(winners) != want {
			t.Fatalf("got %d winners, want %d (participants=%d, winnerCount=%d)",
				len(winners), want, len(participants), winnerCount)
		}
	})
}

// TestSelectWinnersInputUntouchedProperty checks that selection never
// mutates the participant map it is handed.
func TestSelectWinnersInputUntouchedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants := genParticipants(t)
		winnerCount := rapid.IntRange(1, 10).Draw(t, "winnerCount")
		seed := rapid.Int64().Draw(t, "seed")

		before := make(map[string]int, len(participants))
		for k, v := range participants {
			before[k] = v
		}

		SelectWinners(participants, winnerCount, rand.New(rand.NewSource(seed)))

		if len(participants) != len(before) {
			t.Fatalf("participant map size changed: %d -> %d", len(before), len(participants))
		}
		for k, v := range before {
			if participants[k] != v {
				t.Fatalf("ticket count for %q changed: %d -> %d", k, v, participants[k])
			}
		}
	})
}
