// Package lock provides per-user locking for concurrent balance operations.
// Property-based tests for concurrent balance safety.
package lock

import (
	"strconv"
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentBalanceSafetyProperty checks that for any set of concurrent
// balance operations on the same user, the final balance is consistent with
// sequential execution of all operations.
func TestConcurrentBalanceSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Generate initial balance
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")

		// Generate number of concurrent operations (2-20)
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		// Generate operations (mix of positive and negative amounts)
		amounts := make([]int64, numOps)
		expectedFinalBalance := initialBalance
		for i := 0; i < numOps; i++ {
			amount := rapid.Int64Range(-500, 500).Draw(t, "amount")
			amounts[i] = amount
			expectedFinalBalance += amount
		}

		// Generate a user ID (Discord-style snowflake string)
		userID := strconv.FormatInt(rapid.Int64Range(1, 1000000).Draw(t, "userID"), 10)

		// Create a fresh UserLock for this test
		ul := NewUserLock()

		balance := initialBalance

		// Execute operations concurrently WITH locking
		var wg sync.WaitGroup
		wg.Add(numOps)

		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				// Simulate balance update (read-modify-write)
				balance += amount
			}(amount)
		}

		wg.Wait()

		// Property: Final balance should equal expected (sequential execution result)
		if balance != expectedFinalBalance {
			t.Fatalf("Balance mismatch with locking: expected %d, got %d (initial=%d, numOps=%d)",
				expectedFinalBalance, balance, initialBalance, numOps)
		}
	})
}

// TestWithPairLockNoDeadlockProperty checks that concurrent transfers between
// the same pair of users, locked in both orders, always complete. Ordered
// acquisition inside WithPairLock is what prevents the deadlock.
func TestWithPairLockNoDeadlockProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numTransfers := rapid.IntRange(2, 30).Draw(t, "numTransfers")

		userA := "user-" + strconv.Itoa(rapid.IntRange(1, 1000).Draw(t, "a"))
		userB := "user-" + strconv.Itoa(rapid.IntRange(1001, 2000).Draw(t, "b"))

		ul := NewUserLock()

		balances := map[string]int64{userA: 10000, userB: 10000}
		total := balances[userA] + balances[userB]

		var wg sync.WaitGroup
		wg.Add(numTransfers)

		for i := 0; i < numTransfers; i++ {
			from, to := userA, userB
			if i%2 == 1 {
				from, to = userB, userA
			}
			go func(from, to string) {
				defer wg.Done()
				_ = ul.WithPairLock(from, to, func() error {
					balances[from] -= 7
					balances[to] += 7
					return nil
				})
			}(from, to)
		}

		wg.Wait()

		// Property: total is conserved and no transfer was lost
		if balances[userA]+balances[userB] != total {
			t.Fatalf("Total not conserved: %d + %d != %d",
				balances[userA], balances[userB], total)
		}
	})
}

// TestWithLockFunctionProperty checks that WithLock serializes read-modify-write
// sequences and propagates the callback's return value.
func TestWithLockFunctionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 15).Draw(t, "numOps")

		userID := "user-" + strconv.Itoa(rapid.IntRange(1, 1000000).Draw(t, "userID"))

		ul := NewUserLock()
		balance := initialBalance

		var wg sync.WaitGroup
		wg.Add(numOps)

		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = ul.WithLock(userID, func() error {
					balance += 10
					return nil
				})
			}()
		}

		wg.Wait()

		expected := initialBalance + int64(numOps)*10
		if balance != expected {
			t.Fatalf("WithLock balance mismatch: expected %d, got %d", expected, balance)
		}
	})
}
