// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"discord-lottery-bot/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runMigrations applies the database schema
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS lotteries (
			id BIGINT PRIMARY KEY,
			prize TEXT NOT NULL,
			winner_count INT NOT NULL,
			min_participants INT NOT NULL DEFAULT 0,
			ticket_price BIGINT NOT NULL DEFAULT 0,
			max_tickets_per_user INT NOT NULL DEFAULT 1,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			participants JSONB NOT NULL DEFAULT '{}',
			total_tickets INT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			winner_list JSONB NOT NULL DEFAULT '[]',
			winner_announced BOOLEAN NOT NULL DEFAULT FALSE,
			is_manual_draw BOOLEAN NOT NULL DEFAULT FALSE,
			channel_id VARCHAR(64) NOT NULL DEFAULT '',
			message_id VARCHAR(64) NOT NULL DEFAULT '',
			guild_id VARCHAR(64) NOT NULL DEFAULT '',
			created_by VARCHAR(64) NOT NULL DEFAULT '',
			terms TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS skulls (
			user_id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS skull_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func newTestLottery(id int64) *model.Lottery {
	now := time.Now().Truncate(time.Millisecond)
	return &model.Lottery{
		ID:                id,
		Prize:             "Discord Nitro",
		WinnerCount:       2,
		MinParticipants:   3,
		TicketPrice:       50,
		MaxTicketsPerUser: 5,
		StartTime:         now,
		EndTime:           now.Add(time.Hour),
		Participants:      map[string]int{"100": 2, "200": 1},
		TotalTickets:      3,
		Status:            model.StatusActive,
		WinnerList:        []string{},
		ChannelID:         "chan-1",
		MessageID:         "msg-1",
		GuildID:           "guild-1",
		CreatedBy:         "admin-1",
		Terms:             model.DefaultTerms,
	}
}

// ============================================================================
// LedgerRepository Tests
// ============================================================================

func TestLedgerRepository_GetBalance_MissingAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	// Unknown users have a zero balance, not an error
	balance, err := repo.GetBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerRepository_CreditCreatesAndAccumulates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	balance, err := repo.Credit(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	balance, err = repo.Credit(ctx, "alice", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	stored, err := repo.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150), stored)
}

func TestLedgerRepository_DebitRejectsOverdraft(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	_, err := repo.Credit(ctx, "alice", 100)
	require.NoError(t, err)

	ok, err := repo.Debit(ctx, "alice", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	// 40 left, another 60 must be rejected without touching the row
	ok, err = repo.Debit(ctx, "alice", 60)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := repo.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestLedgerRepository_DebitMissingAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	ok, err := repo.Debit(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerRepository_TransferAtomicity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	_, err := repo.Credit(ctx, "alice", 100)
	require.NoError(t, err)

	// Receiver account is created by the transfer itself
	ok, err := repo.Transfer(ctx, "alice", "bob", 30)
	require.NoError(t, err)
	assert.True(t, ok)

	aliceBalance, err := repo.GetBalance(ctx, "alice")
	require.NoError(t, err)
	bobBalance, err := repo.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(70), aliceBalance)
	assert.Equal(t, int64(30), bobBalance)

	// Insufficient funds: neither account moves
	ok, err = repo.Transfer(ctx, "alice", "bob", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	aliceBalance, err = repo.GetBalance(ctx, "alice")
	require.NoError(t, err)
	bobBalance, err = repo.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(70), aliceBalance)
	assert.Equal(t, int64(30), bobBalance)
}

func TestLedgerRepository_ConcurrentDebits(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	_, err := repo.Credit(ctx, "alice", 100)
	require.NoError(t, err)

	// 20 concurrent debits of 10 against a balance of 100: exactly 10
	// may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Debit(ctx, "alice", 10)
			if err == nil && ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)

	balance, err := repo.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerRepository_GetTopBalances(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLedgerRepository(pool)
	ctx := context.Background()

	_, err := repo.Credit(ctx, "alice", 300)
	require.NoError(t, err)
	_, err = repo.Credit(ctx, "bob", 100)
	require.NoError(t, err)
	_, err = repo.Credit(ctx, "carol", 200)
	require.NoError(t, err)

	top, err := repo.GetTopBalances(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "alice", top[0].UserID)
	assert.Equal(t, int64(300), top[0].Balance)
	assert.Equal(t, "carol", top[1].UserID)
}

// ============================================================================
// LotteryRepository Tests
// ============================================================================

func TestLotteryRepository_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)
	ctx := context.Background()

	lottery := newTestLottery(1001)
	require.NoError(t, repo.Insert(ctx, lottery))

	got, err := repo.GetByID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, lottery.Prize, got.Prize)
	assert.Equal(t, lottery.WinnerCount, got.WinnerCount)
	assert.Equal(t, lottery.Participants, got.Participants)
	assert.Equal(t, lottery.TotalTickets, got.TotalTickets)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Empty(t, got.WinnerList)
	assert.False(t, got.WinnerAnnounced)
	assert.WithinDuration(t, lottery.EndTime, got.EndTime, time.Second)
}

func TestLotteryRepository_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)

	_, err := repo.GetByID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrLotteryNotFound)
}

func TestLotteryRepository_UpdateWinnersEndsLottery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)
	ctx := context.Background()

	lottery := newTestLottery(1002)
	require.NoError(t, repo.Insert(ctx, lottery))

	require.NoError(t, repo.UpdateWinners(ctx, 1002, []string{"100", "200"}))

	got, err := repo.GetByID(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, got.Status)
	assert.Equal(t, []string{"100", "200"}, got.WinnerList)
	assert.False(t, got.WinnerAnnounced)

	require.NoError(t, repo.MarkAnnounced(ctx, 1002))
	got, err = repo.GetByID(ctx, 1002)
	require.NoError(t, err)
	assert.True(t, got.WinnerAnnounced)
}

func TestLotteryRepository_UpdateParticipants(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)
	ctx := context.Background()

	lottery := newTestLottery(1003)
	require.NoError(t, repo.Insert(ctx, lottery))

	updated := map[string]int{"100": 2, "200": 1, "300": 3}
	require.NoError(t, repo.UpdateParticipants(ctx, 1003, updated, 6))

	got, err := repo.GetByID(ctx, 1003)
	require.NoError(t, err)
	assert.Equal(t, updated, got.Participants)
	assert.Equal(t, 6, got.TotalTickets)
}

func TestLotteryRepository_UpdateMessage(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)
	ctx := context.Background()

	lottery := newTestLottery(1004)
	lottery.ChannelID = ""
	lottery.MessageID = ""
	require.NoError(t, repo.Insert(ctx, lottery))

	require.NoError(t, repo.UpdateMessage(ctx, 1004, "chan-9", "msg-9"))

	got, err := repo.GetByID(ctx, 1004)
	require.NoError(t, err)
	assert.Equal(t, "chan-9", got.ChannelID)
	assert.Equal(t, "msg-9", got.MessageID)
}

func TestLotteryRepository_FindActiveOrRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLotteryRepository(pool)
	ctx := context.Background()
	now := time.Now()

	// Active, ends in the future: always returned
	active := newTestLottery(2001)
	require.NoError(t, repo.Insert(ctx, active))

	// Ended two minutes ago: inside the five-minute buffer
	recent := newTestLottery(2002)
	recent.EndTime = now.Add(-2 * time.Minute)
	require.NoError(t, repo.Insert(ctx, recent))
	require.NoError(t, repo.UpdateStatus(ctx, 2002, model.StatusEnded))

	// Ended an hour ago: outside the buffer
	old := newTestLottery(2003)
	old.EndTime = now.Add(-time.Hour)
	require.NoError(t, repo.Insert(ctx, old))
	require.NoError(t, repo.UpdateStatus(ctx, 2003, model.StatusEnded))

	found, err := repo.FindActiveOrRecent(ctx, now, 5*time.Minute)
	require.NoError(t, err)

	ids := make([]int64, len(found))
	for i, l := range found {
		ids[i] = l.ID
	}
	assert.Contains(t, ids, int64(2001))
	assert.Contains(t, ids, int64(2002))
	assert.NotContains(t, ids, int64(2003))
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func TestTransactionRepository_CreateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	desc := "ticket purchase"
	tx, err := repo.Create(ctx, "alice", -50, model.TxTypeTicket, &desc)
	require.NoError(t, err)
	assert.Equal(t, "alice", tx.UserID)
	assert.Equal(t, int64(-50), tx.Amount)
	assert.Equal(t, model.TxTypeTicket, tx.Type)
	require.NotNil(t, tx.Description)
	assert.Equal(t, desc, *tx.Description)
	assert.False(t, tx.CreatedAt.IsZero())

	_, err = repo.Create(ctx, "alice", 100, model.TxTypeGrant, nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, "bob", 10, model.TxTypeGrant, nil)
	require.NoError(t, err)

	list, err := repo.GetByUserID(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first
	assert.Equal(t, model.TxTypeGrant, list[0].Type)
	assert.Equal(t, model.TxTypeTicket, list[1].Type)
}
