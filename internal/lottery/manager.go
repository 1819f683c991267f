// Package lottery implements the lottery lifecycle engine: creation, ticket
// accrual, countdown, expiry-triggered draws, announcements, and startup
// recovery.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/draw"
	"discord-lottery-bot/internal/model"
	"discord-lottery-bot/internal/pkg/lock"
)

// Errors for lottery operations.
var (
	ErrNotFound               = errors.New("lottery not found")
	ErrNotActive              = errors.New("lottery is not active")
	ErrInvalidWinnerCount     = errors.New("winner count must be positive")
	ErrInvalidMinParticipants = errors.New("minimum participants must be positive")
	ErrInvalidDuration        = errors.New("duration must be positive")
	ErrInvalidTicketPrice     = errors.New("ticket price must not be negative")
	ErrInvalidTicketCount     = errors.New("ticket count must be positive")
	ErrTicketLimit            = errors.New("ticket limit reached for this user")
)

// entry owns the live resources for one active lottery: the record itself,
// the expiry timer, and the refresh loop's stop channel. Arming either
// resource cancels its predecessor, so an id never has two pending
// callbacks of the same kind.
type entry struct {
	lottery     *model.Lottery
	timer       *time.Timer
	refreshStop chan struct{}

	// persistMu serializes ticket increments with their store write. The
	// participant snapshot is persisted outside m.mu; without this, two
	// concurrent purchases could land their snapshots out of order and an
	// older subset would overwrite a newer one in durable state.
	persistMu sync.Mutex
}

// Dependencies holds everything the manager needs, resolved up front.
type Dependencies struct {
	Store    Store
	Ledger   Ledger
	Notifier Notifier
	UserLock *lock.UserLock

	// StoreTimeout bounds store and notifier calls made from background
	// timers, where no caller context exists. Defaults to 15s.
	StoreTimeout time.Duration
	// RecoveryBuffer is the trailing window for restore queries. Defaults
	// to 5 minutes.
	RecoveryBuffer time.Duration
	// DefaultMaxTickets applies when a lottery is created with no per-user
	// ticket limit. Defaults to 1.
	DefaultMaxTickets int
	// Rand, when set, seeds winner selection. Production leaves it nil and
	// each draw uses a time-seeded source.
	Rand *rand.Rand
}

// Manager owns the in-memory state and timers for active lotteries and
// drives the active -> ended transition. It assumes it is the only scheduler
// instance over its store; running two managers concurrently causes
// duplicate draws.
type Manager struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	userLock *lock.UserLock
	node     *snowflake.Node

	storeTimeout      time.Duration
	recoveryBuffer    time.Duration
	defaultMaxTickets int

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	entries map[int64]*entry
}

// NewManager creates a Manager with all dependencies resolved. There is no
// late binding: the notifier and store must be usable before any lottery is
// created or restored.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Store == nil || deps.Notifier == nil {
		return nil, errors.New("store and notifier are required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	m := &Manager{
		store:             deps.Store,
		ledger:            deps.Ledger,
		notifier:          deps.Notifier,
		userLock:          deps.UserLock,
		node:              node,
		storeTimeout:      deps.StoreTimeout,
		recoveryBuffer:    deps.RecoveryBuffer,
		defaultMaxTickets: deps.DefaultMaxTickets,
		rng:               deps.Rand,
		entries:           make(map[int64]*entry),
	}
	if m.storeTimeout <= 0 {
		m.storeTimeout = 15 * time.Second
	}
	if m.recoveryBuffer <= 0 {
		m.recoveryBuffer = 5 * time.Minute
	}
	if m.defaultMaxTickets <= 0 {
		m.defaultMaxTickets = 1
	}
	if m.userLock == nil {
		m.userLock = lock.NewUserLock()
	}

	return m, nil
}

// CreateParams are the caller-supplied fields for a new lottery.
type CreateParams struct {
	Prize             string
	WinnerCount       int
	MinParticipants   int
	Duration          time.Duration
	TicketPrice       int64
	MaxTicketsPerUser int
	IsManualDraw      bool
	ChannelID         string
	GuildID           string
	CreatedBy         string
	Terms             string
}

// Create validates the parameters, persists the new lottery, registers it in
// memory, and arms the expiry timer unless the draw is manual. Validation
// failures are rejected before anything is persisted.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*model.Lottery, error) {
	if params.WinnerCount <= 0 {
		return nil, ErrInvalidWinnerCount
	}
	if params.MinParticipants < 0 {
		return nil, ErrInvalidMinParticipants
	}
	if params.Duration <= 0 && !params.IsManualDraw {
		return nil, ErrInvalidDuration
	}
	if params.TicketPrice < 0 {
		return nil, ErrInvalidTicketPrice
	}

	minParticipants := params.MinParticipants
	if minParticipants == 0 {
		minParticipants = params.WinnerCount
	}
	maxTickets := params.MaxTicketsPerUser
	if maxTickets <= 0 {
		maxTickets = m.defaultMaxTickets
	}
	terms := params.Terms
	if terms == "" {
		terms = model.DefaultTerms
	}
	duration := params.Duration
	if duration <= 0 {
		// Manual draws get a nominal window; the timer is never armed.
		duration = 24 * time.Hour
	}

	now := time.Now()
	lottery := &model.Lottery{
		ID:                m.node.Generate().Int64(),
		Prize:             params.Prize,
		WinnerCount:       params.WinnerCount,
		MinParticipants:   minParticipants,
		TicketPrice:       params.TicketPrice,
		MaxTicketsPerUser: maxTickets,
		StartTime:         now,
		EndTime:           now.Add(duration),
		Participants:      make(map[string]int),
		Status:            model.StatusActive,
		WinnerList:        []string{},
		IsManualDraw:      params.IsManualDraw,
		ChannelID:         params.ChannelID,
		GuildID:           params.GuildID,
		CreatedBy:         params.CreatedBy,
		Terms:             terms,
	}

	if err := m.store.Insert(ctx, lottery); err != nil {
		return nil, fmt.Errorf("failed to persist lottery: %w", err)
	}

	e := &entry{lottery: lottery}
	m.mu.Lock()
	m.entries[lottery.ID] = e
	if !lottery.IsManualDraw {
		m.armTimerLocked(e)
	}
	snap := copyLottery(lottery)
	m.mu.Unlock()

	log.Info().
		Int64("lottery_id", lottery.ID).
		Str("prize", lottery.Prize).
		Int("winner_count", lottery.WinnerCount).
		Time("end_time", lottery.EndTime).
		Bool("manual_draw", lottery.IsManualDraw).
		Msg("Lottery created")

	return snap, nil
}

// BuyTickets registers count tickets for a user, debiting the ticket price
// from their skull balance when the lottery charges one. A failed debit
// leaves the lottery untouched; a failed persist refunds the debit.
func (m *Manager) BuyTickets(ctx context.Context, id int64, userID string, count int) (*model.Lottery, error) {
	if count <= 0 {
		return nil, ErrInvalidTicketCount
	}

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	l := e.lottery
	if l.Status != model.StatusActive || l.IsExpired(time.Now()) {
		m.mu.Unlock()
		return nil, ErrNotActive
	}
	maxTickets := l.MaxTicketsPerUser
	if maxTickets <= 0 {
		maxTickets = m.defaultMaxTickets
	}
	if l.TicketsOf(userID)+count > maxTickets {
		m.mu.Unlock()
		return nil, ErrTicketLimit
	}
	price := l.TicketPrice
	m.mu.Unlock()

	cost := price * int64(count)
	if cost > 0 {
		err := m.userLock.WithLock(userID, func() error {
			return m.ledger.Spend(ctx, userID, cost, model.TxTypeTicket,
				fmt.Sprintf("%d ticket(s) for lottery %d", count, id))
		})
		if err != nil {
			return nil, err
		}
	}

	// Taken before m.mu and held through the store write, so snapshots of
	// the participant map reach the store in the order they were taken.
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	m.mu.Lock()
	// The lottery may have ended, or a concurrent purchase may have filled
	// the user's limit, while the debit was in flight.
	if l.Status != model.StatusActive {
		m.mu.Unlock()
		m.refund(ctx, userID, cost, id)
		return nil, ErrNotActive
	}
	if l.TicketsOf(userID)+count > maxTickets {
		m.mu.Unlock()
		m.refund(ctx, userID, cost, id)
		return nil, ErrTicketLimit
	}
	l.Participants[userID] += count
	l.TotalTickets += count
	participants := copyParticipants(l.Participants)
	total := l.TotalTickets
	m.mu.Unlock()

	if err := m.store.UpdateParticipants(ctx, id, participants, total); err != nil {
		m.mu.Lock()
		l.Participants[userID] -= count
		if l.Participants[userID] <= 0 {
			delete(l.Participants, userID)
		}
		l.TotalTickets -= count
		m.mu.Unlock()
		m.refund(ctx, userID, cost, id)
		return nil, fmt.Errorf("failed to persist tickets: %w", err)
	}

	return m.snapshot(id), nil
}

// refund returns a failed purchase's skulls. Failures here are logged; the
// transaction history keeps enough context for manual reconciliation.
func (m *Manager) refund(ctx context.Context, userID string, cost int64, id int64) {
	if cost <= 0 || m.ledger == nil {
		return
	}
	if _, err := m.ledger.Grant(ctx, userID, cost, fmt.Sprintf("refund for lottery %d", id)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Int64("lottery_id", id).
			Int64("amount", cost).Msg("Failed to refund ticket purchase")
	}
}

// SetAnnouncementMessage records the presentation handles for a lottery and
// starts its refresh loop. The first refresh goes out immediately.
func (m *Manager) SetAnnouncementMessage(ctx context.Context, id int64, channelID, messageID string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if e.lottery.Status != model.StatusActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	m.mu.Unlock()

	if err := m.store.UpdateMessage(ctx, id, channelID, messageID); err != nil {
		return fmt.Errorf("failed to persist message handles: %w", err)
	}

	m.mu.Lock()
	e.lottery.ChannelID = channelID
	e.lottery.MessageID = messageID
	m.startRefreshLocked(e)
	m.mu.Unlock()

	return nil
}

// TriggerDraw runs the draw for a manual lottery, or ends a timed one early.
func (m *Manager) TriggerDraw(ctx context.Context, id int64) error {
	return m.End(ctx, id)
}

// End performs the single active -> ended transition: cancel the timers,
// draw and announce when the participant minimum is met, and persist the
// ended status unconditionally. Draw, announcement, and store failures on
// this path are absorbed and logged so one bad lottery cannot wedge the
// scheduler; the durable status still converges on ended. Ending an
// already-ended lottery is a no-op, even after it has left the registry.
func (m *Manager) End(ctx context.Context, id int64) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		// Ended lotteries leave the registry but stay in the store.
		if l, err := m.store.GetByID(ctx, id); err == nil && l.Status == model.StatusEnded {
			return nil
		}
		return ErrNotFound
	}
	l := e.lottery
	if l.Status != model.StatusActive {
		m.mu.Unlock()
		return nil
	}
	// Flip the in-memory status first so only one caller runs the
	// transition body; everything after this is non-reentrant per id.
	l.Status = model.StatusEnded
	m.cancelLocked(e)
	delete(m.entries, id)
	snap := copyLottery(l)
	m.mu.Unlock()

	if len(snap.Participants) >= snap.MinParticipants {
		winners := m.draw(snap.Participants, snap.WinnerCount)
		snap.WinnerList = winners

		if err := m.store.UpdateWinners(ctx, id, winners); err != nil {
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to persist winners")
		} else if err := m.notifier.AnnounceWinners(ctx, snap, winners); err != nil {
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to announce winners")
		} else if err := m.store.MarkAnnounced(ctx, id); err != nil {
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to mark winners announced")
		}

		log.Info().Int64("lottery_id", id).Strs("winners", winners).Msg("Lottery drawn")
	} else {
		log.Info().Int64("lottery_id", id).
			Int("participants", len(snap.Participants)).
			Int("required", snap.MinParticipants).
			Msg("Lottery ended without draw: insufficient participants")
		if err := m.notifier.AnnounceInsufficient(ctx, snap); err != nil {
			log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to announce failed lottery")
		}
	}

	// Finalize durable status even if the draw or announcement failed, so
	// the record cannot stay active forever after a transient error.
	if err := m.store.UpdateStatus(ctx, id, model.StatusEnded); err != nil {
		log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to persist ended status")
	}

	return nil
}

// draw selects winners, serializing access to the injected rng when one is
// configured (rand.Rand is not goroutine safe).
func (m *Manager) draw(participants map[string]int, winnerCount int) []string {
	if m.rng == nil {
		return draw.SelectWinners(participants, winnerCount, nil)
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return draw.SelectWinners(participants, winnerCount, m.rng)
}

// Get returns the lottery with the given id, preferring live in-memory
// state and falling back to the store for ended lotteries.
func (m *Manager) Get(ctx context.Context, id int64) (*model.Lottery, error) {
	if snap := m.snapshot(id); snap != nil {
		return snap, nil
	}
	lottery, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return lottery, nil
}

// ActiveCount returns the number of lotteries currently held in memory.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Shutdown cancels every timer and refresh loop. Durable state is
// authoritative, so shutdown is a courtesy rather than a correctness
// requirement; a dirty exit is repaired by Restore on the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		m.cancelLocked(e)
		delete(m.entries, id)
	}
	log.Info().Msg("Lottery manager stopped")
}

// armTimerLocked (re)arms the expiry timer for an entry. The previous timer,
// if any, is stopped first, so re-arming leaves exactly one pending
// callback. Callers must hold m.mu.
func (m *Manager) armTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	id := e.lottery.ID
	e.timer = time.AfterFunc(time.Until(e.lottery.EndTime), func() {
		m.expire(id)
	})
}

// expire is the timer callback: it runs the end transition with a bounded
// background context and absorbs every failure.
func (m *Manager) expire(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()

	if err := m.End(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		log.Error().Err(err).Int64("lottery_id", id).Msg("Failed to end expired lottery")
	}
}

// startRefreshLocked starts (or restarts) the presentation refresh loop for
// an entry. A prior loop is cancelled first. Callers must hold m.mu.
func (m *Manager) startRefreshLocked(e *entry) {
	if e.refreshStop != nil {
		close(e.refreshStop)
	}
	stop := make(chan struct{})
	e.refreshStop = stop
	go m.refreshLoop(e.lottery.ID, stop)
}

// refreshLoop pushes periodic status refreshes to the presentation layer,
// tightening the cadence as the end approaches. The first refresh is
// immediate. A refresh failure stops the loop instead of retrying forever;
// the expiry timer is unaffected.
func (m *Manager) refreshLoop(id int64, stop chan struct{}) {
	for {
		snap := m.snapshot(id)
		if snap == nil || snap.Status != model.StatusActive {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		err := m.notifier.RefreshStatus(ctx, snap)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int64("lottery_id", id).
				Msg("Status refresh failed, stopping refresh loop")
			return
		}

		timer := time.NewTimer(refreshInterval(time.Until(snap.EndTime)))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// refreshInterval maps remaining time to the refresh cadence: every 30s
// normally, 15s inside the last five minutes, 5s inside the last minute.
func refreshInterval(remaining time.Duration) time.Duration {
	switch {
	case remaining <= time.Minute:
		return 5 * time.Second
	case remaining <= 5*time.Minute:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

// cancelLocked stops an entry's timer and refresh loop. Both cancels are
// no-ops when the handle is absent. Callers must hold m.mu.
func (m *Manager) cancelLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.refreshStop != nil {
		close(e.refreshStop)
		e.refreshStop = nil
	}
}

// snapshot returns a copy of an in-memory lottery, nil when the id is not
// registered. Copies keep notifier and HTTP reads free of data races with
// ticket registration.
func (m *Manager) snapshot(id int64) *model.Lottery {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return copyLottery(e.lottery)
}

func copyLottery(l *model.Lottery) *model.Lottery {
	cp := *l
	cp.Participants = copyParticipants(l.Participants)
	cp.WinnerList = append([]string(nil), l.WinnerList...)
	return &cp
}

func copyParticipants(participants map[string]int) map[string]int {
	cp := make(map[string]int, len(participants))
	for k, v := range participants {
		cp[k] = v
	}
	return cp
}
