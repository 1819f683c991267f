// Package model defines the data models for the lottery bot.
package model

import "time"

// LotteryStatus is the lifecycle state of a lottery.
// The transition is monotonic: a lottery moves from active to ended
// exactly once and never back.
type LotteryStatus string

const (
	StatusActive LotteryStatus = "active"
	StatusEnded  LotteryStatus = "ended"
)

// Lottery represents one timed drawing event with a prize, a participant
// pool, and a winner-selection outcome. Records are retained after ending
// for audit and are never deleted.
type Lottery struct {
	ID                int64          `db:"id" json:"id"`
	Prize             string         `db:"prize" json:"prize"`
	WinnerCount       int            `db:"winner_count" json:"winnerCount"`
	MinParticipants   int            `db:"min_participants" json:"minParticipants"`
	TicketPrice       int64          `db:"ticket_price" json:"ticketPrice"`
	MaxTicketsPerUser int            `db:"max_tickets_per_user" json:"maxTicketsPerUser"`
	StartTime         time.Time      `db:"start_time" json:"startTime"`
	EndTime           time.Time      `db:"end_time" json:"endTime"`
	Participants      map[string]int `db:"participants" json:"participants"`
	TotalTickets      int            `db:"total_tickets" json:"totalTickets"`
	Status            LotteryStatus  `db:"status" json:"status"`
	WinnerList        []string       `db:"winner_list" json:"winnerList"`
	WinnerAnnounced   bool           `db:"winner_announced" json:"winnerAnnounced"`
	IsManualDraw      bool           `db:"is_manual_draw" json:"isManualDraw"`
	ChannelID         string         `db:"channel_id" json:"channelId"`
	MessageID         string         `db:"message_id" json:"messageId"`
	GuildID           string         `db:"guild_id" json:"guildId"`
	CreatedBy         string         `db:"created_by" json:"createdBy"`
	Terms             string         `db:"terms" json:"terms"`
}

// IsExpired reports whether the lottery's end time has passed.
func (l *Lottery) IsExpired(now time.Time) bool {
	return !l.EndTime.After(now)
}

// Remaining returns the time left until the lottery ends. It is negative
// once the lottery has expired.
func (l *Lottery) Remaining(now time.Time) time.Duration {
	return l.EndTime.Sub(now)
}

// TicketsOf returns the ticket count held by a user, zero if absent.
func (l *Lottery) TicketsOf(userID string) int {
	return l.Participants[userID]
}

// SkullAccount represents a user's skull (virtual currency) balance.
// Accounts are created implicitly on first credit and never deleted.
// The persisted balance is never negative.
type SkullAccount struct {
	UserID  string `db:"user_id" json:"userId"`
	Balance int64  `db:"balance" json:"balance"`
}

// Transaction represents a balance change record in the skull ledger.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeGrant    = "grant"     // Skulls granted by an admin or event
	TxTypeSpend    = "spend"     // Generic debit
	TxTypeTransfer = "transfer"  // User-to-user transfer
	TxTypeTicket   = "ticket"    // Lottery ticket purchase
	TxTypeAdminSub = "admin_sub" // Admin removed balance
)

// DefaultTerms is applied when a lottery is created without explicit terms.
const DefaultTerms = "Winner must have an active C61 account, or a redraw occurs!"
