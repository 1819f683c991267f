package lottery

import (
	"context"
	"time"

	"discord-lottery-bot/internal/model"
)

// Store is the durable storage the manager needs for lottery records.
// *repository.LotteryRepository satisfies it; tests substitute fakes.
type Store interface {
	Insert(ctx context.Context, lottery *model.Lottery) error
	UpdateStatus(ctx context.Context, id int64, status model.LotteryStatus) error
	UpdateWinners(ctx context.Context, id int64, winners []string) error
	MarkAnnounced(ctx context.Context, id int64) error
	UpdateMessage(ctx context.Context, id int64, channelID, messageID string) error
	UpdateParticipants(ctx context.Context, id int64, participants map[string]int, totalTickets int) error
	GetByID(ctx context.Context, id int64) (*model.Lottery, error)
	FindActiveOrRecent(ctx context.Context, now time.Time, buffer time.Duration) ([]*model.Lottery, error)
}

// Ledger funds ticket purchases. *service.LedgerService satisfies it.
type Ledger interface {
	Spend(ctx context.Context, userID string, amount int64, txType, description string) error
	Grant(ctx context.Context, userID string, amount int64, description string) (int64, error)
}

// Notifier is the presentation layer. The manager treats its side effects
// as fire-and-forget: failures are logged, never retried here.
type Notifier interface {
	// AnnounceWinners posts the winner announcement for an ended lottery.
	AnnounceWinners(ctx context.Context, lottery *model.Lottery, winners []string) error
	// AnnounceInsufficient posts the no-draw notice when a lottery ends
	// below its participant minimum.
	AnnounceInsufficient(ctx context.Context, lottery *model.Lottery) error
	// RefreshStatus updates the displayed lottery state (countdown, ticket
	// totals) on the existing announcement message.
	RefreshStatus(ctx context.Context, lottery *model.Lottery) error
}
