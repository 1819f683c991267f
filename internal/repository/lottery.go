package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-lottery-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrLotteryNotFound = errors.New("lottery not found")
)

// LotteryRepository handles lottery record persistence. It is the only
// component that touches durable storage for lotteries. All updates key on
// the lottery ID and are safe to retry.
type LotteryRepository struct {
	pool *pgxpool.Pool
}

// NewLotteryRepository creates a new LotteryRepository instance.
func NewLotteryRepository(pool *pgxpool.Pool) *LotteryRepository {
	return &LotteryRepository{pool: pool}
}

// Insert persists a newly created lottery.
func (r *LotteryRepository) Insert(ctx context.Context, lottery *model.Lottery) error {
	participants, err := json.Marshal(lottery.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	winners, err := json.Marshal(lottery.WinnerList)
	if err != nil {
		return fmt.Errorf("failed to marshal winner list: %w", err)
	}

	const query = `
		INSERT INTO lotteries (
			id, prize, winner_count, min_participants, ticket_price,
			max_tickets_per_user, start_time, end_time, participants,
			total_tickets, status, winner_list, winner_announced,
			is_manual_draw, channel_id, message_id, guild_id, created_by, terms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.pool.Exec(ctx, query,
		lottery.ID,
		lottery.Prize,
		lottery.WinnerCount,
		lottery.MinParticipants,
		lottery.TicketPrice,
		lottery.MaxTicketsPerUser,
		lottery.StartTime,
		lottery.EndTime,
		participants,
		lottery.TotalTickets,
		lottery.Status,
		winners,
		lottery.WinnerAnnounced,
		lottery.IsManualDraw,
		lottery.ChannelID,
		lottery.MessageID,
		lottery.GuildID,
		lottery.CreatedBy,
		lottery.Terms,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lottery: %w", err)
	}

	return nil
}

// UpdateStatus sets the lottery status. Repeating the same transition is a
// no-op at the storage level, so retry paths are safe.
func (r *LotteryRepository) UpdateStatus(ctx context.Context, id int64, status model.LotteryStatus) error {
	const query = `UPDATE lotteries SET status = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update lottery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotteryNotFound
	}

	return nil
}

// UpdateWinners persists the draw outcome. The winner list and the ended
// status land in one statement so a crash between them cannot leave a drawn
// lottery recorded as active.
func (r *LotteryRepository) UpdateWinners(ctx context.Context, id int64, winners []string) error {
	payload, err := json.Marshal(winners)
	if err != nil {
		return fmt.Errorf("failed to marshal winner list: %w", err)
	}

	const query = `
		UPDATE lotteries
		SET winner_list = $2, status = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, payload, model.StatusEnded)
	if err != nil {
		return fmt.Errorf("failed to update winners: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotteryNotFound
	}

	return nil
}

// MarkAnnounced records that the winner announcement went out. Recovery
// checks this flag before re-running announcement side effects.
func (r *LotteryRepository) MarkAnnounced(ctx context.Context, id int64) error {
	const query = `UPDATE lotteries SET winner_announced = TRUE WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark winners announced: %w", err)
	}

	return nil
}

// UpdateMessage persists the presentation handles once the announcement
// message exists.
func (r *LotteryRepository) UpdateMessage(ctx context.Context, id int64, channelID, messageID string) error {
	const query = `UPDATE lotteries SET channel_id = $2, message_id = $3 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, channelID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message handles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotteryNotFound
	}

	return nil
}

// UpdateParticipants persists the participant map and the running ticket
// total after a ticket registration.
func (r *LotteryRepository) UpdateParticipants(ctx context.Context, id int64, participants map[string]int, totalTickets int) error {
	payload, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	const query = `UPDATE lotteries SET participants = $2, total_tickets = $3 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, payload, totalTickets)
	if err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotteryNotFound
	}

	return nil
}

// GetByID retrieves a single lottery record.
func (r *LotteryRepository) GetByID(ctx context.Context, id int64) (*model.Lottery, error) {
	const query = selectColumns + ` FROM lotteries WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	lottery, err := scanLottery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLotteryNotFound
		}
		return nil, fmt.Errorf("failed to get lottery: %w", err)
	}

	return lottery, nil
}

// FindActiveOrRecent returns every lottery that is still active plus any
// lottery whose end time falls within the trailing buffer window. The buffer
// catches lotteries that expired just before a restart but whose finalization
// side effects may not have completed.
func (r *LotteryRepository) FindActiveOrRecent(ctx context.Context, now time.Time, buffer time.Duration) ([]*model.Lottery, error) {
	const query = selectColumns + `
		FROM lotteries
		WHERE status = $1 OR end_time > $2
		ORDER BY end_time
	`

	rows, err := r.pool.Query(ctx, query, model.StatusActive, now.Add(-buffer))
	if err != nil {
		return nil, fmt.Errorf("failed to query lotteries: %w", err)
	}
	defer rows.Close()

	var lotteries []*model.Lottery
	for rows.Next() {
		lottery, err := scanLottery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lottery: %w", err)
		}
		lotteries = append(lotteries, lottery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lotteries: %w", err)
	}

	return lotteries, nil
}

const selectColumns = `
	SELECT id, prize, winner_count, min_participants, ticket_price,
	       max_tickets_per_user, start_time, end_time, participants,
	       total_tickets, status, winner_list, winner_announced,
	       is_manual_draw, channel_id, message_id, guild_id, created_by, terms`

// scanLottery reads one lottery row, decoding the JSONB columns.
func scanLottery(row pgx.Row) (*model.Lottery, error) {
	var (
		lottery      model.Lottery
		participants []byte
		winners      []byte
	)

	err := row.Scan(
		&lottery.ID,
		&lottery.Prize,
		&lottery.WinnerCount,
		&lottery.MinParticipants,
		&lottery.TicketPrice,
		&lottery.MaxTicketsPerUser,
		&lottery.StartTime,
		&lottery.EndTime,
		&participants,
		&lottery.TotalTickets,
		&lottery.Status,
		&winners,
		&lottery.WinnerAnnounced,
		&lottery.IsManualDraw,
		&lottery.ChannelID,
		&lottery.MessageID,
		&lottery.GuildID,
		&lottery.CreatedBy,
		&lottery.Terms,
	)
	if err != nil {
		return nil, err
	}

	lottery.Participants = make(map[string]int)
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &lottery.Participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}

	if len(winners) > 0 {
		if err := json.Unmarshal(winners, &lottery.WinnerList); err != nil {
			return nil, fmt.Errorf("failed to unmarshal winner list: %w", err)
		}
	}

	return &lottery, nil
}
