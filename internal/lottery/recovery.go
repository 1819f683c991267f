package lottery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/model"
)

// Restore reconciles durable state with memory after a restart. It must run
// once, after the store and the presentation layer are reachable, and before
// any new lottery is created.
//
// The query pulls every active record plus anything that ended inside the
// trailing buffer window, because a lottery can expire moments before a
// crash with its announcement still unsent. Per-record failures are logged
// and skipped; one corrupt row does not abort recovery of the rest.
//
// Returns the number of lotteries rehydrated with live timers.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	now := time.Now()

	records, err := m.store.FindActiveOrRecent(ctx, now, m.recoveryBuffer)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch lotteries for restoration: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if rec.Status == model.StatusEnded {
			m.finishAnnouncement(ctx, rec)
			continue
		}

		// A record without presentation handles cannot be refreshed or
		// announced; treat it as corrupt and retire it.
		if rec.ChannelID == "" || rec.MessageID == "" {
			log.Error().Int64("lottery_id", rec.ID).
				Msg("Restoration: missing channel/message handles, marking ended")
			if err := m.store.UpdateStatus(ctx, rec.ID, model.StatusEnded); err != nil {
				log.Error().Err(err).Int64("lottery_id", rec.ID).
					Msg("Restoration: failed to retire corrupt lottery")
			}
			continue
		}

		e := &entry{lottery: rec}
		m.mu.Lock()
		m.entries[rec.ID] = e
		m.mu.Unlock()

		// Manual draws have no deadline contract; a stale end_time never
		// finalizes them, only an explicit trigger does.
		if rec.IsExpired(now) && !rec.IsManualDraw {
			// The timer would fire with zero delay anyway; run the end
			// transition synchronously so finalization completes before
			// recovery returns.
			log.Info().Int64("lottery_id", rec.ID).
				Time("end_time", rec.EndTime).
				Msg("Restoration: finalizing expired lottery")
			if err := m.End(ctx, rec.ID); err != nil {
				log.Error().Err(err).Int64("lottery_id", rec.ID).
					Msg("Restoration: failed to finalize expired lottery")
			}
			continue
		}

		m.mu.Lock()
		if !rec.IsManualDraw {
			m.armTimerLocked(e)
		}
		m.startRefreshLocked(e)
		m.mu.Unlock()

		log.Info().Int64("lottery_id", rec.ID).
			Dur("remaining", rec.Remaining(now)).
			Msg("Restoration: lottery rehydrated")
		restored++
	}

	log.Info().Int("restored", restored).Int("scanned", len(records)).
		Msg("Lottery restoration complete")

	return restored, nil
}

// finishAnnouncement completes the announcement for a lottery that ended
// with winners drawn but the announcement unsent, typically because the
// process died between the two steps. The winner_announced flag makes this
// idempotent: already-announced lotteries are skipped, so a restart never
// duplicates an announcement.
func (m *Manager) finishAnnouncement(ctx context.Context, rec *model.Lottery) {
	if rec.WinnerAnnounced || len(rec.WinnerList) == 0 {
		return
	}
	if rec.ChannelID == "" || rec.MessageID == "" {
		return
	}

	log.Info().Int64("lottery_id", rec.ID).
		Msg("Restoration: completing unsent winner announcement")

	if err := m.notifier.AnnounceWinners(ctx, rec, rec.WinnerList); err != nil {
		log.Error().Err(err).Int64("lottery_id", rec.ID).
			Msg("Restoration: failed to announce winners")
		return
	}
	if err := m.store.MarkAnnounced(ctx, rec.ID); err != nil {
		log.Error().Err(err).Int64("lottery_id", rec.ID).
			Msg("Restoration: failed to mark winners announced")
	}
}
