// Package notify delivers lottery announcements to Discord. The webhook
// notifier posts through a Discord-compatible webhook; the log notifier is a
// sink for development and tests.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/model"
)

const (
	colorActive  = 0xF1C40F
	colorWinners = 0x2ECC71
	colorFailed  = 0xE74C3C
)

// embed mirrors the subset of Discord's embed object the bot sends.
type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// WebhookNotifier announces lottery events through a Discord webhook.
// Winner and failure announcements are posted as new messages; status
// refreshes edit the lottery's original announcement message in place.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for the given webhook URL.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// AnnounceWinners posts the winner announcement for a drawn lottery.
func (n *WebhookNotifier) AnnounceWinners(ctx context.Context, lottery *model.Lottery, winners []string) error {
	mentions := make([]string, len(winners))
	for i, w := range winners {
		mentions[i] = mention(w)
	}

	payload := webhookPayload{
		Content: strings.Join(mentions, " "),
		Embeds: []embed{{
			Title: "🎉 Lottery Results",
			Description: fmt.Sprintf("The lottery for **%s** has ended!\n\nWinner(s): %s",
				lottery.Prize, strings.Join(mentions, ", ")),
			Color: colorWinners,
			Fields: []embedField{
				{Name: "Total Tickets", Value: fmt.Sprintf("%d", lottery.TotalTickets), Inline: true},
				{Name: "Participants", Value: fmt.Sprintf("%d", len(lottery.Participants)), Inline: true},
			},
			Footer: &embedFooter{Text: lottery.Terms},
		}},
	}

	return n.post(ctx, payload)
}

// AnnounceInsufficient posts the cancellation notice for a lottery that
// ended below its participant minimum.
func (n *WebhookNotifier) AnnounceInsufficient(ctx context.Context, lottery *model.Lottery) error {
	payload := webhookPayload{
		Embeds: []embed{{
			Title: "Lottery Cancelled",
			Description: fmt.Sprintf(
				"The lottery for **%s** ended without a draw: %d participant(s) joined but %d were required.",
				lottery.Prize, len(lottery.Participants), lottery.MinParticipants),
			Color: colorFailed,
		}},
	}

	return n.post(ctx, payload)
}

// RefreshStatus edits the lottery's announcement message with the current
// countdown and ticket totals.
func (n *WebhookNotifier) RefreshStatus(ctx context.Context, lottery *model.Lottery) error {
	if lottery.MessageID == "" {
		return fmt.Errorf("lottery %d has no announcement message", lottery.ID)
	}

	payload := webhookPayload{
		Embeds: []embed{statusEmbed(lottery, time.Now())},
	}

	url := fmt.Sprintf("%s/messages/%s", n.url, lottery.MessageID)
	return n.send(ctx, http.MethodPatch, url, payload)
}

func (n *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	return n.send(ctx, http.MethodPost, n.url+"?wait=true", payload)
}

func (n *WebhookNotifier) send(ctx context.Context, method, url string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// statusEmbed renders the live announcement body for an active lottery.
func statusEmbed(lottery *model.Lottery, now time.Time) embed {
	e := embed{
		Title: fmt.Sprintf("🎟️ Lottery: %s", lottery.Prize),
		Color: colorActive,
		Fields: []embedField{
			{Name: "Winners", Value: fmt.Sprintf("%d", lottery.WinnerCount), Inline: true},
			{Name: "Tickets Sold", Value: fmt.Sprintf("%d", lottery.TotalTickets), Inline: true},
			{Name: "Participants", Value: fmt.Sprintf("%d", len(lottery.Participants)), Inline: true},
		},
		Footer: &embedFooter{Text: lottery.Terms},
	}

	if lottery.TicketPrice > 0 {
		e.Fields = append(e.Fields, embedField{
			Name: "Ticket Price", Value: fmt.Sprintf("%d skulls", lottery.TicketPrice), Inline: true,
		})
	}

	if lottery.IsManualDraw {
		e.Description = "Drawn manually by an admin."
	} else {
		e.Description = fmt.Sprintf("Ends in **%s**", formatRemaining(lottery.Remaining(now)))
	}
	return e
}

// formatRemaining renders a countdown as the largest two units, matching the
// style of the announcement embeds ("2h 5m", "45s").
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Second)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

// LogNotifier writes announcements to the structured log instead of Discord.
// It backs development runs and tests where no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) AnnounceWinners(_ context.Context, lottery *model.Lottery, winners []string) error {
	log.Info().Int64("lottery_id", lottery.ID).Strs("winners", winners).
		Str("prize", lottery.Prize).Msg("Lottery winners")
	return nil
}

func (LogNotifier) AnnounceInsufficient(_ context.Context, lottery *model.Lottery) error {
	log.Info().Int64("lottery_id", lottery.ID).
		Int("participants", len(lottery.Participants)).
		Int("required", lottery.MinParticipants).
		Msg("Lottery cancelled: insufficient participants")
	return nil
}

func (LogNotifier) RefreshStatus(_ context.Context, lottery *model.Lottery) error {
	log.Debug().Int64("lottery_id", lottery.ID).
		Int("total_tickets", lottery.TotalTickets).
		Msg("Lottery status refresh")
	return nil
}
