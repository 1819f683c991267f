package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-lottery-bot/internal/model"
)

type capturedRequest struct {
	method  string
	path    string
	payload webhookPayload
}

func newCapturingServer(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload webhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		captured = append(captured, capturedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			payload: payload,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testLottery() *model.Lottery {
	return &model.Lottery{
		ID:              42,
		Prize:           "Discord Nitro",
		WinnerCount:     2,
		MinParticipants: 3,
		TicketPrice:     50,
		EndTime:         time.Now().Add(time.Hour),
		Participants:    map[string]int{"100": 2, "200": 1},
		TotalTickets:    3,
		Status:          model.StatusActive,
		MessageID:       "msg-7",
		Terms:           model.DefaultTerms,
	}
}

func TestAnnounceWinnersPostsMentions(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusOK)
	n := NewWebhookNotifier(srv.URL, time.Second)

	err := n.AnnounceWinners(context.Background(), testLottery(), []string{"100", "200"})
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "<@100> <@200>", req.payload.Content)
	require.Len(t, req.payload.Embeds, 1)
	assert.Contains(t, req.payload.Embeds[0].Description, "Discord Nitro")
	assert.Contains(t, req.payload.Embeds[0].Description, "<@100>")
}

func TestAnnounceInsufficientReportsCounts(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusNoContent)
	n := NewWebhookNotifier(srv.URL, time.Second)

	err := n.AnnounceInsufficient(context.Background(), testLottery())
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	e := (*captured)[0].payload.Embeds[0]
	assert.Contains(t, e.Description, "2 participant(s)")
	assert.Contains(t, e.Description, "3 were required")
}

func TestRefreshStatusEditsMessage(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusOK)
	n := NewWebhookNotifier(srv.URL, time.Second)

	err := n.RefreshStatus(context.Background(), testLottery())
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPatch, req.method)
	assert.Equal(t, "/messages/msg-7", req.path)
	require.Len(t, req.payload.Embeds, 1)
	assert.Contains(t, req.payload.Embeds[0].Description, "Ends in")
}

func TestRefreshStatusRequiresMessageID(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", time.Second)
	l := testLottery()
	l.MessageID = ""

	err := n.RefreshStatus(context.Background(), l)
	assert.Error(t, err)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv, _ := newCapturingServer(t, http.StatusTooManyRequests)
	n := NewWebhookNotifier(srv.URL, time.Second)

	err := n.AnnounceWinners(context.Background(), testLottery(), []string{"100"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "now", formatRemaining(0))
	assert.Equal(t, "now", formatRemaining(-time.Minute))
	assert.Equal(t, "45s", formatRemaining(45*time.Second))
	assert.Equal(t, "2m 30s", formatRemaining(150*time.Second))
	assert.Equal(t, "1h 5m", formatRemaining(65*time.Minute))
	assert.Equal(t, "2d 3h", formatRemaining(51*time.Hour))
}
