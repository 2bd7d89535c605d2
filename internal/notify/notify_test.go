package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"dispute_opened", " "}, quietLogger())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.LedgerEvent{Type: domain.EventDisputeOpened}))
	require.NoError(t, n.NotifyEvent(ctx, domain.LedgerEvent{Type: domain.EventBidPlaced}))
	require.NoError(t, n.NotifyAll(ctx, "lease lost", "stopping"))

	assert.Equal(t, []string{"Verification disputed", "lease lost"}, s.titles)
}

func TestNotifierCombinesSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, quietLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, ok.titles, 1)
}

func TestFormatEvent(t *testing.T) {
	title, msg := FormatEvent(domain.LedgerEvent{
		Type:   domain.EventListingSold,
		Height: 512,
		Caller: common.HexToAddress("0xb1"),
		Attrs:  map[string]string{"price": "1000000", "listing_id": "3"},
	})
	assert.Equal(t, "Certificate sold", title)
	assert.Equal(t, "height: 512\ncaller: 0x00000000000000000000000000000000000000B1\nlisting_id: 3\nprice: 1000000", msg)

	title, _ = FormatEvent(domain.LedgerEvent{Type: domain.EventBidRefunded})
	assert.Equal(t, "bid refunded", title)
}

func TestWebhookSenders(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ctx := context.Background()

	tg := NewTelegramSender("tok", "42")
	tg.api = srv.URL
	require.NoError(t, tg.Send(ctx, "Title", "body"))

	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(ctx, "Title", "body"))
	require.Error(t, NewDiscordSender(srv.URL+"/fail").Send(ctx, "Title", "body"))

	require.Len(t, got, 3)
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*Title*\nbody", got[0]["text"])
	assert.Equal(t, "**Title**\nbody", got[1]["content"])
}
