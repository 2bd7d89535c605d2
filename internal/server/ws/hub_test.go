package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
)

func TestHubStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, Config{
		Status: func(context.Context) map[string]any { return map[string]any{"height": 12} },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "ledger_status", status.Type)
	assert.Equal(t, 12.0, status.Payload["height"])

	payload, err := json.Marshal(domain.LedgerEvent{Type: domain.EventBidPlaced, TxID: "tx-1"})
	require.NoError(t, err)
	hub.Broadcast(ctx, payload)

	mt, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, string(payload), string(got))
}

func TestClientTypeFilter(t *testing.T) {
	c := &client{types: map[domain.EventType]bool{}}
	assert.True(t, c.wants(domain.EventListingSold))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Types: []domain.EventType{domain.EventDisputeOpened}})
	assert.True(t, c.wants(domain.EventDisputeOpened))
	assert.False(t, c.wants(domain.EventListingSold))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Types: []domain.EventType{domain.EventDisputeOpened}})
	assert.True(t, c.wants(domain.EventListingSold))
}
