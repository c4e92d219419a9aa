package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsIndexerEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn := dialHub(t, hub)
	ctx := context.Background()

	hub.IndexerAdded(ctx, &types.IndexerDefinition{ID: 4, Name: "Alpha", Implementation: "torznab", Enabled: true})
	msg := readMessage(t, conn)
	assert.Equal(t, EventIndexerAdded, msg.Type)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alpha", payload["name"])
	assert.EqualValues(t, 4, payload["id"])
	assert.NotEmpty(t, msg.Timestamp)

	hub.IndexerRemoved(ctx, 4)
	msg = readMessage(t, conn)
	assert.Equal(t, EventIndexerRemoved, msg.Type)
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn := dialHub(t, hub)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn := dialHub(t, hub)

	hub.Close()
	assert.Zero(t, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "closed hub ends the stream")
	assert.NoError(t, hub.Broadcast("noop", nil))
}
