package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type received struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func read(t *testing.T, conn *gws.Conn) received {
	t.Helper()
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func snapshot(power int) sunspec.Snapshot {
	model := sunspec.NewModel(register.NewStoreWithDefault(sunspec.DefaultValue))
	model.SetPower(power)
	return model.Snapshot()
}

func TestHubBroadcastsTelemetry(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	welcome := read(t, conn)
	assert.Equal(t, MessageTypeWelcome, welcome.Type)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), snapshot(1500)))

	msg := read(t, conn)
	assert.Equal(t, MessageTypeTelemetry, msg.Type)
	var snap sunspec.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, 1500, snap.Power)
}

func TestHubReplaysLastTelemetry(t *testing.T) {
	hub, url := startHub(t)
	require.NoError(t, hub.Publish(context.Background(), snapshot(42)))
	// Let the hub loop consume the broadcast before the client connects.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.last != nil
	}, time.Second, 5*time.Millisecond)

	conn := dial(t, url)
	assert.Equal(t, MessageTypeWelcome, read(t, conn).Type)
	msg := read(t, conn)
	assert.Equal(t, MessageTypeTelemetry, msg.Type)
	assert.Contains(t, string(msg.Data), `"power":42`)
}

func TestClientPing(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, MessageTypePong, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	assert.Equal(t, MessageTypeError, read(t, conn).Type)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	read(t, conn)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
