package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlaunch/backend/internal/auth"
)

type stubValidator map[string]uuid.UUID

func (v stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	clientID, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: uuid.New(), ClientID: clientID}, nil
}

func startHub(t *testing.T, tokens stubValidator) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, tokens, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServeWsRejectsBadToken(t *testing.T) {
	_, base := startHub(t, stubValidator{})

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyClientReachesOnlyThatTenant(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	hub, base := startHub(t, stubValidator{"a": tenantA, "b": tenantB})

	connA := dial(t, base, "a")
	connB := dial(t, base, "b")
	require.Eventually(t, func() bool {
		return hub.ConnectionCount(tenantA) == 1 && hub.ConnectionCount(tenantB) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifyClient(tenantA, "campaign.launched", map[string]string{"id": "c1"})

	msg := readMessage(t, connA)
	assert.Equal(t, "campaign.launched", msg.Type)
	assert.Equal(t, "c1", msg.Payload.(map[string]interface{})["id"])

	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := connB.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestPingGetsPong(t *testing.T) {
	tenant := uuid.New()
	_, base := startHub(t, stubValidator{"a": tenant})
	conn := dial(t, base, "a")

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestDisconnectUnregisters(t *testing.T) {
	tenant := uuid.New()
	hub, base := startHub(t, stubValidator{"a": tenant})
	conn := dial(t, base, "a")

	require.Eventually(t, func() bool { return hub.ConnectionCount(tenant) == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount(tenant) == 0 }, 2*time.Second, 10*time.Millisecond)
}
