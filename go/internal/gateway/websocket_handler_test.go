package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/roundlog"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	return newTestServerWithRecorder(t, nil)
}

func newTestServerWithRecorder(t *testing.T, recorder roundlog.Recorder) (*httptest.Server, *Service) {
	t.Helper()

	config := DefaultConfig()
	config.RoomConfig.EmptyRoomTTL = 0
	service := NewService(config, recorder)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(NewCORS([]string{"*"}).Handler(mux))

	t.Cleanup(func() {
		server.Close()
		require.NoError(t, service.Stop())
	})
	return server, service
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// selfID finds the participant ID of the only user named name.
func selfID(t *testing.T, state models.RoomState, name string) string {
	t.Helper()
	for id, u := range state.Users {
		if u.Name == name {
			return id
		}
	}
	t.Fatalf("no user named %q", name)
	return ""
}

func TestWebSocket_VotingRound(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dial(t, server, "/ws/R1?name=Alice")
	state := readMessage(t, alice).roomState(t)
	require.Len(t, state.Users, 1)
	aliceID := selfID(t, state, "Alice")
	assert.True(t, state.Users[aliceID].IsAdmin)

	bob := dial(t, server, "/ws/R1?name=Bob")
	state = readMessage(t, bob).roomState(t)
	require.Len(t, state.Users, 2)
	bobID := selfID(t, state, "Bob")
	assert.False(t, state.Users[bobID].IsAdmin)
	assert.Len(t, readMessage(t, alice).roomState(t).Users, 2)

	writeMessage(t, alice, `{"type":"select_card","payload":{"value":"5"}}`)
	for _, conn := range []*websocket.Conn{alice, bob} {
		state := readMessage(t, conn).roomState(t)
		assert.True(t, state.Users[aliceID].HasVoted)
		assert.Nil(t, state.Users[aliceID].Vote)
	}

	writeMessage(t, bob, `{"type":"select_card","payload":{"value":"5"}}`)
	for _, conn := range []*websocket.Conn{alice, bob} {
		assert.Equal(t, models.PhaseEstimating, readMessage(t, conn).roomState(t).Phase)
		revealed := readMessage(t, conn).roomState(t)
		assert.Equal(t, models.PhaseRevealed, revealed.Phase)
		assert.Equal(t, "5", *revealed.Users[bobID].Vote)

		msg := readMessage(t, conn)
		require.Equal(t, EventTypeConsensus, msg.Type)
		assert.JSONEq(t, `{"value":"5"}`, string(msg.Payload))
	}

	writeMessage(t, bob, `{"type":"nudge","payload":{"target_id":"`+aliceID+`"}}`)
	msg := readMessage(t, alice)
	require.Equal(t, EventTypeNudgeReceived, msg.Type)
	assert.JSONEq(t, `{"from_user":"Bob"}`, string(msg.Payload))

	require.NoError(t, bob.Close())
	state = readMessage(t, alice).roomState(t)
	assert.NotContains(t, state.Users, bobID)
	assert.Equal(t, models.PhaseRevealed, state.Phase)
}

func TestWebSocket_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	server, _ := newTestServer(t)

	conn := dial(t, server, "/ws/R1?name=Alice")
	readMessage(t, conn)

	writeMessage(t, conn, `this is not json`)
	writeMessage(t, conn, `{"type":"toggle_spectator"}`)

	state := readMessage(t, conn).roomState(t)
	id := selfID(t, state, "Alice")
	assert.Equal(t, models.RoleSpectator, state.Users[id].Role)
}

func TestWebSocket_NameRequired(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/ws/R1", "/ws/R1?name=", "/ws/R1?name=%20"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestWebSocket_EmptyRoomReclaimed(t *testing.T) {
	server, service := newTestServer(t)

	conn := dial(t, server, "/ws/R1?name=Alice")
	readMessage(t, conn)
	require.True(t, service.store.Exists("R1"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !service.store.Exists("R1") }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleRoot(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Planning Poker API running"}`, string(body))
}

func TestHandleConnectionStats(t *testing.T) {
	server, _ := newTestServer(t)

	conn := dial(t, server, "/ws/R1?name=Alice")
	readMessage(t, conn)

	resp, err := http.Get(server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats["total_connections"])
	assert.EqualValues(t, 1, stats["active_rooms"])
}

func TestCORS_Preflight(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://poker.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://poker.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws/R1", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://poker.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, OriginChecker([]string{"*"})(req))
}
