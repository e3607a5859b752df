package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trencher/engine"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type hubHarness struct {
	hub      *Hub
	registry *engine.Registry
	server   *httptest.Server
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	registry := engine.NewRegistry()
	db := makeTestDB(t)
	games := NewGameService(db, registry, NewQuizService(db))
	hub := NewHub(registry, games)
	registry.SetBroadcaster(hub)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/ws/")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.RegisterClient(conn, code)
	}))
	t.Cleanup(server.Close)

	return &hubHarness{hub: hub, registry: registry, server: server}
}

func (h *hubHarness) freeGame(t *testing.T) *engine.Session {
	t.Helper()
	quiz := engine.QuizSnapshot{
		QuizID: 1,
		Title:  "Trivia",
		Questions: []engine.QuestionSnapshot{{
			Text:         "Question",
			Options:      []string{"a", "b"},
			CorrectIndex: 0,
			TimeLimit:    10 * time.Second,
		}},
	}
	s, err := h.registry.Create(quiz, engine.CreateParams{IsFreeGame: true})
	require.NoError(t, err)
	return s
}

func (h *hubHarness) paidGame(t *testing.T, hostWallet string) *engine.Session {
	t.Helper()
	quiz := engine.QuizSnapshot{
		QuizID: 1,
		Title:  "Trivia",
		Questions: []engine.QuestionSnapshot{{
			Text:         "Question",
			Options:      []string{"a", "b"},
			CorrectIndex: 0,
			TimeLimit:    10 * time.Second,
		}},
	}
	s, err := h.registry.Create(quiz, engine.CreateParams{
		HostWallet: hostWallet,
		PrizePool:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return s
}

func (h *hubHarness) dial(t *testing.T, code string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/" + code
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Payload: raw}))
}

// readUntil drains the connection until a message of the wanted type
// arrives; broadcasts interleave with direct replies, so callers cannot
// assume ordering.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg), "waiting for message %q", msgType)
		if msg.Type == msgType {
			return msg.Payload
		}
	}
}

func TestHubPing(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)

	conn := h.dial(t, s.Code)
	send(t, conn, "ping", nil)
	readUntil(t, conn, "pong")
}

func TestHubJoinFlow(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)

	alice := h.dial(t, s.Code)
	bob := h.dial(t, s.Code)
	require.Eventually(t, func() bool { return h.hub.RoomSize(s.Code) == 2 },
		time.Second, 5*time.Millisecond)

	send(t, alice, "join", joinPayload{Name: "Alice"})
	data := readUntil(t, alice, "game_data")
	player, ok := data["player"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", player["name"])
	assert.Equal(t, false, data["rejoined"])

	// Everyone in the room hears the join, including the other client.
	joined := readUntil(t, bob, "player_joined")
	assert.Equal(t, float64(1), joined["player_count"])

	assert.Equal(t, 1, s.Summary().PlayerCount)
}

func TestHubJoinUnknownGame(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t, "999999")

	send(t, conn, "join", joinPayload{Name: "Ghost"})
	errPayload := readUntil(t, conn, "error")
	assert.Equal(t, string(engine.KindNotFound), errPayload["kind"])
}

func TestHubRejectsUnknownMessageType(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)
	conn := h.dial(t, s.Code)

	send(t, conn, "self_destruct", nil)
	errPayload := readUntil(t, conn, "error")
	assert.Equal(t, string(engine.KindValidation), errPayload["kind"])
}

func TestHubHostCommandsNeedHostAttach(t *testing.T) {
	h := newHubHarness(t)
	s := h.paidGame(t, "hostwallet")
	conn := h.dial(t, s.Code)

	send(t, conn, "start_game", nil)
	errPayload := readUntil(t, conn, "error")
	assert.Equal(t, string(engine.KindForbidden), errPayload["kind"])

	send(t, conn, "join_as_host", hostPayload{Wallet: "wrongwallet"})
	errPayload = readUntil(t, conn, "error")
	assert.Equal(t, string(engine.KindForbidden), errPayload["kind"])

	send(t, conn, "join_as_host", hostPayload{Wallet: "hostwallet"})
	data := readUntil(t, conn, "game_data")
	game, ok := data["game"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, s.Code, game["code"])
}

func TestHubAnswerRequiresMembership(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)
	conn := h.dial(t, s.Code)

	send(t, conn, "submit_answer", answerPayload{QuestionIndex: 0, SelectedIndex: 0})
	errPayload := readUntil(t, conn, "error")
	assert.Equal(t, string(engine.KindForbidden), errPayload["kind"])
}

func TestHubRequestGameState(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)
	conn := h.dial(t, s.Code)

	send(t, conn, "request_game_state", nil)
	data := readUntil(t, conn, "game_data")
	game, ok := data["game"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, s.Code, game["code"])
	assert.Equal(t, string(engine.StatusWaiting), game["status"])
}

func TestHubFreeGameHostFlow(t *testing.T) {
	h := newHubHarness(t)
	s := h.freeGame(t)
	require.NotEmpty(t, s.HostWallet, "free games carry a synthesized host identity")

	host := h.dial(t, s.Code)
	send(t, host, "join_as_host", hostPayload{Wallet: s.HostWallet})
	readUntil(t, host, "game_data")

	player := h.dial(t, s.Code)
	send(t, player, "join", joinPayload{Name: "Alice"})
	readUntil(t, player, "game_data")

	send(t, host, "start_game", nil)
	readUntil(t, player, "game_starting")
	require.Eventually(t, func() bool {
		return s.Status() == engine.StatusStarting
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHostDisconnectCancelsLobby(t *testing.T) {
	h := newHubHarness(t)
	s := h.paidGame(t, "hostwallet")

	host := h.dial(t, s.Code)
	send(t, host, "join_as_host", hostPayload{Wallet: "hostwallet"})
	readUntil(t, host, "game_data")

	host.Close()
	require.Eventually(t, func() bool {
		return s.Status() == engine.StatusCancelled
	}, 2*time.Second, 5*time.Millisecond)
}
