package services

import (
	"encoding/json"
	"sync"

	"trencher/engine"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub owns every websocket client, grouped into rooms by session code,
// and routes inbound commands to the session actors. It implements
// engine.Broadcaster for the outbound direction.
type Hub struct {
	mutex      sync.RWMutex
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client

	registry *engine.Registry
	games    *GameService
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte

	code       string
	playerID   string
	playerName string
	isHost     bool
}

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func NewHub(registry *engine.Registry, games *GameService) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		games:      games,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			room := h.rooms[client.code]
			if room == nil {
				room = make(map[*Client]bool)
				h.rooms[client.code] = room
			}
			room[client] = true
			size := len(room)
			h.mutex.Unlock()
			log.Debug().Str("code", client.code).Str("client", client.id).
				Int("room_size", size).Msg("client attached")

		case client := <-h.unregister:
			h.mutex.Lock()
			if room, ok := h.rooms[client.code]; ok {
				if _, ok := room[client]; ok {
					delete(room, client)
					close(client.send)
					if len(room) == 0 {
						delete(h.rooms, client.code)
					}
				}
			}
			h.mutex.Unlock()
			h.hostLeft(client)
		}
	}
}

// hostLeft ends a game whose host connection dropped: a lobby is
// cancelled, a running game is finished so players still get results.
func (h *Hub) hostLeft(client *Client) {
	if !client.isHost {
		return
	}
	s, err := h.registry.Get(client.code)
	if err != nil {
		return
	}
	switch s.Status() {
	case engine.StatusWaiting, engine.StatusStarting:
		if err := s.Cancel(client.playerID); err != nil {
			log.Warn().Err(err).Str("code", client.code).Msg("cancel on host disconnect")
		}
	case engine.StatusActive, engine.StatusRevealing:
		if _, err := s.Finish(client.playerID); err != nil {
			log.Warn().Err(err).Str("code", client.code).Msg("finish on host disconnect")
		}
	}
}

// BroadcastToGame implements engine.Broadcaster.
func (h *Hub) BroadcastToGame(code string, event string, payload any) {
	data, err := json.Marshal(outMessage{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal broadcast")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.rooms[code] {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop the message rather than stall the
			// session goroutine. The read pump will reap dead sockets.
		}
	}
}

// RoomSize reports how many clients are attached to a session.
func (h *Hub) RoomSize(code string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[code])
}

// RegisterClient attaches an upgraded websocket connection to a room
// and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, code string) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
		code:   code,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("websocket read")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(engine.Validationf("malformed message: %v", err))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

// reply sends a message to this client only.
func (c *Client) reply(event string, payload any) {
	data, err := json.Marshal(outMessage{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal reply")
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(err error) {
	e := engine.Convert(err)
	c.reply("error", map[string]any{"kind": e.Kind, "message": e.Message})
}

type joinPayload struct {
	Wallet string `json:"wallet"`
	Name   string `json:"name"`
}

type hostPayload struct {
	Wallet string `json:"wallet"`
}

type answerPayload struct {
	QuestionIndex int `json:"question_index"`
	SelectedIndex int `json:"selected_index"`
	// SpeedBonus is accepted for wire compatibility but ignored; the
	// engine computes the bonus from its own clock.
	SpeedBonus float64 `json:"speed_bonus"`
}

type payPayload struct {
	Signature string `json:"signature"`
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		c.reply("pong", nil)

	case "join":
		var p joinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(engine.Validationf("bad join payload: %v", err))
			return
		}
		c.handleJoin(p)

	case "join_as_host":
		var p hostPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(engine.Validationf("bad host payload: %v", err))
			return
		}
		c.handleJoinAsHost(p)

	case "start_game":
		if err := c.requireHost(); err != nil {
			c.sendError(err)
			return
		}
		s, err := c.hub.registry.Get(c.code)
		if err != nil {
			c.sendError(err)
			return
		}
		if err := s.Start(c.playerID); err != nil {
			c.sendError(err)
			return
		}
		if err := c.hub.games.UpdateGameStatus(c.code, engine.StatusStarting); err != nil {
			log.Warn().Err(err).Str("code", c.code).Msg("mirror game status")
		}

	case "submit_answer":
		var p answerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(engine.Validationf("bad answer payload: %v", err))
			return
		}
		c.handleSubmitAnswer(p)

	case "finish_game":
		if err := c.requireHost(); err != nil {
			c.sendError(err)
			return
		}
		s, err := c.hub.registry.Get(c.code)
		if err != nil {
			c.sendError(err)
			return
		}
		if _, err := s.Finish(c.playerID); err != nil {
			c.sendError(err)
		}

	case "pay_winner":
		var p payPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(engine.Validationf("bad payout payload: %v", err))
			return
		}
		if err := c.requireHost(); err != nil {
			c.sendError(err)
			return
		}
		if _, err := c.hub.games.PayWinner(c.code, c.playerID, p.Signature); err != nil {
			c.sendError(err)
		}

	case "request_game_state":
		c.sendGameState()

	default:
		c.sendError(engine.Validationf("unknown message type %q", msg.Type))
	}
}

func (c *Client) handleJoin(p joinPayload) {
	s, err := c.hub.registry.Get(c.code)
	if err != nil {
		c.sendError(err)
		return
	}
	res, err := s.Join(p.Wallet, p.Name)
	if err != nil {
		c.sendError(err)
		return
	}
	c.playerID = res.Player.ID
	c.playerName = res.Player.Name
	c.reply("game_data", map[string]any{
		"player":   res.Player,
		"rejoined": res.Rejoined,
		"game":     res.Summary,
	})
}

// handleJoinAsHost attaches the connection as the host observer. It
// never touches membership; the host identity must match the session.
func (c *Client) handleJoinAsHost(p hostPayload) {
	s, err := c.hub.registry.Get(c.code)
	if err != nil {
		c.sendError(err)
		return
	}
	if p.Wallet == "" || p.Wallet != s.HostWallet {
		c.sendError(engine.Forbiddenf("wallet does not host game %s", c.code))
		return
	}
	c.isHost = true
	c.playerID = p.Wallet
	c.reply("game_data", map[string]any{"game": s.Summary()})
}

func (c *Client) handleSubmitAnswer(p answerPayload) {
	if c.playerID == "" || c.isHost {
		c.sendError(engine.Forbiddenf("join as a player before answering"))
		return
	}
	s, err := c.hub.registry.Get(c.code)
	if err != nil {
		c.sendError(err)
		return
	}
	ans, err := s.SubmitAnswer(c.playerID, p.QuestionIndex, p.SelectedIndex)
	if err != nil {
		c.sendError(err)
		return
	}
	// Acknowledge receipt without revealing correctness; that comes
	// with the question_end broadcast.
	c.reply("answer_ack", map[string]any{
		"question_index": p.QuestionIndex,
		"answered_at":    ans.AnsweredAt,
	})
}

func (c *Client) sendGameState() {
	s, err := c.hub.registry.Get(c.code)
	if err != nil {
		c.sendError(err)
		return
	}
	c.reply("game_data", map[string]any{"game": s.Summary()})
}

func (c *Client) requireHost() error {
	if !c.isHost {
		return engine.Forbiddenf("host command from a non-host connection")
	}
	return nil
}
