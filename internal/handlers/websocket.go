package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/middleware"
	"pvp-casino-backend/internal/models"
)

const (
	MessagePing        = "PING"
	MessagePong        = "PONG"
	MessageSubscribe   = "SUBSCRIBE_GAME"
	MessageUnsubscribe = "UNSUBSCRIBE_GAME"
	MessageGameState   = "GAME_STATE"
	MessageGameEvent   = "GAME_EVENT"
	MessageBalance     = "BALANCE_UPDATE"
	MessageError       = "ERROR"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	hubBuffer      = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WalletReader is implemented by services.RedisService and
// services.MemoryLedger.
type WalletReader interface {
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
}

type GameReader interface {
	GetGame(ctx context.Context, id string) (*models.Game, error)
}

type Message struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan Message
	// games is owned by the hub goroutine.
	games map[string]struct{}
}

type subscription struct {
	client *Client
	gameID string
	watch  bool
}

// outbound is a message for one client, or for every connection of UserID
// when client is nil.
type outbound struct {
	client *Client
	userID string
	msg    Message
}

// WebSocketHub keeps every connection in the lobby and routes per-game
// events to the clients watching that game. All client state is touched
// only by Run.
type WebSocketHub struct {
	log     *slog.Logger
	games   GameReader
	wallets WalletReader

	clients  map[*Client]struct{}
	watchers map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	direct     chan outbound
	broadcast  chan models.GameEvent

	// done is closed when Run returns.
	done chan struct{}
}

func NewWebSocketHub(log *slog.Logger, games GameReader, wallets WalletReader) *WebSocketHub {
	return &WebSocketHub{
		log:        log.With(slog.String("component", "handlers/websocket")),
		games:      games,
		wallets:    wallets,
		clients:    make(map[*Client]struct{}),
		watchers:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client, hubBuffer),
		subscribe:  make(chan subscription),
		direct:     make(chan outbound, hubBuffer),
		broadcast:  make(chan models.GameEvent, hubBuffer),
		done:       make(chan struct{}),
	}
}

// Broadcast queues a lifecycle event. It never blocks; events are dropped
// when the hub is saturated.
func (h *WebSocketHub) Broadcast(event models.GameEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("websocket broadcast queue full, event dropped",
			slog.String("game_id", event.GameID),
			slog.String("type", string(event.Type)),
		)
	}
}

// Done is closed once Run has returned.
func (h *WebSocketHub) Done() <-chan struct{} {
	return h.done
}

func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("client registered", slog.String("user_id", client.UserID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Debug("client unregistered", slog.String("user_id", client.UserID))
			}

		case sub := <-h.subscribe:
			h.applySubscription(sub)

		case out := <-h.direct:
			h.deliverDirect(out)

		case event := <-h.broadcast:
			h.fanOut(ctx, event)
		}
	}
}

func (h *WebSocketHub) applySubscription(sub subscription) {
	if _, ok := h.clients[sub.client]; !ok {
		return
	}

	if !sub.watch {
		delete(sub.client.games, sub.gameID)
		if set, ok := h.watchers[sub.gameID]; ok {
			delete(set, sub.client)
			if len(set) == 0 {
				delete(h.watchers, sub.gameID)
			}
		}
		return
	}

	set, ok := h.watchers[sub.gameID]
	if !ok {
		set = make(map[*Client]struct{})
		h.watchers[sub.gameID] = set
	}
	set[sub.client] = struct{}{}
	sub.client.games[sub.gameID] = struct{}{}
}

func (h *WebSocketHub) deliverDirect(out outbound) {
	if out.client != nil {
		if _, ok := h.clients[out.client]; ok {
			h.deliver(out.client, out.msg)
		}
		return
	}

	for client := range h.clients {
		if client.UserID == out.userID {
			h.deliver(client, out.msg)
		}
	}
}

func (h *WebSocketHub) fanOut(ctx context.Context, event models.GameEvent) {
	msg := Message{Type: MessageGameEvent, GameID: event.GameID, Data: event}

	watching := h.watchers[event.GameID]
	lobby := lobbyEvent(event.Type)

	for client := range h.clients {
		if _, ok := watching[client]; ok || lobby {
			h.deliver(client, msg)
		}
	}

	if event.Type == models.EventGameSettled || event.Type == models.EventGameCancelled {
		if event.Game != nil && h.wallets != nil {
			go h.pushBalances(ctx, participantIDs(event.Game))
		}
		for client := range watching {
			delete(client.games, event.GameID)
		}
		delete(h.watchers, event.GameID)
	}
}

// deliver never blocks the hub: a client that cannot keep up is dropped.
func (h *WebSocketHub) deliver(client *Client, msg Message) {
	select {
	case client.send <- msg:
	default:
		h.log.Warn("client send buffer full, dropping connection", slog.String("user_id", client.UserID))
		h.drop(client)
	}
}

func (h *WebSocketHub) drop(client *Client) {
	for gameID := range client.games {
		if set, ok := h.watchers[gameID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.watchers, gameID)
			}
		}
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *WebSocketHub) pushBalances(ctx context.Context, userIDs []string) {
	for _, userID := range userIDs {
		msg, err := h.balanceMessage(ctx, userID)
		if err != nil {
			h.log.Warn("failed to load wallet", sl.Err(err), slog.String("user_id", userID))
			continue
		}
		h.enqueue(ctx, outbound{userID: userID, msg: msg})
	}
}

func (h *WebSocketHub) balanceMessage(ctx context.Context, userID string) (Message, error) {
	wallet, err := h.wallets.GetWallet(ctx, userID)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageBalance, Data: wallet.Response()}, nil
}

func (h *WebSocketHub) enqueue(ctx context.Context, out outbound) {
	select {
	case h.direct <- out:
	case <-ctx.Done():
	case <-h.done:
	}
}

func (h *WebSocketHub) watch(sub subscription) {
	select {
	case h.subscribe <- sub:
	case <-h.done:
	}
}

// ServeWS upgrades an authenticated request. The lobby receives game
// creation and terminal events; SUBSCRIBE_GAME adds every event of one game.
func (h *WebSocketHub) ServeWS(c *gin.Context) {
	user := middleware.CurrentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", sl.Err(err))
		return
	}

	client := &Client{
		UserID: user.ID,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		games:  make(map[string]struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(client)

	if h.wallets != nil {
		if msg, err := h.balanceMessage(ctx, client.UserID); err != nil {
			h.log.Warn("failed to load wallet", sl.Err(err), slog.String("user_id", client.UserID))
		} else {
			h.enqueue(ctx, outbound{client: client, msg: msg})
		}
	}

	h.readPump(ctx, client)
}

func (h *WebSocketHub) readPump(ctx context.Context, client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", sl.Err(err), slog.String("user_id", client.UserID))
			}
			return
		}

		h.handleMessage(ctx, client, msg)
	}
}

func (h *WebSocketHub) handleMessage(ctx context.Context, client *Client, msg Message) {
	gameID := msg.GameID
	if gameID == "" {
		gameID, _ = msg.Data.(string)
	}

	switch msg.Type {
	case MessagePing:
		h.enqueue(ctx, outbound{client: client, msg: Message{
			Type: MessagePong,
			Data: gin.H{"timestamp": time.Now().Unix()},
		}})

	case MessageSubscribe:
		if gameID == "" {
			h.reply(ctx, client, "game_id is required")
			return
		}
		g, err := h.games.GetGame(ctx, gameID)
		if err != nil {
			if errors.Is(err, models.ErrGameNotFound) {
				h.reply(ctx, client, "game not found")
				return
			}
			h.log.Error("failed to load game", sl.Err(err), slog.String("game_id", gameID))
			h.reply(ctx, client, "internal error")
			return
		}
		h.watch(subscription{client: client, gameID: gameID, watch: true})
		h.enqueue(ctx, outbound{client: client, msg: Message{
			Type:   MessageGameState,
			GameID: gameID,
			Data:   g.Public(),
		}})

	case MessageUnsubscribe:
		if gameID != "" {
			h.watch(subscription{client: client, gameID: gameID})
		}

	default:
		h.reply(ctx, client, "unknown message type")
	}
}

func (h *WebSocketHub) reply(ctx context.Context, client *Client, errMsg string) {
	h.enqueue(ctx, outbound{client: client, msg: Message{Type: MessageError, Data: gin.H{"error": errMsg}}})
}

func (h *WebSocketHub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func lobbyEvent(t models.EventType) bool {
	switch t {
	case models.EventGameCreated, models.EventCountdownStarted, models.EventGameLocked,
		models.EventGameSettled, models.EventGameCancelled:
		return true
	}
	return false
}

func participantIDs(g *models.PublicGame) []string {
	seen := make(map[string]struct{}, len(g.Entries))
	out := make([]string, 0, len(g.Entries))
	for _, e := range g.Entries {
		if _, ok := seen[e.ParticipantID]; ok {
			continue
		}
		seen[e.ParticipantID] = struct{}{}
		out = append(out, e.ParticipantID)
	}
	return out
}
