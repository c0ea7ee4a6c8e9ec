// Package ws streams detail load transitions to browser clients. Every
// connection owns one navigation session: opening an asset cancels the load
// of the asset opened before it.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/format"
	"github.com/blockclass/marketview/internal/platform/coingecko"
	"github.com/blockclass/marketview/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// Message types sent to clients.
const (
	TypeHello     = "hello"
	TypeDetail    = "detail"
	TypeCompare   = "compare"
	TypeRefreshed = "markets_refreshed"
	TypeError     = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Comparer serves side-by-side comparisons.
type Comparer interface {
	Compare(ctx context.Context, ids []string) ([]domain.MarketRecord, error)
}

// request is a client command: {"action":"open","id":"bitcoin"} or
// {"action":"compare","id":"ethereum"}; compare with no id clears the set.
type request struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type detailPayload struct {
	service.DetailView
	Display format.Display `json:"display"`
}

type comparePayload struct {
	IDs     []string              `json:"ids"`
	Markets []domain.MarketRecord `json:"markets"`
	Display []format.Display      `json:"display"`
}

// Hub tracks connected clients and fans bus events out to them.
type Hub struct {
	loader  *service.DetailLoader
	markets Comparer
	bus     domain.SignalBus
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. markets and bus may be nil; without a bus no
// refresh events are forwarded.
func NewHub(loader *service.DetailLoader, markets Comparer, bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		loader:  loader,
		markets: markets,
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
}

// Run forwards list refresh events from the bus until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	events, err := h.bus.Subscribe(ctx, service.ChannelMarketsRefreshed)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", service.ChannelMarketsRefreshed),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return nil
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", service.ChannelMarketsRefreshed))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", service.ChannelMarketsRefreshed),
				)
				<-ctx.Done()
				return nil
			}
			h.broadcast(envelope{Type: TypeRefreshed, Payload: json.RawMessage(data)})
		}
	}
}

func (h *Hub) broadcast(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

// HandleWS upgrades the request and serves the connection until the client
// goes away.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	c.logger = h.logger.With(slog.String("client_id", c.id))
	c.session = service.NewSession(h.loader, func(v service.DetailView) {
		c.write(envelope{Type: TypeDetail, Payload: detailPayload{DetailView: v, Display: format.Record(v.Record)}})
	})

	total := h.add(c)
	c.logger.Info("ws: client connected", slog.Int("total_clients", total))
	c.write(envelope{Type: TypeHello, Payload: map[string]string{"client_id": c.id}})

	go c.writePump()
	c.readPump(r.Context())

	c.stopCompare()
	c.session.Close()
	c.close()
	total = h.remove(c)
	c.logger.Info("ws: client disconnected", slog.Int("total_clients", total))
}

type client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	session *service.Session
	compare service.CompareSet
	logger  *slog.Logger

	// cmpMu guards the in-flight comparison. A newer compare command
	// cancels the older one and bumps cmpGen so its result is dropped.
	cmpMu     sync.Mutex
	cmpGen    uint64
	cmpCancel context.CancelFunc
	cmpWG     sync.WaitGroup
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue hands data to the write pump. A full buffer drops the message.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("ws: dropping message for slow client")
	}
}

func (c *client) write(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("ws: marshal message failed", slog.String("error", err.Error()))
		return
	}
	c.enqueue(data)
}

func (c *client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.write(envelope{Type: TypeError, Payload: "malformed request"})
			continue
		}
		c.handle(ctx, req)
	}
}

func (c *client) handle(ctx context.Context, req request) {
	if req.ID != "" {
		if err := coingecko.ValidateID(req.ID); err != nil {
			c.write(envelope{Type: TypeError, Payload: "invalid asset id"})
			return
		}
	}

	switch req.Action {
	case "open":
		if req.ID == "" {
			c.write(envelope{Type: TypeError, Payload: "missing id"})
			return
		}
		c.session.Navigate(ctx, req.ID)

	case "compare":
		ids := c.compare.Toggle(req.ID)
		if req.ID == "" {
			c.compare.Clear()
			ids = []string{}
		}
		c.startCompare(ctx, ids)

	default:
		c.write(envelope{Type: TypeError, Payload: "unknown action"})
	}
}

// startCompare resolves ids in the background. A later call cancels it and
// its result is never delivered.
func (c *client) startCompare(parent context.Context, ids []string) {
	ctx, cancel := context.WithCancel(parent)

	c.cmpMu.Lock()
	if c.cmpCancel != nil {
		c.cmpCancel()
	}
	c.cmpGen++
	gen := c.cmpGen
	c.cmpCancel = cancel
	c.cmpMu.Unlock()

	c.cmpWG.Add(1)
	go func() {
		defer c.cmpWG.Done()
		defer cancel()

		payload, err := c.comparePayload(ctx, ids)

		c.cmpMu.Lock()
		defer c.cmpMu.Unlock()
		if gen != c.cmpGen || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.write(envelope{Type: TypeError, Payload: "compare failed"})
			return
		}
		c.write(envelope{Type: TypeCompare, Payload: payload})
	}()
}

func (c *client) comparePayload(ctx context.Context, ids []string) (comparePayload, error) {
	payload := comparePayload{IDs: ids, Markets: []domain.MarketRecord{}, Display: []format.Display{}}
	if len(ids) == 0 || c.hub.markets == nil {
		return payload, nil
	}
	records, err := c.hub.markets.Compare(ctx, ids)
	if err != nil {
		return payload, err
	}
	payload.Markets = records
	for _, rec := range records {
		payload.Display = append(payload.Display, format.Record(rec))
	}
	return payload, nil
}

// stopCompare cancels any in-flight comparison and waits for it to return.
func (c *client) stopCompare() {
	c.cmpMu.Lock()
	if c.cmpCancel != nil {
		c.cmpCancel()
	}
	c.cmpGen++
	c.cmpMu.Unlock()
	c.cmpWG.Wait()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
