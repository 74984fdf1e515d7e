package mux

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsClientQueue  = 256
)

// WSFeed broadcasts live fMP4 output to WebSocket viewers. It implements
// PartWriter for a LiveFMP4Sink and http.Handler for viewers. A viewer
// receives the init segment first and then parts starting at the next
// independent one. Viewers that fall behind are disconnected.
type WSFeed struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.Mutex
	init    []byte
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	synced  bool
	dropped bool
}

// NewWSFeed returns a feed that accepts connections from any origin.
func NewWSFeed(logger logrus.FieldLogger) *WSFeed {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WSFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logger.WithField("sink", "wsfeed"),
		clients: make(map[*wsClient]struct{}),
	}
}

// WriteInit stores the init segment and sends it to every connected viewer,
// who then wait for the next independent part.
func (f *WSFeed) WriteInit(init []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.init = append([]byte(nil), init...)
	for c := range f.clients {
		c.synced = false
		f.enqueue(c, f.init)
	}
	return nil
}

// WritePart broadcasts part. It never blocks on a slow viewer.
func (f *WSFeed) WritePart(part []byte, independent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrSinkClosed
	}
	msg := append([]byte(nil), part...)
	for c := range f.clients {
		if !c.synced {
			if !independent {
				continue
			}
			c.synced = true
		}
		f.enqueue(c, msg)
	}
	return nil
}

// enqueue must be called with f.mu held.
func (f *WSFeed) enqueue(c *wsClient, msg []byte) {
	if c.dropped {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.dropped = true
		close(c.send)
		delete(f.clients, c)
		f.log.WithField("client", c.id).Warn("viewer too slow, disconnecting")
	}
}

// Viewers returns the number of connected viewers.
func (f *WSFeed) Viewers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and streams to it until either side
// closes.
func (f *WSFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsClientQueue),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	if f.init != nil {
		f.enqueue(c, f.init)
	}
	f.mu.Unlock()

	f.log.WithFields(logrus.Fields{"client": c.id, "remote": r.RemoteAddr}).Info("viewer connected")
	go f.readLoop(c)
	f.writeLoop(c)
}

// readLoop discards viewer messages and detaches the viewer once the
// connection fails.
func (f *WSFeed) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				f.log.WithError(err).WithField("client", c.id).Debug("viewer read failed")
			}
			f.detach(c)
			return
		}
	}
}

func (f *WSFeed) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			f.log.WithError(err).WithField("client", c.id).Debug("viewer write failed")
			f.detach(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.log.WithField("client", c.id).Info("viewer disconnected")
}

func (f *WSFeed) detach(c *wsClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.dropped {
		return
	}
	c.dropped = true
	close(c.send)
	delete(f.clients, c)
}

// Close disconnects every viewer.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		c.dropped = true
		close(c.send)
		delete(f.clients, c)
	}
	return nil
}
