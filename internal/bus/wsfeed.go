package bus

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // external clients authenticate out of band
	},
}

// safeConn serializes writes; gorilla connections allow one writer at a time.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// Feed republishes bus events over WebSocket for external consumers such as
// the mobile client.
type Feed struct {
	bus    *Bus
	log    *slog.Logger
	subID  int
	mu     sync.RWMutex
	nextID int
	conns  map[int]*safeConn
}

// NewFeed attaches a WebSocket feed to the bus. The feed subscribes to every
// event type; Close detaches it.
func NewFeed(b *Bus, log *slog.Logger) *Feed {
	f := &Feed{bus: b, log: log, conns: make(map[int]*safeConn)}
	f.subID = b.Subscribe(f.broadcast)
	return f
}

// Handler returns the HTTP handler that upgrades connections into feed
// subscribers.
func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		sc := &safeConn{Conn: conn}

		f.mu.Lock()
		f.nextID++
		id := f.nextID
		f.conns[id] = sc
		f.mu.Unlock()

		// Drain reads until the client goes away, then drop the connection.
		go func() {
			defer func() {
				f.mu.Lock()
				delete(f.conns, id)
				f.mu.Unlock()
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

func (f *Feed) broadcast(event Event) {
	f.mu.RLock()
	conns := make([]*safeConn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(event); err != nil {
			f.log.Debug("feed write failed", "error", err)
		}
	}
}

// Close detaches the feed from the bus and closes every connection.
func (f *Feed) Close() {
	f.bus.Unsubscribe(f.subID)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.conns {
		c.Close()
		delete(f.conns, id)
	}
}
