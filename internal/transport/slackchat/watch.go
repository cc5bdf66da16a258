package slackchat

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/hiamp/hq/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// socketEvent is the subset of the event stream frame the engine cares about.
type socketEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
	ThreadS string `json:"thread_ts"`
	BotID   string `json:"bot_id"`
}

// Watch connects to the workspace event socket and surfaces every inbound
// message that carries a HIAMP trailer. The connection is re-dialed with a
// short delay until Unwatch is called.
func (c *Chat) Watch(handler transport.Handler) error {
	if c.slack.SocketURL == "" {
		return fmt.Errorf("slack socket-url is not configured; push delivery unavailable")
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchStop != nil {
		return fmt.Errorf("watch already active")
	}
	stop := make(chan struct{})
	c.watchStop = stop

	go c.watchLoop(stop, handler)
	return nil
}

// Unwatch stops the watch loop. Safe to call when no watch is active.
func (c *Chat) Unwatch() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}
}

func (c *Chat) watchLoop(stop <-chan struct{}, handler transport.Handler) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.slack.SocketURL, nil)
		if err != nil {
			c.log.Warn("event socket dial failed", "error", err)
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		// Close the connection when asked to stop so the read unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-stop:
				conn.Close()
			case <-done:
			}
		}()

		c.readFrames(conn, handler)
		close(done)
		conn.Close()
	}
}

func (c *Chat) readFrames(conn *websocket.Conn, handler transport.Handler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("event socket closed", "error", err)
			return
		}
		var ev socketEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type != "message" || !strings.Contains(ev.Text, "hq-msg:") {
			continue
		}
		rootTS := ev.ThreadS
		if rootTS == "" {
			rootTS = ev.TS
		}
		handler(transport.Incoming{
			Text:      ev.Text,
			ThreadRef: ev.Channel + ":" + rootTS,
			ChannelID: ev.Channel,
		})
	}
}
