package http

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/annotation/internal/adapters/nats"
	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/pkg/metrics"
)

// wsMessage is sent from client to subscribe/unsubscribe to feeds.
type wsMessage struct {
	Action   string `json:"action"`    // "subscribe" | "unsubscribe"
	Channel  string `json:"channel"`   // "rules" | "broadcast" (default: rules)
	Event    string `json:"event"`     // rule event type, "" = all
	TaxonKey int64  `json:"taxon_key"` // rules channel only, 0 = all taxa
}

// wsSubject maps a client request onto a NATS subject.
func wsSubject(m wsMessage) (string, bool) {
	switch m.Channel {
	case "", "rules":
		if m.Event != "" {
			return natsadapter.RuleSubject(domain.RuleEventType(m.Event)), true
		}
		return natsadapter.RuleSubjectPrefix + ">", true
	case "broadcast":
		return natsadapter.BroadcastSubject, true
	}
	return "", false
}

// wsKey identifies one client subscription; the same subject may be
// followed for several taxa.
func wsKey(subject string, taxonKey int64) string {
	if taxonKey == 0 {
		return subject
	}
	return subject + "#" + strconv.FormatInt(taxonKey, 10)
}

// WebSocketHandler returns a handler that upgrades to WebSocket
// and relays rule events from NATS to connected clients.
// Clients send JSON: {"action":"subscribe","channel":"rules","event":"created","taxon_key":212}
// Every client starts subscribed to all rule events.
func WebSocketHandler(nc *nats.Conn) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()
		logger := slog.Default().With("remote", remoteAddr)
		logger.Info("ws client connected")
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		var mu sync.Mutex
		subs := make(map[string]*nats.Subscription)

		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		relay := func(taxonKey int64) nats.MsgHandler {
			return func(msg *nats.Msg) {
				if taxonKey != 0 {
					var event domain.RuleEvent
					if err := json.Unmarshal(msg.Data, &event); err != nil || event.TaxonKey != taxonKey {
						return
					}
				}
				_ = writeJSON(json.RawMessage(msg.Data))
			}
		}

		if nc == nil {
			_ = writeJSON(map[string]string{"error": "event stream unavailable"})
			return
		}

		defaultSubject := natsadapter.RuleSubjectPrefix + ">"
		sub, err := nc.Subscribe(defaultSubject, relay(0))
		if err != nil {
			logger.Error("ws default subscribe failed", "error", err)
			return
		}
		subs[defaultSubject] = sub

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}

			subject, ok := wsSubject(m)
			if !ok {
				_ = writeJSON(map[string]string{"error": "unknown channel: " + m.Channel})
				continue
			}
			key := wsKey(subject, m.TaxonKey)

			switch m.Action {
			case "subscribe":
				if _, exists := subs[key]; exists {
					_ = writeJSON(map[string]string{"status": "already subscribed", "subject": subject})
					continue
				}
				s, err := nc.Subscribe(subject, relay(m.TaxonKey))
				if err != nil {
					_ = writeJSON(map[string]string{"error": "subscribe failed: " + err.Error()})
					continue
				}
				subs[key] = s
				_ = writeJSON(map[string]string{"status": "subscribed", "subject": subject})

			case "unsubscribe":
				if s, exists := subs[key]; exists {
					_ = s.Unsubscribe()
					delete(subs, key)
					_ = writeJSON(map[string]string{"status": "unsubscribed", "subject": subject})
				} else {
					_ = writeJSON(map[string]string{"error": "not subscribed to " + subject})
				}

			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		close(done)
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		logger.Info("ws client disconnected")
	}
}
