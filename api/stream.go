package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-pilot-server/domain"
)

const (
	subscriberBuffer  = 10
	keepaliveInterval = 30 * time.Second
)

// Broker keeps the registry of connected event stream clients and fans
// mutation events out to them, best effort.
type Broker struct {
	mu   sync.Mutex
	subs map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan domain.Event]struct{})}
}

// Subscribe registers a new client channel. The channel is buffered; a client
// that cannot keep up drops events rather than blocking a broadcast.
func (b *Broker) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the registry. Events broadcast while
// the removal is in flight may or may not still be delivered.
func (b *Broker) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Broadcast delivers ev to every currently subscribed channel. The registry is
// snapshotted under the lock so clients may subscribe or disconnect while a
// broadcast is in flight. A failed send to one client never affects the rest
// and never reaches the mutation that produced the event.
func (b *Broker) Broadcast(ev domain.Event) {
	b.mu.Lock()
	subs := make([]chan domain.Event, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.WithField("type", ev.Type).Debug("dropping event for slow stream client")
		}
	}
}

func streamEvents(broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		// Write an initial comment to ensure headers are flushed to the client.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch := broker.Subscribe()
		defer broker.Unsubscribe(ch)
		ctx := c.Request().Context()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case ev := <-ch:
				data, err := json.Marshal(ev)
				if err != nil {
					c.Logger().Errorf("marshal event: %v", err)
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				// Send a comment as a heartbeat to keep the connection alive.
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
