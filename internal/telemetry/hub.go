// Package telemetry exposes the control loop state over HTTP: a JSON
// status endpoint for polling and a websocket stream for plotting at
// the loop's own cadence.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JingyongXue/Firmware-MUDE/internal/loop"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// Bundle is one telemetry frame: the latest view of the loop and of
// every status topic the controllers publish.
type Bundle struct {
	Loop      loop.Snapshot            `json:"loop"`
	Rates     msg.RateControllerStatus `json:"rates"`
	UDE       msg.UDEStatus            `json:"ude"`
	Mixer     msg.MixerStatus          `json:"mixer"`
	Actuators msg.ActuatorControls     `json:"actuators"`

	GeneratedUTC string `json:"generated_utc"`
}

// Hub fans marshaled bundles out to any number of stream subscribers
// and keeps the most recent one so new subscribers and the status
// endpoint get an immediate value. Sends never block; a slow consumer
// drops frames instead of stalling the collector.
type Hub struct {
	mu       sync.RWMutex
	subs     map[int]chan []byte
	nextID   int
	last     []byte
	bundle   Bundle
	haveLast bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan []byte)}
}

// Subscribe registers a stream consumer. buffer <= 0 picks a small
// default. The returned channel closes on Unsubscribe.
func (h *Hub) Subscribe(buffer int) (int, <-chan []byte) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan []byte, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	last := h.last
	have := h.haveLast
	h.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish stores the bundle and broadcasts its JSON encoding.
func (h *Hub) Publish(b Bundle) {
	if b.GeneratedUTC == "" {
		b.GeneratedUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	enc, err := json.Marshal(b)
	if err != nil {
		return
	}

	h.mu.RLock()
	subs := make([]chan []byte, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- enc:
		default:
		}
	}

	h.mu.Lock()
	h.bundle = b
	h.last = enc
	h.haveLast = true
	h.mu.Unlock()
}

// Bundle returns the most recently published bundle.
func (h *Hub) Bundle() Bundle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bundle
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
}

// ServeWS upgrades the request and streams bundles until the peer goes
// away or the hub drops the subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id, ch := h.Subscribe(messageBufferSize)

	go func() {
		for frame := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				break
			}
		}
		_ = conn.Close()
	}()

	// Hold the read side open; any error means the peer left.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.Unsubscribe(id)
	_ = conn.Close()
}

// Collector paces the hub from the control bus: every interval it polls
// the status topics and the loop snapshot and publishes one bundle.
type Collector struct {
	Hub    *Hub
	Topics *loop.Topics
	Loop   *loop.Service

	// Interval between bundles. Zero or negative picks 50 ms.
	Interval time.Duration
}

// Run blocks until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rateSub := c.Topics.RateStatus.Subscribe()
	udeSub := c.Topics.UDEStatus.Subscribe()
	mixSub := c.Topics.MixerStatus.Subscribe()
	actSub := c.Topics.Actuators.Subscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var b Bundle
			if c.Loop != nil {
				b.Loop = c.Loop.Snapshot()
			}
			b.Rates, _ = rateSub.Poll()
			b.UDE, _ = udeSub.Poll()
			b.Mixer, _ = mixSub.Poll()
			b.Actuators, _ = actSub.Poll()
			c.Hub.Publish(b)
		}
	}
}
