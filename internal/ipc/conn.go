package ipc

import (
	"encoding/json"
	"net"
	"sync"
)

// Conn wraps one accepted connection. Writes are serialized because both
// the request/response loop and asynchronous stream-event delivery write
// to the same underlying net.Conn.
type Conn struct {
	raw     net.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string]func() // subscription id -> detach callback
}

func newConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, subscriptions: make(map[string]func())}
}

func (c *Conn) WriteResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.raw, data)
}

func (c *Conn) WriteEvent(event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.raw, data)
}

// TrackSubscription records a detach callback so the server can garbage
// collect subscriptions on abrupt client disconnect.
func (c *Conn) TrackSubscription(subscriptionID string, detach func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[subscriptionID] = detach
}

func (c *Conn) UntrackSubscription(subscriptionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, subscriptionID)
}

// detachAll is invoked when the connection closes (cleanly or abruptly)
// so every subscription it held is garbage collected.
func (c *Conn) detachAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]func())
	c.mu.Unlock()
	for _, detach := range subs {
		detach()
	}
}
