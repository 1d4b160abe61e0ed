package socket

import (
	"context"
	"time"

	"github.com/1ureka/p2pcall/internal/util"
)

func (c *Client) startHeartbeatLocked(gen uint64) {
	c.stopHeartbeatLocked()
	ctx, cancel := context.WithCancel(c.ctx)
	c.heartbeat = cancel
	go c.runHeartbeat(ctx, gen)
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat()
		c.heartbeat = nil
	}
	c.lastBeat = time.Time{}
	c.lastAck = time.Time{}
}

func (c *Client) runHeartbeat(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	var sentAt time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.lastBeat = now
			c.mu.Unlock()

			if !c.Send(c.opts.HeartbeatMessage) {
				continue
			}
			if c.opts.HeartbeatTimeout > 0 && deadline == nil {
				sentAt = now
				deadline = time.After(c.opts.HeartbeatTimeout)
			}

		case <-deadline:
			deadline = nil
			if c.ackedSince(gen, sentAt) {
				continue
			}
			c.log.Warnf("heartbeat timed out after %s", c.opts.HeartbeatTimeout)
			c.dropConnection(gen, ErrHeartbeatTimeout)
			return
		}
	}
}

// ackedSince reports whether an ack arrived at or after t.
func (c *Client) ackedSince(gen uint64, t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return true
	}
	return !c.lastAck.Before(t)
}

func (c *Client) isHeartbeatAck(v any) bool {
	if c.opts.HeartbeatAckType == "" {
		return false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	typ, _ := m["type"].(string)
	return typ == c.opts.HeartbeatAckType
}

func (c *Client) ackHeartbeat(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.lastBeat.IsZero() {
		c.mu.Unlock()
		return
	}
	c.lastAck = time.Now()
	c.latency = c.lastAck.Sub(c.lastBeat)
	c.hasLatency = true
	latency := c.latency
	c.mu.Unlock()

	util.Stats.SetLatency(latency)
	c.log.Tracef("heartbeat acknowledged, latency: %s", latency)
}

// dropConnection closes the socket underneath the read loop so that it
// takes the abnormal-close path, with cause reported as the error.
func (c *Client) dropConnection(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.dropCause = cause
	c.mu.Unlock()

	_ = conn.Close()
}
