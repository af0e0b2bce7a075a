package notify

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// outboundBuffer bounds the per-channel write queue. A subscriber that falls
// this far behind is treated as a failed writer and dropped.
const outboundBuffer = 64

// channel wraps one open websocket and serialises writes through a single
// pump goroutine so that senders never block on network I/O while holding a
// registry lock.
type channel struct {
	aeTitle string
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

func newChannel(conn *websocket.Conn, aeTitle string, log zerolog.Logger) *channel {
	c := &channel{
		aeTitle: aeTitle,
		conn:    conn,
		out:     make(chan []byte, outboundBuffer),
		done:    make(chan struct{}),
		log:     log,
	}
	go c.writePump()
	return c
}

func (c *channel) writePump() {
	for {
		select {
		case frame := <-c.out:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Str("ae_title", c.aeTitle).Msg("push channel write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue hands a frame to the pump. It reports false when the channel is
// closed or the subscriber is too far behind to accept more frames; the
// latter also closes the channel.
func (c *channel) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Str("ae_title", c.aeTitle).Msg("push channel backlog full, dropping channel")
		c.close()
		return false
	}
}

func (c *channel) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
