package internal

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// wsConn is one upgraded websocket. It is the Sink the Dispatcher writes to:
// Deliver only queues, and writePump is the sole goroutine touching the
// network on the outbound side.
type wsConn struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	controller *Controller
	dispatcher *Dispatcher

	mutex  sync.Mutex
	send   chan []byte
	closed bool
}

func newWSConn(id, remoteAddr string, conn *websocket.Conn, controller *Controller, dispatcher *Dispatcher) *wsConn {
	return &wsConn{
		id:         id,
		remoteAddr: remoteAddr,
		conn:       conn,
		controller: controller,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendBufferSize),
	}
}

// Deliver queues payload without blocking. A full or closed queue reports false.
func (c *wsConn) Deliver(payload []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close drops the underlying connection; readPump notices and cleans up.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) closeSend() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConn) readPump(readLimit int64) {
	defer func() {
		if err := c.controller.Handle(c.id, DisconnectEvent{}); err != nil {
			log.Printf("connection %s: disconnect: %v", c.id, err)
		}
		c.closeSend()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("connection %s (%s): read error: %v", c.id, c.remoteAddr, err)
			}
			// read error ends the loop so the deferred cleanup can fire.
			break
		}
		if messageType != websocket.TextMessage {
			c.dispatcher.SendTo(c.id, newRejection(ErrMalformedFrame))
			continue
		}
		event, err := DecodeEvent(payload)
		if err != nil {
			reason := ErrMalformedFrame
			if errors.Is(err, ErrUnknownEventType) {
				reason = ErrUnknownEventType
			}
			c.dispatcher.SendTo(c.id, newRejection(reason))
			log.Printf("connection %s: %v", c.id, err)
			continue
		}
		if err := c.controller.Handle(c.id, event); errors.Is(err, ErrUnknownConnection) {
			log.Printf("connection %s: %s: %v", c.id, event.eventName(), err)
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
