package internal

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request, assigns a fresh connection id and starts the
// read and write pumps. The connection stays roomless until it sends a join.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	remoteAddr := s.clientIP(request)
	if !s.connLimiter.Allow(remoteAddr) {
		http.Error(writer, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	id := uuid.NewString()
	client := newWSConn(id, remoteAddr, websocketConn, s.controller, s.dispatcher)
	s.dispatcher.Attach(id, client)
	if err := s.controller.Handle(id, ConnectEvent{RemoteAddr: remoteAddr}); err != nil {
		log.Printf("connection %s: connect: %v", id, err)
	}

	go client.writePump()
	go client.readPump(s.readLimit)
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the
// peer address.
func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, _ := strings.Cut(forwarded, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
