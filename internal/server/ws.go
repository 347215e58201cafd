package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// handleWS upgrades the connection and parks it until the client hangs
// up. The feed is push-only; anything the client sends is drained and
// dropped.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[server] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("dashboard-%d", s.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	s.clients.Store(clientID, client)
	log.Printf("[server] client connected: %s", clientID)

	defer func() {
		s.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[server] client disconnected: %s", clientID)
	}()

	s.mu.RLock()
	lastCycle := s.lastCycle
	s.mu.RUnlock()
	if lastCycle != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, lastCycle)
		cancel()
	}

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(data []byte) {
	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			log.Printf("[server] write to %s: %v", c.id, err)
		}
		return true
	})
}
