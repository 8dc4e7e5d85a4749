package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading to websocket")
		return
	}

	connID := uuid.NewString()
	log.Info().Str("conn", connID).Str("remote", r.RemoteAddr).Msg("client connected")

	conn := NewConnection(s.hub, ws, connID)
	if err := conn.Handle(r.Context()); err != nil {
		log.Debug().Err(err).Str("conn", connID).Msg("connection closed")
	}

	log.Info().Str("conn", connID).Msg("client disconnected")
}
