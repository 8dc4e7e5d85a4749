package http

import (
	"context"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/ws"

	"github.com/rs/zerolog/log"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(hub *ws.Hub, addr string) *APIServer {
	server := ws.NewServer(hub)
	apiHandlers := api.New(hub)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /rooms", apiHandlers.RoomsHandler)
	mux.HandleFunc("GET /healthz", apiHandlers.HealthHandler)

	// WebSocket endpoint
	mux.HandleFunc("/ws", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
