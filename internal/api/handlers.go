package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type roomLister interface {
	Rooms() []string
}

type API struct {
	hub roomLister
}

func New(hub roomLister) *API {
	return &API{hub: hub}
}

// RoomsHandler returns the names of all known rooms. Read-only, no auth,
// no pagination; the set is small and bounded.
func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Rooms []string `json:"rooms"`
	}{
		Rooms: a.hub.Rooms(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode rooms response")
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
