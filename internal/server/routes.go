package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Tyrowin/voicerelay/internal/config"
)

// SetupRoutes wires the health, stats, WebSocket and static file handlers.
// WebSocket upgrades are accepted on /ws and on any other path, matching the
// single listening socket that serves both.
func SetupRoutes(hub *Hub, cfg *config.Config) http.Handler {
	acceptor := NewAcceptor(hub, newOriginPolicy(cfg.AllowedOrigins), cfg.StaticDir)

	router := mux.NewRouter()
	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/stats", StatsHandler(hub)).Methods(http.MethodGet)
	router.Handle("/ws", acceptor)
	router.PathPrefix("/").Handler(acceptor)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return corsMiddleware.Handler(router)
}
