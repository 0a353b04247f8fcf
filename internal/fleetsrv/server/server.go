// Package server assembles the fleet control plane HTTP server: middleware,
// API routes and the metrics endpoint.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pressfleet/pressfleet/internal/common/logtrace"
	"github.com/pressfleet/pressfleet/internal/common/middleware"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/apis"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/config"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/metrics"
)

type FleetServer struct {
	Router   *chi.Mux
	services *apis.Services
}

func CreateNewServer(services *apis.Services) (*FleetServer, error) {
	s := &FleetServer{
		Router:   chi.NewRouter(),
		services: services,
	}
	return s, nil
}

func (s *FleetServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if config.Config().Server.HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
			MaxAge:         300,
		}))
	}
	s.Router.Route("/", func(r chi.Router) {
		apis.Router(r, s.services)
	})
	s.Router.Handle("/metrics", metrics.Handler())
	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			fmt.Printf("Logging err: %s\n", err.Error())
		}
	}
}
