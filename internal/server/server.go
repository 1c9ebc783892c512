// Package server provides the HTTP surface of the orchestrator: a command
// endpoint that speaks the same request/reply protocol as the line channel,
// a websocket channel for streaming clients, and version and health
// endpoints. CORS handling and middleware integration follow the service
// configuration.
package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/common/httpx"
	"github.com/charterhq/charter/internal/common/middleware"
	"github.com/charterhq/charter/internal/orchestrator/config"
	"github.com/charterhq/charter/internal/orchestrator/dispatch"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

// maxCommandBytes bounds one command request body.
const maxCommandBytes = 16 * 1024 * 1024

// OrchestratorServer is the main HTTP server. Commands arriving over HTTP
// and over websocket feed the same dispatcher as the stdio channel, so
// scheduling guarantees hold across transports.
type OrchestratorServer struct {
	Router     *chi.Mux
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
}

// CreateNewServer creates a new OrchestratorServer instance.
func CreateNewServer(d *dispatch.Dispatcher, reg *registry.Registry) (*OrchestratorServer, error) {
	s := &OrchestratorServer{
		Router:     chi.NewRouter(),
		dispatcher: d,
		registry:   reg,
	}
	return s, nil
}

// MountHandlers sets up all HTTP routes and middleware for the server.
func (s *OrchestratorServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.Router.Route("/v1", func(r chi.Router) {
		if config.Config().Auth.Enabled {
			r.Use(BearerAuth)
		}
		r.Post("/commands", s.postCommand)
		r.Get("/ws", s.serveWebSocket)
	})
	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/ready", s.getReadiness)
}

// postCommand accepts one protocol request as the body and replies with the
// corresponding protocol reply. The call blocks until the command completes
// or the client goes away.
func (s *OrchestratorServer) postCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		httpx.ErrInvalidRequest("unable to read request body").Send(w)
		return
	}

	pending := s.dispatcher.SubmitRaw(body)
	reply, err := pending.Wait(r.Context())
	if err != nil {
		// Client gone; the command still runs to completion.
		log.Ctx(r.Context()).Debug().Err(err).Msg("client disconnected before reply")
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, reply)
}

// GetVersionRsp represents the response for version information.
type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *OrchestratorServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Charter Orchestrator: " + Version,
		ApiVersion:    Version,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

// getReadiness handles health check requests for load balancers and
// monitoring systems.
func (s *OrchestratorServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.registry.Count(),
	})
}

// HandleCORS provides CORS middleware for cross-origin requests.
func (s *OrchestratorServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", "X-Charter-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
