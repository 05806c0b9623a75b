// Package controlapi implements the local control API of spec §6.1: a
// loopback-bound HTTP+JSON surface over the dispatcher's Submit/Snapshot,
// returning the spec's discriminated {success,data}/{success,error}
// envelope. New package, no direct teacher equivalent; its mux-mounting
// and Start/Stop lifecycle is modeled on the teacher's
// observability.Server (internal/observability/observability.go).
package controlapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshcore/meshd/internal/authn"
	"github.com/meshcore/meshd/internal/authz"
	"github.com/meshcore/meshd/internal/dispatcher"
	"github.com/meshcore/meshd/internal/metrics"
	"github.com/meshcore/meshd/internal/rib"
)

// Server hosts the /v1/peers and /v1/routes HTTP+JSON endpoints.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	verifier   authn.Verifier
	authz      authz.Engine
	logger     *slog.Logger
	metrics    *metrics.Registry
	srv        *http.Server
}

// New returns a Server bound to addr. reg may be nil, in which case
// per-request counts are not recorded.
func New(addr string, d *dispatcher.Dispatcher, verifier authn.Verifier, engine authz.Engine, logger *slog.Logger, reg *metrics.Registry) *Server {
	s := &Server{
		dispatcher: d,
		verifier:   verifier,
		authz:      engine,
		logger:     logger.With("component", "controlapi"),
		metrics:    reg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/peers", s.handlePeersCollection)
	mux.HandleFunc("/v1/peers/", s.handlePeerItem)
	mux.HandleFunc("/v1/routes", s.handleRoutesCollection)
	mux.HandleFunc("/v1/routes/", s.handleRouteItem)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start launches the HTTP server in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("control API started", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control API server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
	if s.metrics != nil {
		s.metrics.ControlAPITotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, route string, status int, data interface{}) {
	s.writeJSON(w, route, status, envelope{Success: true, Data: data})
}

func (s *Server) writeRIBError(w http.ResponseWriter, route string, err *rib.Error) {
	s.writeJSON(w, route, httpStatusFor(err.Kind), envelope{
		Success: false,
		Error:   &apiError{Kind: string(err.Kind), Message: err.Message},
	})
}

func (s *Server) writeError(w http.ResponseWriter, route string, status int, kind, message string) {
	s.writeJSON(w, route, status, envelope{Success: false, Error: &apiError{Kind: kind, Message: message}})
}

func httpStatusFor(kind rib.ErrorKind) int {
	switch kind {
	case rib.ErrInvalidAction:
		return http.StatusBadRequest
	case rib.ErrUnauthorized:
		return http.StatusForbidden
	case rib.ErrCapacityExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	principal, _, _, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		return "", false
	}
	return principal, true
}

func (s *Server) checkAuthz(r *http.Request, principal string, action authz.Action, resource string) bool {
	decision, err := s.authz.Authorize(r.Context(), principal, action, resource)
	return err == nil && decision.Allowed
}

func (s *Server) handlePeersCollection(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/peers"
	principal, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, route, http.StatusUnauthorized, string(rib.ErrUnauthorized), "invalid credentials")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.checkAuthz(r, principal, authz.ActionReadPeers, "*") {
			s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		state := s.dispatcher.Snapshot(ctx)
		s.writeSuccess(w, route, http.StatusOK, peersFromState(state))

	case http.MethodPost:
		if !s.checkAuthz(r, principal, authz.ActionCreatePeer, "*") {
			s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
			return
		}
		var req struct {
			Name      string   `json:"name"`
			Endpoint  string   `json:"endpoint"`
			Domains   []string `json:"domains"`
			PeerToken string   `json:"peerToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, route, http.StatusBadRequest, string(rib.ErrInvalidAction), "malformed JSON body")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		state, ribErr := s.dispatcher.Submit(ctx, rib.LocalPeerCreate{PeerInfo: rib.PeerInfo{
			Name: req.Name, Endpoint: req.Endpoint, Domains: req.Domains, PeerToken: req.PeerToken,
		}})
		if ribErr != nil {
			s.writeRIBError(w, route, ribErr)
			return
		}
		s.writeSuccess(w, route, http.StatusCreated, peersFromState(state))

	default:
		s.writeError(w, route, http.StatusMethodNotAllowed, string(rib.ErrInvalidAction), "method not allowed")
	}
}

func (s *Server) handlePeerItem(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/peers/"
	name := strings.TrimPrefix(r.URL.Path, route)
	if name == "" {
		http.NotFound(w, r)
		return
	}
	principal, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, route, http.StatusUnauthorized, string(rib.ErrUnauthorized), "invalid credentials")
		return
	}
	if r.Method != http.MethodDelete {
		s.writeError(w, route, http.StatusMethodNotAllowed, string(rib.ErrInvalidAction), "method not allowed")
		return
	}
	if !s.checkAuthz(r, principal, authz.ActionDeletePeer, name) {
		s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	state, ribErr := s.dispatcher.Submit(ctx, rib.LocalPeerDelete{Name: name})
	if ribErr != nil {
		s.writeRIBError(w, route, ribErr)
		return
	}
	s.writeSuccess(w, route, http.StatusOK, peersFromState(state))
}

func (s *Server) handleRoutesCollection(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/routes"
	principal, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, route, http.StatusUnauthorized, string(rib.ErrUnauthorized), "invalid credentials")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.checkAuthz(r, principal, authz.ActionReadRoutes, "*") {
			s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		state := s.dispatcher.Snapshot(ctx)
		s.writeSuccess(w, route, http.StatusOK, routesFromState(state))

	case http.MethodPost:
		if !s.checkAuthz(r, principal, authz.ActionCreateRoute, "*") {
			s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
			return
		}
		var req struct {
			Name     string            `json:"name"`
			Protocol string            `json:"protocol"`
			Endpoint struct {
				Scheme string `json:"scheme"`
				Host   string `json:"host"`
				Port   uint32 `json:"port"`
			} `json:"endpoint"`
			Region string            `json:"region"`
			Tags   map[string]string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, route, http.StatusBadRequest, string(rib.ErrInvalidAction), "malformed JSON body")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		state, ribErr := s.dispatcher.Submit(ctx, rib.LocalRouteCreate{Route: rib.Route{
			Name:     req.Name,
			Protocol: rib.Protocol(req.Protocol),
			Endpoint: rib.Endpoint{Scheme: req.Endpoint.Scheme, Host: req.Endpoint.Host, Port: req.Endpoint.Port},
			Region:   req.Region,
			Tags:     req.Tags,
		}})
		if ribErr != nil {
			s.writeRIBError(w, route, ribErr)
			return
		}
		s.writeSuccess(w, route, http.StatusCreated, routesFromState(state))

	default:
		s.writeError(w, route, http.StatusMethodNotAllowed, string(rib.ErrInvalidAction), "method not allowed")
	}
}

func (s *Server) handleRouteItem(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/routes/"
	name := strings.TrimPrefix(r.URL.Path, route)
	if name == "" {
		http.NotFound(w, r)
		return
	}
	principal, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, route, http.StatusUnauthorized, string(rib.ErrUnauthorized), "invalid credentials")
		return
	}
	if r.Method != http.MethodDelete {
		s.writeError(w, route, http.StatusMethodNotAllowed, string(rib.ErrInvalidAction), "method not allowed")
		return
	}
	if !s.checkAuthz(r, principal, authz.ActionDeleteRoute, name) {
		s.writeError(w, route, http.StatusForbidden, string(rib.ErrUnauthorized), "not authorized")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	state, ribErr := s.dispatcher.Submit(ctx, rib.LocalRouteDelete{Name: name})
	if ribErr != nil {
		s.writeRIBError(w, route, ribErr)
		return
	}
	s.writeSuccess(w, route, http.StatusOK, routesFromState(state))
}

type peerView struct {
	Name             string `json:"name"`
	Endpoint         string `json:"endpoint"`
	ConnectionStatus string `json:"connectionStatus"`
}

func peersFromState(state *rib.State) []peerView {
	if state == nil {
		return nil
	}
	out := make([]peerView, 0, len(state.Peers))
	for _, p := range state.Peers {
		out = append(out, peerView{Name: p.Name, Endpoint: p.Endpoint, ConnectionStatus: string(p.ConnectionStatus)})
	}
	return out
}

type routesView struct {
	Local    []rib.Route      `json:"local"`
	Internal []rib.RouteEntry `json:"internal"`
}

func routesFromState(state *rib.State) routesView {
	var out routesView
	if state == nil {
		return out
	}
	for _, r := range state.LocalRoutes {
		out.Local = append(out.Local, r)
	}
	for _, e := range state.LearnedRoutes {
		out.Internal = append(out.Internal, e)
	}
	return out
}
