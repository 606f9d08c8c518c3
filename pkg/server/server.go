// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/szym/barnacle/pkg/log"
	"github.com/szym/barnacle/pkg/tether"
	"github.com/szym/barnacle/pkg/types"
)

const unixPrefix = "unix:"

// Server represents the HTTP control server
type Server struct {
	addr       string
	registry   *tether.Registry
	httpServer *http.Server
}

// FilterRequest is the body of POST /tethers/{name}/filter
type FilterRequest struct {
	MAC     string `json:"mac"`
	Allowed bool   `json:"allowed"`
}

// DmzRequest is the body of POST /tethers/{name}/dmz
type DmzRequest struct {
	IP string `json:"ip"`
}

// Accepted is returned for every request that was queued
type Accepted struct {
	Tether  string `json:"tether"`
	Request string `json:"request"`
}

// NewServer creates a server for the orchestrators in registry.
// addr is host:port or unix:/path/to/socket.
func NewServer(addr string, registry *tether.Registry) *Server {
	s := &Server{addr: addr, registry: registry}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		log.Logger.Debugf("Health check request received")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})

	// Ready once an orchestrator is registered
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		log.Logger.Debugf("Readiness check request received")
		if s.registry.Len() == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "not ready")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ready")
	})

	mux.HandleFunc("GET /tethers", s.listTethers)
	mux.HandleFunc("GET /tethers/{name}", s.withTether(func(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
		writeJSON(w, http.StatusOK, o.Status())
	}))
	mux.HandleFunc("POST /tethers/{name}/start", s.withTether(func(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
		o.RequestStart()
		accepted(w, o, "start")
	}))
	mux.HandleFunc("POST /tethers/{name}/stop", s.withTether(func(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
		o.RequestStop()
		accepted(w, o, "stop")
	}))
	mux.HandleFunc("POST /tethers/{name}/assoc", s.withTether(func(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
		o.RequestAssociate()
		accepted(w, o, "assoc")
	}))
	mux.HandleFunc("POST /tethers/{name}/stats", s.withTether(s.refreshStats))
	mux.HandleFunc("POST /tethers/{name}/filter", s.withTether(s.changeFilter))
	mux.HandleFunc("POST /tethers/{name}/dmz", s.withTether(s.setDmz))

	return mux
}

func (s *Server) withTether(h func(http.ResponseWriter, *http.Request, *tether.Orchestrator)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		o, ok := s.registry.Lookup(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("tether %q not found", name))
			return
		}
		h(w, r, o)
	}
}

func (s *Server) listTethers(w http.ResponseWriter, r *http.Request) {
	statuses := []*types.Status{}
	for _, name := range s.registry.Names() {
		if o, ok := s.registry.Lookup(name); ok {
			statuses = append(statuses, o.Status())
		}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) refreshStats(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
	var delay time.Duration
	if v := r.URL.Query().Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid delay %q", v))
			return
		}
		delay = d
	}
	o.RequestStatsRefresh(delay)
	accepted(w, o, "stats")
}

func (s *Server) changeFilter(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid filter request: %v", err))
		return
	}
	mac, err := types.CanonicalMAC(req.MAC)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o.RequestFilterChange(mac, req.Allowed)
	accepted(w, o, "filter")
}

func (s *Server) setDmz(w http.ResponseWriter, r *http.Request, o *tether.Orchestrator) {
	var req DmzRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid dmz request: %v", err))
		return
	}
	if net.ParseIP(req.IP) == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ip %q", req.IP))
		return
	}
	o.RequestDmz(req.IP)
	accepted(w, o, "dmz")
}

func accepted(w http.ResponseWriter, o *tether.Orchestrator, request string) {
	log.Logger.Debugf("queued %s request for %s", request, o.Name())
	writeJSON(w, http.StatusAccepted, Accepted{Tether: o.Name(), Request: request})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Warnf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) listen() (net.Listener, error) {
	if path, ok := strings.CutPrefix(s.addr, unixPrefix); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %v", path, err)
		}
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", s.addr)
}

// Start starts the HTTP server and blocks until it is shut down
func (s *Server) Start() error {
	l, err := s.listen()
	if err != nil {
		return fmt.Errorf("control server failed to listen on %s: %v", s.addr, err)
	}
	log.Logger.Infof("Starting control server on %s", s.addr)
	if err := s.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server failed: %v", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
