// Package sndebug serves a node's operational status over HTTP, on a
// TCP listener or a local unix socket.
package sndebug

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// BlinkStatus reports the blink aggregation arena.
type BlinkStatus interface {
	Len() int
}

// SubmitStatus reports in-flight local submissions.
type SubmitStatus interface {
	Len() int
}

// NetStatus reports the network layer's identity and listeners.
type NetStatus interface {
	ID() string
	Addrs() []string
}

type Config struct {
	Listener net.Listener

	Height snquorum.ChainHeight

	// Blink, Submit, and Net are each optional; absent sources are
	// omitted from the status document.
	Blink  BlinkStatus
	Submit SubmitStatus
	Net    NetStatus
}

// Server answers status requests until its context is canceled.
type Server struct {
	done chan struct{}
}

func NewServer(ctx context.Context, log *slog.Logger, cfg Config) *Server {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		// serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("Debug server shutting down")
		} else {
			log.Info("Debug server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg Config) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, cfg)).Methods("GET")

	return r
}

// StatusResponse is the JSON document served at /status.
type StatusResponse struct {
	Height uint64 `json:"height"`

	BlinkTxs    *int `json:"blink_txs,omitempty"`
	Submissions *int `json:"submissions,omitempty"`

	PeerID      string   `json:"peer_id,omitempty"`
	ListenAddrs []string `json:"listen_addrs,omitempty"`
}

func handleStatus(log *slog.Logger, cfg Config) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := StatusResponse{
			Height: cfg.Height.Height(),
		}
		if cfg.Blink != nil {
			n := cfg.Blink.Len()
			resp.BlinkTxs = &n
		}
		if cfg.Submit != nil {
			n := cfg.Submit.Len()
			resp.Submissions = &n
		}
		if cfg.Net != nil {
			resp.PeerID = cfg.Net.ID()
			resp.ListenAddrs = cfg.Net.Addrs()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Info("Failed to write status response", "err", err)
		}
	}
}
