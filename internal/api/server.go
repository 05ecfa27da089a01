// Package api serves the Mini App JSON endpoints under POST /api/<name>.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"postbot/internal/auth"
	"postbot/internal/errors"
	"postbot/internal/services/posting"
	logx "postbot/pkg/logx"
)

const (
	InitDataHeader = "X-Telegram-Init-Data"
	maxBodyBytes   = 64 << 10
)

type Config struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AllowedOrigin string  // "" disables CORS headers, "*" allows any origin
	RatePerSec    float64 // per client address; 0 disables limiting
	Burst         int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = max(int(c.RatePerSec), 1)
	}
	return c
}

// StatusFunc reports scheduler diagnostics for admins.
type StatusFunc func(ctx context.Context) (any, error)

type Deps struct {
	Posting *posting.Service
	Auth    *auth.Verifier
	Status  StatusFunc
	Log     logx.Logger
}

type Server struct {
	cfg     Config
	log     logx.Logger
	posting *posting.Service
	auth    *auth.Verifier
	status  StatusFunc
	limiter *clientLimiter
	table   map[string]route
	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(cfg Config, d Deps) *Server {
	cfg = cfg.withDefaults()
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "api")),
		posting: d.Posting,
		auth:    d.Auth,
		status:  d.Status,
	}
	s.table = s.routes()
	if cfg.RatePerSec > 0 {
		s.limiter = newClientLimiter(cfg.RatePerSec, cfg.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/{name}", s.dispatch)
	s.handler = s.cors(s.limit(mux))
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener and serves in the background. Serve errors other
// than a clean shutdown are passed to onErr.
func (s *Server) Start(ctx context.Context, onErr func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "api: listen %s", s.cfg.Addr)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server error", logx.String("addr", ln.Addr().String()), logx.Err(err))
			if onErr != nil {
				onErr(err)
			}
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("api shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("api stopped", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) cors(next http.Handler) http.Handler {
	origin := strings.TrimSpace(s.cfg.AllowedOrigin)
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+InitDataHeader)
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r), time.Now()) {
			writeJSON(w, http.StatusTooManyRequests, envelope{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
