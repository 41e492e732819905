package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server is the live-delivery core: it admits authenticated sessions into
// the Hub and routes their frames.
type Server struct {
	cfg      Config
	store    Store
	auth     Authenticator
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *zap.Logger

	// ctx is handed to every frame handler and ends with Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

var _ inboundHandler = (*Server)(nil)

// New builds a Server. A nil logger discards output.
func New(cfg Config, st Store, authn Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.sanitized()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		store:   st,
		auth:    authn,
		hub:     NewHub(log.Named("hub")),
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub exposes the session registry.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.cfg }

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.Routes() }

// Shutdown closes every session and cancels in-flight frame handling.
func (s *Server) Shutdown() error {
	s.cancel()
	return s.hub.Shutdown(s.cfg.ShutdownTimeout)
}
