// Package server is the HTTP control surface the CRM backend drives the
// bridge through: start, status, pairing code, reset, disconnect, send.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vantagecrm/wabridge/internal/config"
	"github.com/vantagecrm/wabridge/sessions"
	"github.com/vantagecrm/wabridge/wire"
)

// SessionService is what the control surface needs from the session
// manager. Implemented by *sessions.Manager.
type SessionService interface {
	Start(tenantID string) error
	Reset(ctx context.Context, tenantID string) error
	Disconnect(ctx context.Context, tenantID string) error
	Send(ctx context.Context, tenantID, to, text string) (wire.SendReceipt, time.Duration, error)
	SendTyping(ctx context.Context, tenantID, to string, composing bool) error
	Snapshot(tenantID string) (sessions.Snapshot, bool)
	HasCredentials(tenantID string) bool
	Diagnostics(tenantID string) sessions.DiagnosticsReport
}

type Server struct {
	env     string // Environment (e.g., "DEV", "production")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	service SessionService
	limiter *rate.Limiter
}

func New(config config.Config, service SessionService) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		config:  config,
		service: service,
		limiter: rate.NewLimiter(rate.Limit(config.GetRateLimitPerSecond()), config.GetRateLimitBurst()),
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
