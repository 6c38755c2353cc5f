package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/zudu-go/internal/agent"
	"github.com/54b3r/zudu-go/internal/lead"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed TurnTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// TurnTimeout bounds one conversational turn (default: 60s).
	TurnTimeout time.Duration
	// MaxBodyBytes caps request bodies on /api routes (default: 64 KiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on protected
	// routes (requests/second). Defaults to defaultRateLimit.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to
	// defaultRateBurst.
	RateBurst int
	// APIKey is the Bearer token required on protected /api routes.
	// If empty, authentication is disabled.
	APIKey string
	// Registry receives the server metrics and is served on /metrics. Sharing
	// it with the retrieval cache exposes both on one endpoint. If nil a
	// private registry is created.
	Registry *prometheus.Registry
}

// sessionRegistry is what the session handlers need from *agent.Registry.
type sessionRegistry interface {
	Create(ctx context.Context) (*agent.Session, string, error)
	Get(ctx context.Context, id string) (*agent.Session, error)
	Len() int
}

// cachePurger is implemented by retrievers that memoise results, such as
// *retrieval.Cache.
type cachePurger interface {
	Purge(ctx context.Context) error
}

// Server is the HTTP front end for voice sessions, the retrieval cache and
// captured leads.
type Server struct {
	// sessions creates and resolves conversational sessions.
	sessions sessionRegistry
	// retriever serves POST /api/retrieve and, when it is a cachePurger,
	// POST /api/cache/purge.
	retriever agent.Retriever
	// leads serves GET /api/leads. Nil disables the endpoint.
	leads lead.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine.
	stopRL func()
}

// createSessionResponse is the JSON response for POST /api/sessions.
type createSessionResponse struct {
	// SessionID addresses the session in later requests.
	SessionID string `json:"session_id"`
	// Greeting is the agent's opening line.
	Greeting string `json:"greeting"`
}

// turnRequest is the JSON body for POST /api/sessions/{id}/turns.
type turnRequest struct {
	// Text is the transcribed caller utterance.
	Text string `json:"text"`
}

// turnResponse is the JSON response for a completed turn.
type turnResponse struct {
	// Reply is the agent's spoken answer.
	Reply string `json:"reply"`
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the text to look up.
	Query string `json:"query"`
}

// retrieveResponse carries the context block exactly as it would be injected.
type retrieveResponse struct {
	// Context is the formatted block, or the no-context fallback.
	Context string `json:"context"`
}

// purgeResponse is the JSON response for POST /api/cache/purge.
type purgeResponse struct {
	// Status is "purged" on success.
	Status string `json:"status"`
}

// leadsResponse is the JSON response for GET /api/leads.
type leadsResponse struct {
	// Leads is newest first.
	Leads []lead.Lead `json:"leads"`
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`
}
