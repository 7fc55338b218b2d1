// Package api exposes the ConvoGraph HTTP surface.
//
// It receives channel webhooks, resolves subscribers, enriches text turns
// with NLU predictions and hands the resulting events to the flow engine.
// It also carries a small admin surface for blocks and chatbot settings.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
	"github.com/convograph/convograph/internal/nlu"
	"github.com/convograph/convograph/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// FlowEngine is the slice of the flow controller the server drives.
type FlowEngine interface {
	HandleMessageEvent(ctx context.Context, event channel.Event, settings models.Settings) error
}

// Opts holds server configuration options.
type Opts struct {
	Addr      string
	Settings  models.Settings
	Predictor nlu.Predictor
	Scorer    nlu.Scorer
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSettings sets the initial chatbot settings snapshot.
func WithSettings(s models.Settings) Option {
	return func(o *Opts) { o.Settings = s }
}

// WithPredictor enables NLU enrichment of text turns.
func WithPredictor(p nlu.Predictor) Option {
	return func(o *Opts) { o.Predictor = p }
}

// WithScorer sets the scorer applied to raw NLU predictions.
func WithScorer(s nlu.Scorer) Option {
	return func(o *Opts) { o.Scorer = s }
}

// Server is the ConvoGraph HTTP server.
type Server struct {
	addr      string
	engine    FlowEngine
	store     store.Store
	predictor nlu.Predictor
	scorer    nlu.Scorer

	mu       sync.RWMutex
	settings models.Settings
}

// NewServer creates a server over the given engine and store.
func NewServer(engine FlowEngine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:      cfg.Addr,
		engine:    engine,
		store:     st,
		predictor: cfg.Predictor,
		scorer:    cfg.Scorer,
		settings:  cfg.Settings,
	}
}

// Settings returns the current settings snapshot.
func (s *Server) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the settings snapshot. In-flight turns keep the
// snapshot they started with.
func (s *Server) SetSettings(settings models.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Handler builds the HTTP route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{channel}", s.webhookHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /settings", s.getSettingsHandler)
	mux.HandleFunc("PUT /settings", s.putSettingsHandler)
	mux.HandleFunc("POST /blocks", s.createBlockHandler)
	mux.HandleFunc("GET /blocks/{id}", s.getBlockHandler)
	mux.HandleFunc("PUT /blocks/{id}", s.updateBlockHandler)
	mux.HandleFunc("DELETE /blocks/{id}", s.deleteBlockHandler)
	return mux
}

// Run serves HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: shutdown failed", "error", err)
		}
	}()

	slog.Info("Server.Run: ConvoGraph API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
