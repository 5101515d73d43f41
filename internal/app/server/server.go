package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/api"
	"seo-rules-engine/internal/config"
	"seo-rules-engine/internal/engine"
	"seo-rules-engine/internal/listener"
	"seo-rules-engine/internal/storage"
)

// Server is the rule delivery service: snapshot engine, HTTP API and the
// refresh loops that keep the snapshot current.
type Server struct {
	cfg   config.Config
	store storage.Store
	eng   *engine.DeliveryEngine
}

func New(cfg config.Config, st storage.Store) *Server {
	return &Server{cfg: cfg, store: st, eng: engine.NewEngine()}
}

func (s *Server) Engine() *engine.DeliveryEngine { return s.eng }

func (s *Server) Handler() http.Handler {
	return api.Router(api.NewDeliveryHandler(s.eng, s.store))
}

// StartSnapshotRefresher rebuilds the snapshot every interval until ctx is
// done. A failed rebuild keeps the previous snapshot.
func (s *Server) StartSnapshotRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.eng.BuildSnapshot(ctx, s.store); err != nil {
					log.Error().Err(err).Msg("periodic snapshot refresh")
				}
			}
		}
	}()
}

// Run builds the first snapshot, starts the refresh loops and serves until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.eng.BuildSnapshot(ctx, s.store); err != nil {
		return err
	}
	s.StartSnapshotRefresher(ctx, s.cfg.RefreshInterval())
	if src, ok := s.store.(listener.Source); ok {
		go listener.ListenAndRefresh(ctx, src, s.eng, s.cfg.Listener.Channel, s.cfg.Backoff())
	}

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return Serve(ctx, srv)
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutdown...")

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shCtx)
}
