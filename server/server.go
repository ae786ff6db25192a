package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/internal/profile"
	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/server/capture"
	"github.com/hrygo/shelfscan/server/replication"
	"github.com/hrygo/shelfscan/server/retrieval"
	apiv1 "github.com/hrygo/shelfscan/server/router/api/v1"
	"github.com/hrygo/shelfscan/server/runner/embedding"
	"github.com/hrygo/shelfscan/server/service/cart"
	"github.com/hrygo/shelfscan/server/service/catalog"
	"github.com/hrygo/shelfscan/server/stats"
	"github.com/hrygo/shelfscan/store"
)

// Server wires the store to the search, indexing and cart components and serves them over
// HTTP.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	Coordinator *retrieval.Coordinator
	Ledger      *cart.Ledger
	Importer    *catalog.Importer
	Runners     []*embedding.Runner
	Puller      *replication.Puller
	Stats       *stats.Collector

	echoServer *echo.Echo

	runnerCancel context.CancelFunc
	runnerWG     sync.WaitGroup
}

// NewServer constructs every component from profile. Nothing runs until Start.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	extractor, err := NewExtractor(profile)
	if err != nil {
		return nil, err
	}
	// No on-device face detector is bundled; face attention falls back to the center square.
	preprocessor := vision.NewPreprocessor(&vision.EdgeSaliencyDetector{}, nil)

	s := &Server{
		Profile:     profile,
		Store:       st,
		Coordinator: retrieval.NewCoordinator(st, preprocessor, extractor, vision.NewZXingDecoder(true)),
		Ledger:      cart.NewLedger(st),
		Importer:    catalog.NewImporter(st),
		Stats:       stats.NewCollector(st),
	}
	for _, idx := range store.VectorIndexes {
		runner := embedding.NewRunner(st, idx, preprocessor, extractor).
			WithBatchSize(profile.IndexBatchSize).
			WithInterval(profile.IndexSweepInterval)
		s.Runners = append(s.Runners, runner)
	}
	if profile.IsReplicationEnabled() {
		s.Puller = replication.NewPuller(st, profile.ReplicationURL, profile.ReplicationInterval)
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	apiService := apiv1.NewAPIV1Service(profile, st, s.Coordinator, s.Ledger, s.Runners)
	apiService.Stats = s.Stats
	apiService.Register(ctx, echoServer)
	s.echoServer = echoServer

	return s, nil
}

// NewExtractor returns the embedding extractor selected by the profile.
func NewExtractor(p *profile.Profile) (vision.Extractor, error) {
	switch p.EmbeddingProvider {
	case "", profile.EmbeddingProviderGrid:
		return vision.NewGridExtractor(), nil
	case profile.EmbeddingProviderOpenAI:
		extractor, err := vision.NewRemoteExtractor(&vision.RemoteConfig{
			BaseURL: p.EmbeddingBaseURL,
			APIKey:  p.EmbeddingAPIKey,
			Model:   p.EmbeddingModel,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create remote extractor")
		}
		return extractor, nil
	}
	return nil, errors.Errorf("unsupported embedding provider %q", p.EmbeddingProvider)
}

// NewSession creates a capture session that searches frames with the server coordinator.
func (s *Server) NewSession() *capture.Session {
	return capture.NewSession(s.Coordinator, capture.DefaultFrameInterval)
}

// StartBackgroundRunners starts the index runners, the stats collector and the replicator.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancel = cancel

	for _, runner := range s.Runners {
		s.runnerWG.Add(1)
		go func(r *embedding.Runner) {
			defer s.runnerWG.Done()
			r.Run(runnerCtx)
		}(runner)
	}
	s.runnerWG.Add(1)
	go func() {
		defer s.runnerWG.Done()
		s.Stats.Run(runnerCtx)
	}()
	if s.Puller != nil {
		s.runnerWG.Add(1)
		go func() {
			defer s.runnerWG.Done()
			s.Puller.Run(runnerCtx)
		}()
	}
	slog.Info("background runners started", "runners", len(s.Runners), "replication", s.Puller != nil)
}

// Start serves the API and runs the background runners until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	s.StartBackgroundRunners(ctx)
	go func() {
		s.echoServer.Listener = listener
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("server started", "address", address, "mode", s.Profile.Mode, "driver", s.Profile.Driver)
	return nil
}

// Shutdown stops the HTTP server and the runners, then closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown echo server", "error", err)
	}
	if s.runnerCancel != nil {
		s.runnerCancel()
	}
	s.runnerWG.Wait()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server stopped properly")
}
