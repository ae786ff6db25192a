package capture

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/shelfscan/server/retrieval"
	"github.com/hrygo/shelfscan/store"
)

// DefaultFrameInterval is the minimum time between two accepted frames.
const DefaultFrameInterval = 200 * time.Millisecond

// ErrSessionFailed reports that frames can no longer be acquired. It is distinct from a
// search that found nothing and usually needs user action.
var ErrSessionFailed = errors.New("capture session failed")

// Searcher runs an image search.
type Searcher interface {
	SearchImage(ctx context.Context, img image.Image) (*retrieval.ImageSearchResult, error)
}

// FrameSource produces camera frames. NextFrame blocks until a frame is available.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// Result is the outcome of searching one accepted frame.
type Result struct {
	Generation uint64
	Path       retrieval.MatchPath
	Records    []*store.Record
}

// Session feeds camera frames to a searcher. Frames are accepted at a bounded rate and only
// while no other search of the session is in flight. Each Start begins a new generation;
// results of earlier generations, or arriving after Stop, are dropped.
type Session struct {
	searcher Searcher
	limiter  *rate.Limiter
	results  chan Result

	mu         sync.Mutex
	active     bool
	generation uint64

	inFlight atomic.Bool
}

// NewSession creates a stopped session. A zero interval disables the frame gate.
func NewSession(searcher Searcher, interval time.Duration) *Session {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Session{
		searcher: searcher,
		limiter:  rate.NewLimiter(limit, 1),
		results:  make(chan Result, 8),
	}
}

// Results returns the channel search results are delivered on. Results are dropped when
// the consumer falls behind.
func (s *Session) Results() <-chan Result {
	return s.results
}

// Start activates the session and returns its new generation.
func (s *Session) Start() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.active = true
	return s.generation
}

// Stop deactivates the session. In-flight searches complete but their results are dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		s.generation++
	}
}

// Active reports whether the session accepts frames.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Submit offers a frame. It returns false when the frame was dropped because the session
// is stopped, the frame gate is closed or a search is already running.
func (s *Session) Submit(ctx context.Context, frame image.Image) bool {
	s.mu.Lock()
	active, generation := s.active, s.generation
	s.mu.Unlock()
	if !active || frame == nil {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	if !s.limiter.Allow() {
		s.inFlight.Store(false)
		return false
	}

	go func() {
		defer s.inFlight.Store(false)
		result, err := s.searcher.SearchImage(ctx, frame)
		if err != nil {
			slog.Debug("frame search failed", "generation", generation, "error", err)
			return
		}
		s.deliver(Result{Generation: generation, Path: result.Path, Records: result.Records})
	}()
	return true
}

func (s *Session) deliver(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.generation != result.Generation {
		slog.Debug("dropping stale frame result", "generation", result.Generation)
		return
	}
	select {
	case s.results <- result:
	default:
		slog.Debug("dropping frame result, consumer is behind", "generation", result.Generation)
	}
}

// Run starts the session and submits frames from source until ctx is done or the source
// fails. A source that ends with io.EOF lets the last search finish; any other source
// failure stops the session and returns ErrSessionFailed.
func (s *Session) Run(ctx context.Context, source FrameSource) error {
	s.Start()
	defer s.Stop()
	for {
		frame, err := source.NextFrame(ctx)
		switch {
		case err == nil:
			s.Submit(ctx, frame)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			s.waitIdle(ctx)
			return nil
		default:
			return errors.Wrapf(ErrSessionFailed, "%v", err)
		}
	}
}

func (s *Session) waitIdle(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.inFlight.Load() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
