// Package stats keeps lightweight catalog and search statistics in process.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/shelfscan/store"
)

// DefaultInterval is how often the catalog counts are refreshed.
const DefaultInterval = 10 * time.Minute

// staleScanLimit caps the stale entry scan per index. Larger backlogs are reported as the cap.
const staleScanLimit = 10000

// Stats represents catalog and search statistics.
type Stats struct {
	// Catalog stats
	Records          map[store.Kind]int64
	ProductsNoImage  int64
	BookingsNoFace   int64
	StaleByIndex     map[string]int64
	CatalogUpdatedTs int64

	// Search stats
	TotalSearches  int64
	SearchesToday  int64
	SearchesByPath map[string]int64
	LastSearchTime time.Time

	LastUpdated time.Time
}

// Collector collects and manages statistics.
type Collector struct {
	store    *store.Store
	interval time.Duration

	mu    sync.Mutex
	stats *Stats
	day   string
}

// NewCollector creates a new statistics collector.
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:    st,
		interval: DefaultInterval,
		stats: &Stats{
			Records:        map[store.Kind]int64{},
			StaleByIndex:   map[string]int64{},
			SearchesByPath: map[string]int64{},
		},
	}
}

// WithInterval sets the refresh interval.
func (c *Collector) WithInterval(interval time.Duration) *Collector {
	if interval > 0 {
		c.interval = interval
	}
	return c
}

// Run refreshes the catalog counts immediately and then periodically until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("failed to collect catalog stats", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns a copy of current statistics.
func (c *Collector) GetStats() *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := *c.stats
	s.Records = copyMap(c.stats.Records)
	s.StaleByIndex = copyMap(c.stats.StaleByIndex)
	s.SearchesByPath = copyMap(c.stats.SearchesByPath)
	return &s
}

// Collect recounts the catalog from the store.
func (c *Collector) Collect(ctx context.Context) error {
	records, err := c.store.ListRecords(ctx, &store.FindRecord{})
	if err != nil {
		return err
	}
	counts := map[store.Kind]int64{}
	var noImage, noFace, updatedTs int64
	for _, r := range records {
		counts[r.Kind]++
		updatedTs = max(updatedTs, r.UpdatedTs)
		switch r.Kind {
		case store.KindProduct:
			if r.ImageDigest() == "" {
				noImage++
			}
		case store.KindBooking:
			if r.FaceDigest() == "" {
				noFace++
			}
		}
	}

	stale := map[string]int64{}
	for _, idx := range store.VectorIndexes {
		entries, err := c.store.ListStaleEntries(ctx, idx, staleScanLimit, nil)
		if err != nil {
			return err
		}
		stale[idx.Name] = int64(len(entries))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Records = counts
	c.stats.ProductsNoImage = noImage
	c.stats.BookingsNoFace = noFace
	c.stats.StaleByIndex = stale
	c.stats.CatalogUpdatedTs = updatedTs
	c.stats.LastUpdated = time.Now()
	return nil
}

// RecordSearch records a search and the path that answered it. An empty path means nothing
// matched.
func (c *Collector) RecordSearch(path string) {
	if path == "" {
		path = "none"
	}
	now := time.Now()
	day := now.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != day {
		c.day = day
		c.stats.SearchesToday = 0
	}
	c.stats.TotalSearches++
	c.stats.SearchesToday++
	c.stats.SearchesByPath[path]++
	c.stats.LastSearchTime = now
}

// GetSummary returns a human-readable summary.
func (s *Stats) GetSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog (updated %s)\n", formatTime(s.LastUpdated))
	fmt.Fprintf(&b, "  products: %d (%d without image)\n", s.Records[store.KindProduct], s.ProductsNoImage)
	fmt.Fprintf(&b, "  bookings: %d (%d without face)\n", s.Records[store.KindBooking], s.BookingsNoFace)
	b.WriteString("Indexes\n")
	for _, name := range sortedKeys(s.StaleByIndex) {
		fmt.Fprintf(&b, "  %s: %d stale\n", name, s.StaleByIndex[name])
	}
	fmt.Fprintf(&b, "Searches\n  total: %d\n  today: %d\n", s.TotalSearches, s.SearchesToday)
	for _, path := range sortedKeys(s.SearchesByPath) {
		fmt.Fprintf(&b, "  by %s: %d\n", path, s.SearchesByPath[path])
	}
	fmt.Fprintf(&b, "  last: %s", formatTime(s.LastSearchTime))
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}

func copyMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
