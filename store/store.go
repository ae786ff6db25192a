package store

import (
	"time"

	"github.com/hrygo/shelfscan/internal/profile"
	"github.com/hrygo/shelfscan/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// blobCache holds decoded blob content by digest. Blobs are immutable so entries
	// never need invalidation, only eviction.
	blobCache *cache.LRUCache

	feed *changeFeed
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:    driver,
		profile:   profile,
		blobCache: cache.NewLRUCache(256, 30*time.Minute),
		feed:      newChangeFeed(),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.feed.close()
	return s.driver.Close()
}
