package store

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// SourceField names the blob a vector index is computed from.
type SourceField string

const (
	SourceImage SourceField = "image"
	SourceFace  SourceField = "face"
)

// VectorIndex describes a lazily maintained vector index over one blob field of one kind.
type VectorIndex struct {
	Name   string
	Kind   Kind
	Source SourceField
}

var (
	// ProductImageIndex indexes Product.Embedding, computed from the product image.
	ProductImageIndex = VectorIndex{Name: "product_image", Kind: KindProduct, Source: SourceImage}
	// BookingFaceIndex indexes Booking.FaceEmbedding, computed from the booking face.
	BookingFaceIndex = VectorIndex{Name: "booking_face", Kind: KindBooking, Source: SourceFace}
)

// VectorIndexes lists every index the store maintains.
var VectorIndexes = []VectorIndex{ProductImageIndex, BookingFaceIndex}

// LookupVectorIndex returns the index with the given name.
func LookupVectorIndex(name string) (VectorIndex, bool) {
	for _, idx := range VectorIndexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return VectorIndex{}, false
}

// StaleEntry is a document whose indexed vector does not reflect its current source blob.
type StaleEntry struct {
	DocID        string
	SourceDigest string
}

// IndexEntry is a computed vector ready to be committed. SourceDigest is the digest of the
// blob the vector was computed from and becomes the entry's generation marker.
type IndexEntry struct {
	DocID        string
	SourceDigest string
	Vector       []float32
}

// VectorSearchOptions are the options for a nearest neighbour query.
type VectorSearchOptions struct {
	Index  VectorIndex
	Vector []float32

	// Candidates is the number of nearest neighbours considered before the distance window
	// is applied. Defaults to 10.
	Candidates int

	MinDistance float64
	MaxDistance float64
	// ExclusiveMax makes the upper bound strict.
	ExclusiveMax bool

	Limit int
}

// VectorMatch is a record with its cosine distance to the query vector.
type VectorMatch struct {
	Record   *Record
	Distance float64
}

// FullTextSearchOptions are the options for a lexical search.
type FullTextSearchOptions struct {
	Kind  Kind
	Query string
	Limit int
}

// ErrMalformedQuery is returned by drivers for match expressions they cannot parse.
var ErrMalformedQuery = errors.New("malformed full-text query")

// DefaultVectorCandidates is the candidate count used when none is given.
const DefaultVectorCandidates = 10

// ListStaleEntries returns up to limit entries of idx whose vectors are missing or stale,
// skipping the given document ids.
func (s *Store) ListStaleEntries(ctx context.Context, idx VectorIndex, limit int, exclude []string) ([]*StaleEntry, error) {
	return s.driver.ListStaleEntries(ctx, idx, limit, exclude)
}

// CommitIndexBatch writes the entries of a batch in a single transaction.
func (s *Store) CommitIndexBatch(ctx context.Context, idx VectorIndex, entries []*IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Vector) != EmbeddingDimension {
			return errors.Errorf("vector for %s has %d components, want %d", e.DocID, len(e.Vector), EmbeddingDimension)
		}
	}
	return s.driver.CommitIndexBatch(ctx, idx, entries)
}

// VectorSearch performs a nearest neighbour search in the given index.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*VectorMatch, error) {
	if len(opts.Vector) != EmbeddingDimension {
		return nil, errors.Errorf("query vector has %d components, want %d", len(opts.Vector), EmbeddingDimension)
	}
	if opts.Candidates <= 0 {
		opts.Candidates = DefaultVectorCandidates
	}
	return s.driver.VectorSearch(ctx, opts)
}

// CosineDistance returns 1 - cosine similarity of a and b, in [0, 2] like pgvector's <=>.
// Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	// Rounding can push the similarity of parallel vectors just past ±1.
	similarity := max(-1, min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
	return 1 - similarity
}

// InDistanceWindow reports whether d satisfies the distance bounds of opts.
func (opts *VectorSearchOptions) InDistanceWindow(d float64) bool {
	if d < opts.MinDistance {
		return false
	}
	if opts.ExclusiveMax {
		return d < opts.MaxDistance
	}
	return d <= opts.MaxDistance
}

// SortMatches orders matches by distance, then by name.
func SortMatches(matches []*VectorMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Record.Name() < matches[j].Record.Name()
	})
}

// SourceDigest returns the digest of the blob idx is computed from, or "" when r has none or
// is not of the indexed kind.
func (idx VectorIndex) SourceDigest(r *Record) string {
	if r == nil || r.Kind != idx.Kind {
		return ""
	}
	switch idx.Source {
	case SourceImage:
		return r.ImageDigest()
	case SourceFace:
		return r.FaceDigest()
	}
	return ""
}

// SetVector stores v in the record field backed by idx.
func (idx VectorIndex) SetVector(r *Record, v []float32) {
	switch {
	case idx.Source == SourceImage && r.Product != nil:
		r.Product.Embedding = v
	case idx.Source == SourceFace && r.Booking != nil:
		r.Booking.FaceEmbedding = v
	}
}
