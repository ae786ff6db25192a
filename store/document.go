package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// GetRecord returns the record with the given id, or nil when it does not exist.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	list, err := s.driver.ListRecords(ctx, &FindRecord{ID: &id, IncludeEmbedding: true})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListRecords scans records matching find. The Filter expression is evaluated in process
// after the driver has applied the indexed predicates.
func (s *Store) ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error) {
	if find.Filter == "" {
		return s.driver.ListRecords(ctx, find)
	}

	filter, err := compileFilter(find.Filter)
	if err != nil {
		return nil, err
	}
	scan := *find
	scan.Limit = nil
	candidates, err := s.driver.ListRecords(ctx, &scan)
	if err != nil {
		return nil, err
	}

	list := make([]*Record, 0, len(candidates))
	for _, r := range candidates {
		matched, err := filter.Match(r)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		list = append(list, r)
		if find.Limit != nil && len(list) >= *find.Limit {
			break
		}
	}
	return list, nil
}

// UpsertRecord creates or replaces a record. Embedding fields on the input are ignored,
// they are owned by the index runner.
func (s *Store) UpsertRecord(ctx context.Context, upsert *Record) (*Record, error) {
	prepareForWrite(upsert)
	if err := upsert.Validate(); err != nil {
		return nil, err
	}
	record, err := s.driver.UpsertRecord(ctx, upsert)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert record %s", upsert.ID)
	}
	s.cacheBlobs(record)
	s.feed.publish(ChangeEvent{Type: ChangeUpsert, ID: record.ID, Kind: record.Kind})
	return record, nil
}

// DeleteRecord deletes a record. Deleting a missing record is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	current, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	existed, err := s.driver.DeleteRecord(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete record %s", id)
	}
	if existed {
		kind := Kind("")
		if current != nil {
			kind = current.Kind
		}
		s.feed.publish(ChangeEvent{Type: ChangeDelete, ID: id, Kind: kind})
	}
	return nil
}

// UpdateRecord applies fn to the current version of a record atomically. fn sees nil when
// the record does not exist and may return nil to delete it.
func (s *Store) UpdateRecord(ctx context.Context, id string, fn UpdateFunc) (*Record, error) {
	var kind Kind
	wrapped := func(current *Record) (*Record, error) {
		if current != nil {
			kind = current.Kind
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return next, err
		}
		next.ID = id
		if current != nil && next.CreatedTs == 0 {
			next.CreatedTs = current.CreatedTs
		}
		prepareForWrite(next)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		kind = next.Kind
		return next, nil
	}

	record, deleted, err := s.driver.UpdateRecord(ctx, id, wrapped)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update record %s", id)
	}
	switch {
	case deleted:
		s.feed.publish(ChangeEvent{Type: ChangeDelete, ID: id, Kind: kind})
	case record != nil:
		s.cacheBlobs(record)
		s.feed.publish(ChangeEvent{Type: ChangeUpsert, ID: id, Kind: record.Kind})
	}
	return record, nil
}

// FindProductsByBarcode returns the products whose barcode equals the given value,
// ordered by name.
func (s *Store) FindProductsByBarcode(ctx context.Context, barcode string) ([]*Record, error) {
	kind := KindProduct
	return s.driver.ListRecords(ctx, &FindRecord{
		Kind:    &kind,
		Barcode: &barcode,
		OrderBy: []OrderBy{{Field: "name"}},
	})
}

// FullTextSearch runs a match expression against the name and category index. A malformed
// expression, such as one typed half way, yields no results rather than an error.
func (s *Store) FullTextSearch(ctx context.Context, opts *FullTextSearchOptions) ([]*Record, error) {
	list, err := s.driver.FullTextSearch(ctx, opts)
	if err != nil {
		if errors.Is(err, ErrMalformedQuery) {
			slog.Debug("ignoring malformed full-text query", "query", opts.Query, "error", err)
			return []*Record{}, nil
		}
		return nil, err
	}
	return list, nil
}

// GetBlob returns the blob with the given digest, or nil when it does not exist.
func (s *Store) GetBlob(ctx context.Context, digest string) (*Blob, error) {
	if data, contentType, ok := s.blobCache.Get(digest); ok {
		return &Blob{Digest: digest, ContentType: contentType, Data: data}, nil
	}
	blob, err := s.driver.GetBlob(ctx, digest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get blob %s", digest)
	}
	if blob != nil {
		s.blobCache.Set(blob.Digest, blob.Data, blob.ContentType, 0)
	}
	return blob, nil
}

func (s *Store) cacheBlobs(r *Record) {
	for _, b := range []*Blob{r.Image, faceOf(r)} {
		if b != nil && len(b.Data) > 0 {
			s.blobCache.Set(b.Digest, b.Data, b.ContentType, 0)
		}
	}
}

func prepareForWrite(r *Record) {
	now := time.Now().Unix()
	if r.CreatedTs == 0 {
		r.CreatedTs = now
	}
	r.UpdatedTs = now
	for _, b := range []*Blob{r.Image, faceOf(r)} {
		if b != nil && b.Digest == "" && len(b.Data) > 0 {
			b.Digest = Digest(b.Data)
		}
	}
}
