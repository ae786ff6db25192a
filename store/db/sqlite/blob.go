package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

func (d *DB) GetBlob(ctx context.Context, digest string) (*store.Blob, error) {
	blob := &store.Blob{Digest: digest}
	err := d.db.QueryRowContext(ctx, "SELECT content_type, data FROM blob WHERE digest = ?", digest).Scan(&blob.ContentType, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get blob")
	}
	return blob, nil
}

// putBlob stores blob content once per digest. A blob without data must already exist.
func putBlob(ctx context.Context, q querier, blob *store.Blob) error {
	if blob == nil || blob.Digest == "" {
		return nil
	}
	if len(blob.Data) == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM blob WHERE digest = ?)", blob.Digest).Scan(&exists); err != nil {
			return errors.Wrap(err, "failed to check blob")
		}
		if !exists {
			return errors.Errorf("blob %s not found", blob.Digest)
		}
		return nil
	}
	stmt := "INSERT INTO blob (digest, content_type, size, data) VALUES (" + placeholders(4) + ") ON CONFLICT(digest) DO NOTHING"
	if _, err := q.ExecContext(ctx, stmt, blob.Digest, blob.ContentType, len(blob.Data), blob.Data); err != nil {
		return errors.Wrap(err, "failed to put blob")
	}
	return nil
}

// collectBlobs deletes the given blobs when no document references them any more.
func collectBlobs(ctx context.Context, q querier, digests ...string) error {
	for _, digest := range digests {
		if digest == "" {
			continue
		}
		stmt := `
			DELETE FROM blob
			WHERE digest = ?
				AND NOT EXISTS (SELECT 1 FROM document WHERE image_digest = ? OR face_digest = ?)`
		if _, err := q.ExecContext(ctx, stmt, digest, digest, digest); err != nil {
			return errors.Wrap(err, "failed to collect blob")
		}
	}
	return nil
}
