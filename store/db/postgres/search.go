package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

// FullTextSearch ranks documents of one kind by ts_rank over the name and category vector.
func (d *DB) FullTextSearch(ctx context.Context, opts *store.FullTextSearchOptions) ([]*store.Record, error) {
	tsquery, err := toTSQuery(opts.Query)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + documentColumns + documentFrom + `
		WHERE d.type = $1 AND d.search_tsv @@ to_tsquery('simple', $2)
		ORDER BY ts_rank(d.search_tsv, to_tsquery('simple', $2)) DESC, d.name, d.id`
	args := []any{opts.Kind.String(), tsquery}
	if opts.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, opts.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search documents")
	}
	defer rows.Close()

	list := []*store.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, record)
	}
	return list, rows.Err()
}

// VectorSearch orders the index by the <=> cosine distance and keeps the nearest candidates.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.VectorMatch, error) {
	query := `
		SELECT v.doc_id, v.vector <=> $1 AS distance
		FROM vector_index v
		JOIN document d ON d.id = v.doc_id AND d.type = $2
		WHERE v.index_name = $3
		ORDER BY distance, v.doc_id
		LIMIT $4`
	rows, err := d.db.QueryContext(ctx, query,
		pgvector.NewVector(opts.Vector),
		opts.Index.Kind.String(),
		opts.Index.Name,
		opts.Candidates,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	distances := map[string]float64{}
	ids := []string{}
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		if !opts.InDistanceWindow(distance) {
			continue
		}
		distances[id] = distance
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*store.VectorMatch{}, nil
	}

	records, err := listRecords(ctx, d.db, &store.FindRecord{IDList: ids})
	if err != nil {
		return nil, err
	}
	matches := make([]*store.VectorMatch, 0, len(records))
	for _, r := range records {
		matches = append(matches, &store.VectorMatch{Record: r, Distance: distances[r.ID]})
	}
	store.SortMatches(matches)
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func (d *DB) ListStaleEntries(ctx context.Context, idx store.VectorIndex, limit int, exclude []string) ([]*store.StaleEntry, error) {
	column, err := sourceColumn(idx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT d.id, d.%[1]s
		FROM document d
		LEFT JOIN vector_index v ON v.index_name = $1 AND v.doc_id = d.id
		WHERE d.type = $2 AND d.%[1]s <> '' AND (v.doc_id IS NULL OR v.source_digest <> d.%[1]s)
			AND NOT (d.id = ANY($3))
		ORDER BY d.updated_ts, d.id
		LIMIT $4`, column)
	if exclude == nil {
		exclude = []string{}
	}

	rows, err := d.db.QueryContext(ctx, query, idx.Name, idx.Kind.String(), pq.Array(exclude), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale entries")
	}
	defer rows.Close()

	list := []*store.StaleEntry{}
	for rows.Next() {
		entry := &store.StaleEntry{}
		if err := rows.Scan(&entry.DocID, &entry.SourceDigest); err != nil {
			return nil, errors.Wrap(err, "failed to scan stale entry")
		}
		list = append(list, entry)
	}
	return list, rows.Err()
}

// CommitIndexBatch writes the batch in one transaction. Entries of documents that were
// deleted or changed kind in the meantime are skipped.
func (d *DB) CommitIndexBatch(ctx context.Context, idx store.VectorIndex, entries []*store.IndexEntry) error {
	stmt := `
		INSERT INTO vector_index (index_name, doc_id, source_digest, vector, updated_ts)
		SELECT $1::text, $2::text, $3::text, $4::vector, EXTRACT(EPOCH FROM NOW())::bigint
		WHERE EXISTS (SELECT 1 FROM document WHERE id = $2::text AND type = $5::text)
		ON CONFLICT (index_name, doc_id) DO UPDATE SET
			source_digest = EXCLUDED.source_digest,
			vector = EXCLUDED.vector,
			updated_ts = EXCLUDED.updated_ts`
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if _, err := tx.ExecContext(ctx, stmt,
				idx.Name, entry.DocID, entry.SourceDigest, pgvector.NewVector(entry.Vector), idx.Kind.String(),
			); err != nil {
				return errors.Wrapf(err, "failed to commit vector for %s", entry.DocID)
			}
		}
		return nil
	})
}

func sourceColumn(idx store.VectorIndex) (string, error) {
	switch idx.Source {
	case store.SourceImage:
		return "image_digest", nil
	case store.SourceFace:
		return "face_digest", nil
	}
	return "", errors.Errorf("unknown vector index source %q", idx.Source)
}
