package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

// FullTextSearch matches an FTS5 expression against the name and category columns.
func (d *DB) FullTextSearch(ctx context.Context, opts *store.FullTextSearchOptions) ([]*store.Record, error) {
	query := "SELECT " + documentColumns + documentFrom + `
		JOIN product_fts ON product_fts.doc_id = d.id
		WHERE product_fts MATCH ? AND product_fts.type = ?
		ORDER BY bm25(product_fts), d.name, d.id`
	args := []any{opts.Query, opts.Kind.String()}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, errors.Wrap(store.ErrMalformedQuery, err.Error())
		}
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
	if err := rows.Err(); err != nil {
		if isFTSSyntaxError(err) {
			return nil, errors.Wrap(store.ErrMalformedQuery, err.Error())
		}
		return nil, err
	}
	return list, nil
}

// VectorSearch scans every vector of the index and keeps the nearest candidates.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.VectorMatch, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT v.doc_id, v.vector
		FROM vector_index v
		JOIN document d ON d.id = v.doc_id AND d.type = ?
		WHERE v.index_name = ?`,
		opts.Index.Kind.String(), opts.Index.Name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan vector index")
	}
	defer rows.Close()

	type candidate struct {
		id       string
		distance float64
	}
	candidates := []candidate{}
	for rows.Next() {
		var (
			id  string
			buf []byte
		)
		if err := rows.Scan(&id, &buf); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector")
		}
		vector, err := decodeVector(buf)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{id: id, distance: store.CosineDistance(opts.Vector, vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > opts.Candidates {
		candidates = candidates[:opts.Candidates]
	}

	distances := map[string]float64{}
	ids := []string{}
	for _, c := range candidates {
		if !opts.InDistanceWindow(c.distance) {
			continue
		}
		distances[c.id] = c.distance
		ids = append(ids, c.id)
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
		LEFT JOIN vector_index v ON v.index_name = ? AND v.doc_id = d.id
		WHERE d.type = ? AND d.%[1]s != '' AND (v.doc_id IS NULL OR v.source_digest != d.%[1]s)`, column)
	args := []any{idx.Name, idx.Kind.String()}
	if len(exclude) > 0 {
		query += fmt.Sprintf(" AND d.id NOT IN (%s)", placeholders(len(exclude)))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += " ORDER BY d.updated_ts, d.id LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
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
		SELECT ?, ?, ?, ?, strftime('%s', 'now')
		WHERE EXISTS (SELECT 1 FROM document WHERE id = ? AND type = ?)
		ON CONFLICT(index_name, doc_id) DO UPDATE SET
			source_digest = excluded.source_digest,
			vector = excluded.vector,
			updated_ts = excluded.updated_ts`
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if _, err := tx.ExecContext(ctx, stmt,
				idx.Name, entry.DocID, entry.SourceDigest, encodeVector(entry.Vector),
				entry.DocID, idx.Kind.String(),
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
