package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hrygo/shelfscan/store"
)

const documentColumns = `
	d.id, d.type, d.title, d.subtitle, d.details,
	d.image_digest, COALESCE(bi.content_type, ''),
	d.name, d.price, d.location, d.category, d.barcode,
	d.face_digest, COALESCE(bf.content_type, ''),
	d.payload, d.created_ts, d.updated_ts`

const documentFrom = `
	FROM document d
	LEFT JOIN blob bi ON bi.digest = d.image_digest
	LEFT JOIN blob bf ON bf.digest = d.face_digest`

var orderByColumns = map[string]string{
	"name":       "d.name",
	"created_ts": "d.created_ts",
	"updated_ts": "d.updated_ts",
}

func (d *DB) UpsertRecord(ctx context.Context, upsert *store.Record) (*store.Record, error) {
	var record *store.Record
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		record, err = upsertRecord(ctx, tx, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (d *DB) ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	return listRecords(ctx, d.db, find)
}

func (d *DB) DeleteRecord(ctx context.Context, id string) (bool, error) {
	existed := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		existed, err = deleteRecord(ctx, tx, id)
		return err
	})
	return existed, err
}

func (d *DB) UpdateRecord(ctx context.Context, id string, fn store.UpdateFunc) (*store.Record, bool, error) {
	var (
		record  *store.Record
		deleted bool
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		list, err := listRecords(ctx, tx, &store.FindRecord{ID: &id})
		if err != nil {
			return err
		}
		var current *store.Record
		if len(list) > 0 {
			current = list[0]
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			if current != nil {
				deleted, err = deleteRecord(ctx, tx, id)
			}
			return err
		}
		record, err = upsertRecord(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return record, deleted, nil
}

func upsertRecord(ctx context.Context, q querier, upsert *store.Record) (*store.Record, error) {
	var prevImage, prevFace string
	err := q.QueryRowContext(ctx, "SELECT image_digest, face_digest FROM document WHERE id = ?", upsert.ID).Scan(&prevImage, &prevFace)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to read previous digests")
	}

	for _, blob := range []*store.Blob{upsert.Image, bookingFace(upsert)} {
		if err := putBlob(ctx, q, blob); err != nil {
			return nil, err
		}
	}

	payload, err := store.MarshalPayload(upsert)
	if err != nil {
		return nil, err
	}
	product := upsert.Product
	if product == nil {
		product = &store.Product{}
	}

	stmt := `
		INSERT INTO document (
			id, type, title, subtitle, details, image_digest,
			name, price, location, category, barcode, face_digest,
			payload, created_ts, updated_ts
		)
		VALUES (` + placeholders(15) + `)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			subtitle = excluded.subtitle,
			details = excluded.details,
			image_digest = excluded.image_digest,
			name = excluded.name,
			price = excluded.price,
			location = excluded.location,
			category = excluded.category,
			barcode = excluded.barcode,
			face_digest = excluded.face_digest,
			payload = excluded.payload,
			updated_ts = excluded.updated_ts
		RETURNING created_ts, updated_ts`
	if err := q.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.Kind.String(),
		upsert.Title,
		upsert.Subtitle,
		upsert.Details,
		upsert.ImageDigest(),
		upsert.Name(),
		product.Price.String(),
		product.Location,
		product.Category,
		product.Barcode,
		upsert.FaceDigest(),
		string(payload),
		upsert.CreatedTs,
		upsert.UpdatedTs,
	).Scan(&upsert.CreatedTs, &upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert document")
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM product_fts WHERE doc_id = ?", upsert.ID); err != nil {
		return nil, errors.Wrap(err, "failed to delete fts row")
	}
	if _, err := q.ExecContext(ctx, "INSERT INTO product_fts (doc_id, type, name, category) VALUES (?, ?, ?, ?)",
		upsert.ID, upsert.Kind.String(), upsert.Name(), product.Category); err != nil {
		return nil, errors.Wrap(err, "failed to insert fts row")
	}

	// Vectors of indexes that no longer apply to this document are dropped. Vectors whose
	// source changed are kept and become stale.
	for _, idx := range store.VectorIndexes {
		if idx.SourceDigest(upsert) != "" {
			continue
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM vector_index WHERE index_name = ? AND doc_id = ?", idx.Name, upsert.ID); err != nil {
			return nil, errors.Wrap(err, "failed to delete vector")
		}
	}

	if err := collectBlobs(ctx, q, prevImage, prevFace); err != nil {
		return nil, err
	}

	if upsert.Product != nil {
		upsert.Product.Embedding = nil
	}
	if upsert.Booking != nil {
		upsert.Booking.FaceEmbedding = nil
	}
	return upsert, nil
}

func deleteRecord(ctx context.Context, q querier, id string) (bool, error) {
	var image, face string
	err := q.QueryRowContext(ctx, "SELECT image_digest, face_digest FROM document WHERE id = ?", id).Scan(&image, &face)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to read document")
	}

	for _, stmt := range []string{
		"DELETE FROM document WHERE id = ?",
		"DELETE FROM product_fts WHERE doc_id = ?",
		"DELETE FROM vector_index WHERE doc_id = ?",
	} {
		if _, err := q.ExecContext(ctx, stmt, id); err != nil {
			return false, errors.Wrapf(err, "failed to execute %q", stmt)
		}
	}
	if err := collectBlobs(ctx, q, image, face); err != nil {
		return false, err
	}
	return true, nil
}

func listRecords(ctx context.Context, q querier, find *store.FindRecord) ([]*store.Record, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "d.id = ?"), append(args, *v)
	}
	if len(find.IDList) > 0 {
		where = append(where, fmt.Sprintf("d.id IN (%s)", placeholders(len(find.IDList))))
		for _, id := range find.IDList {
			args = append(args, id)
		}
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "d.type = ?"), append(args, v.String())
	}
	if v := find.Barcode; v != nil {
		where, args = append(where, "d.barcode = ?"), append(args, *v)
	}

	orders := []string{}
	for _, o := range find.OrderBy {
		column, ok := orderByColumns[o.Field]
		if !ok {
			return nil, errors.Errorf("unsupported order by field %q", o.Field)
		}
		if o.Desc {
			column += " DESC"
		}
		orders = append(orders, column)
	}
	if len(orders) == 0 {
		orders = append(orders, "d.name")
	}
	orders = append(orders, "d.id")

	query := "SELECT " + documentColumns + documentFrom +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY " + strings.Join(orders, ", ")
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
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
		return nil, err
	}
	rows.Close()

	if find.IncludeEmbedding && len(list) > 0 {
		if err := loadEmbeddings(ctx, q, list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(rows rowScanner) (*store.Record, error) {
	var (
		record                      store.Record
		kind                        string
		imageDigest, imageType      string
		name, price                 string
		location, category, barcode string
		faceDigest, faceType        string
		payload                     string
	)
	if err := rows.Scan(
		&record.ID,
		&kind,
		&record.Title,
		&record.Subtitle,
		&record.Details,
		&imageDigest,
		&imageType,
		&name,
		&price,
		&location,
		&category,
		&barcode,
		&faceDigest,
		&faceType,
		&payload,
		&record.CreatedTs,
		&record.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan document")
	}

	record.Kind = store.Kind(kind)
	if imageDigest != "" {
		record.Image = &store.Blob{Digest: imageDigest, ContentType: imageType}
	}
	switch record.Kind {
	case store.KindProduct:
		amount, err := decimal.NewFromString(price)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid price %q for %s", price, record.ID)
		}
		record.Product = &store.Product{
			Name:     name,
			Price:    amount,
			Location: location,
			Category: category,
			Barcode:  barcode,
		}
	case store.KindBooking:
		record.Booking = &store.Booking{}
		if faceDigest != "" {
			record.Booking.Face = &store.Blob{Digest: faceDigest, ContentType: faceType}
		}
	}
	if err := store.UnmarshalPayload(&record, []byte(payload)); err != nil {
		return nil, err
	}
	return &record, nil
}

func loadEmbeddings(ctx context.Context, q querier, list []*store.Record) error {
	byID := make(map[string]*store.Record, len(list))
	args := make([]any, 0, len(list))
	for _, r := range list {
		byID[r.ID] = r
		args = append(args, r.ID)
	}
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT index_name, doc_id, vector FROM vector_index WHERE doc_id IN (%s)", placeholders(len(args))),
		args...)
	if err != nil {
		return errors.Wrap(err, "failed to load embeddings")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			indexName, docID string
			buf              []byte
		)
		if err := rows.Scan(&indexName, &docID, &buf); err != nil {
			return errors.Wrap(err, "failed to scan embedding")
		}
		idx, ok := store.LookupVectorIndex(indexName)
		if !ok {
			continue
		}
		vector, err := decodeVector(buf)
		if err != nil {
			return err
		}
		idx.SetVector(byID[docID], vector)
	}
	return rows.Err()
}

func bookingFace(r *store.Record) *store.Blob {
	if r.Booking == nil {
		return nil
	}
	return r.Booking.Face
}
