package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
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
		if err := lockDocument(ctx, tx, upsert.ID); err != nil {
			return err
		}
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
		if err := lockDocument(ctx, tx, id); err != nil {
			return err
		}
		var err error
		existed, err = deleteRecord(ctx, tx, id)
		return err
	})
	return existed, err
}

// UpdateRecord serializes writers of the same id with a transaction scoped advisory lock,
// which also covers ids that do not exist yet.
func (d *DB) UpdateRecord(ctx context.Context, id string, fn store.UpdateFunc) (*store.Record, bool, error) {
	var (
		record  *store.Record
		deleted bool
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, id); err != nil {
			return err
		}
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

func lockDocument(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", id); err != nil {
		return errors.Wrapf(err, "failed to lock document %s", id)
	}
	return nil
}

func upsertRecord(ctx context.Context, q querier, upsert *store.Record) (*store.Record, error) {
	var prevImage, prevFace string
	err := q.QueryRowContext(ctx, "SELECT image_digest, face_digest FROM document WHERE id = $1", upsert.ID).Scan(&prevImage, &prevFace)
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
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle,
			details = EXCLUDED.details,
			image_digest = EXCLUDED.image_digest,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			location = EXCLUDED.location,
			category = EXCLUDED.category,
			barcode = EXCLUDED.barcode,
			face_digest = EXCLUDED.face_digest,
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts`
	if err := q.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.Kind.String(),
		upsert.Title,
		upsert.Subtitle,
		upsert.Details,
		upsert.ImageDigest(),
		upsert.Name(),
		product.Price,
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

	for _, idx := range store.VectorIndexes {
		if idx.SourceDigest(upsert) != "" {
			continue
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM vector_index WHERE index_name = $1 AND doc_id = $2", idx.Name, upsert.ID); err != nil {
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
	err := q.QueryRowContext(ctx, "SELECT image_digest, face_digest FROM document WHERE id = $1", id).Scan(&image, &face)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to read document")
	}

	// vector_index rows go with the document through ON DELETE CASCADE.
	if _, err := q.ExecContext(ctx, "DELETE FROM document WHERE id = $1", id); err != nil {
		return false, errors.Wrap(err, "failed to delete document")
	}
	if err := collectBlobs(ctx, q, image, face); err != nil {
		return false, err
	}
	return true, nil
}

func listRecords(ctx context.Context, q querier, find *store.FindRecord) ([]*store.Record, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "d.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.IDList) > 0 {
		where, args = append(where, "d.id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDList))
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "d.type = "+placeholder(len(args)+1)), append(args, v.String())
	}
	if v := find.Barcode; v != nil {
		where, args = append(where, "d.barcode = "+placeholder(len(args)+1)), append(args, *v)
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
		name                        string
		price                       decimal.Decimal
		location, category, barcode string
		faceDigest, faceType        string
		payload                     []byte
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
		record.Product = &store.Product{
			Name:     name,
			Price:    price,
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
	if err := store.UnmarshalPayload(&record, payload); err != nil {
		return nil, err
	}
	return &record, nil
}

func loadEmbeddings(ctx context.Context, q querier, list []*store.Record) error {
	byID := make(map[string]*store.Record, len(list))
	ids := make([]string, 0, len(list))
	for _, r := range list {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	rows, err := q.QueryContext(ctx, "SELECT index_name, doc_id, vector FROM vector_index WHERE doc_id = ANY($1)", pq.Array(ids))
	if err != nil {
		return errors.Wrap(err, "failed to load embeddings")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			indexName, docID string
			vector           pgvector.Vector
		)
		if err := rows.Scan(&indexName, &docID, &vector); err != nil {
			return errors.Wrap(err, "failed to scan embedding")
		}
		idx, ok := store.LookupVectorIndex(indexName)
		if !ok {
			continue
		}
		idx.SetVector(byID[docID], vector.Slice())
	}
	return rows.Err()
}

func bookingFace(r *store.Record) *store.Blob {
	if r.Booking == nil {
		return nil
	}
	return r.Booking.Face
}
