package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/metrics"
)

// DocumentStore persists documents and their embedded children. An upsert
// replaces the scalar fields and the whole embedded collection in one
// transaction, so readers see either the old or the new document.
type DocumentStore struct {
	db   *sql.DB
	read *sql.DB
}

var _ domain.DocumentRepository = (*DocumentStore)(nil)

func (s *DocumentStore) Upsert(ctx context.Context, doc domain.Document) (err error) {
	defer observe("upsert", time.Now(), &err)

	if doc.Key.ChannelID == "" || doc.Key.Kind == "" {
		return &domain.RepositoryError{Operation: "upsert", Key: doc.Key, Err: errors.New("incomplete key")}
	}
	updatedAt := doc.UpdatedAt.UTC()
	if doc.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("upsert", doc.Key, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsertParent = `
INSERT INTO documents (channel_id, kind, scalar_fields, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(channel_id, kind) DO UPDATE SET
	scalar_fields=excluded.scalar_fields,
	updated_at=excluded.updated_at;
`
	if _, err = tx.ExecContext(ctx, upsertParent, doc.Key.ChannelID, string(doc.Key.Kind), encodeFields(doc.Fields), updatedAt); err != nil {
		return wrap("upsert", doc.Key, fmt.Errorf("document: %w", err))
	}

	const clearChildren = `DELETE FROM embedded_documents WHERE channel_id = ? AND kind = ?;`
	if _, err = tx.ExecContext(ctx, clearChildren, doc.Key.ChannelID, string(doc.Key.Kind)); err != nil {
		return wrap("upsert", doc.Key, fmt.Errorf("clear embedded: %w", err))
	}

	if len(doc.Embedded) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, `
INSERT INTO embedded_documents (channel_id, kind, position, name, data)
VALUES (?, ?, ?, ?, ?);
`)
		if err != nil {
			return wrap("upsert", doc.Key, fmt.Errorf("prepare embedded: %w", err))
		}
		defer stmt.Close()

		for i, child := range doc.Embedded {
			data := string(child.Data)
			if data == "" {
				data = "null"
			}
			if _, err = stmt.ExecContext(ctx, doc.Key.ChannelID, string(doc.Key.Kind), i, child.Name, data); err != nil {
				return wrap("upsert", doc.Key, fmt.Errorf("embedded %d: %w", i, err))
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return wrap("upsert", doc.Key, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *DocumentStore) FindByKey(ctx context.Context, key domain.DocumentKey) (doc domain.Document, err error) {
	defer observe("find", time.Now(), &err)

	tx, err := s.read.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.Document{}, wrap("find", key, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	const query = `
SELECT scalar_fields, updated_at
FROM documents
WHERE channel_id = ? AND kind = ?
LIMIT 1;
`
	var fields sql.NullString
	var updatedAt sql.NullTime
	row := tx.QueryRowContext(ctx, query, key.ChannelID, string(key.Kind))
	if err = row.Scan(&fields, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, wrap("find", key, fmt.Errorf("document: %w", err))
	}

	const children = `
SELECT name, data
FROM embedded_documents
WHERE channel_id = ? AND kind = ?
ORDER BY position;
`
	rows, err := tx.QueryContext(ctx, children, key.ChannelID, string(key.Kind))
	if err != nil {
		return domain.Document{}, wrap("find", key, fmt.Errorf("embedded: %w", err))
	}
	defer rows.Close()

	var embedded []domain.EmbeddedDocument
	for rows.Next() {
		var name, data string
		if err = rows.Scan(&name, &data); err != nil {
			return domain.Document{}, wrap("find", key, fmt.Errorf("scan embedded: %w", err))
		}
		embedded = append(embedded, domain.EmbeddedDocument{Name: name, Data: []byte(data)})
	}
	if err = rows.Err(); err != nil {
		return domain.Document{}, wrap("find", key, fmt.Errorf("embedded rows: %w", err))
	}

	return domain.Document{
		Key:       key,
		Fields:    decodeFields(fields.String),
		Embedded:  embedded,
		UpdatedAt: updatedAt.Time.UTC(),
	}, nil
}

// DeleteByKey removes the document and, by cascade, its embedded children.
// Deleting a missing document is not an error.
func (s *DocumentStore) DeleteByKey(ctx context.Context, key domain.DocumentKey) (err error) {
	defer observe("delete", time.Now(), &err)

	const stmt = `DELETE FROM documents WHERE channel_id = ? AND kind = ?;`
	if _, err = s.db.ExecContext(ctx, stmt, key.ChannelID, string(key.Kind)); err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

func wrap(op string, key domain.DocumentKey, err error) error {
	return &domain.RepositoryError{Operation: op, Key: key, Err: err}
}

func observe(op string, start time.Time, err *error) {
	metrics.RepositoryOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, domain.ErrDocumentNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	metrics.RepositoryOps.WithLabelValues(op, status).Inc()
}
