package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, title, description, created_at, ocr_text, summary`

// CreateDocument inserts doc with the given tags. A nil ID and a zero
// CreatedAt are filled in.
func (db *DB) CreateDocument(ctx context.Context, doc *Document, tagNames []string) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.CreatedAt = doc.CreatedAt.UTC()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, title, description, created_at, ocr_text, summary)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, doc.ID, doc.Title, nullableString(doc.Description), doc.CreatedAt, nullableString(doc.OcrText), nullableString(doc.Summary))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: document %s", ErrConflict, doc.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		tags, err := setDocumentTags(ctx, tx, doc.ID, tagNames)
		if err != nil {
			return err
		}
		doc.Tags = tags
		return nil
	})
}

// GetDocument returns the document with its tags, or ErrNotFound.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	docs := []Document{doc}
	if err := attachTags(ctx, db, docs); err != nil {
		return nil, err
	}
	return &docs[0], nil
}

// ListDocuments returns one page of documents, newest first, and the total
// number of documents.
func (db *DB) ListDocuments(ctx context.Context, limit, offset int) ([]Document, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	docs, err := db.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// SearchDocuments matches text case-insensitively against title,
// description and OCR text, optionally restricted to a tag. Newest first.
func (db *DB) SearchDocuments(ctx context.Context, text, tag string, limit int) ([]Document, error) {
	var (
		conds []string
		args  []any
	)
	if text = strings.TrimSpace(text); text != "" {
		args = append(args, "%"+strings.ToLower(text)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(LOWER(title) LIKE $%d OR LOWER(COALESCE(description, '')) LIKE $%d OR LOWER(COALESCE(ocr_text, '')) LIKE $%d)",
			n, n, n,
		))
	}
	if tag = NormalizeTagName(tag); tag != "" {
		args = append(args, tag)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM document_tags dt JOIN tags t ON t.id = dt.tag_id
			WHERE dt.document_id = documents.id AND LOWER(t.name) = LOWER($%d))`, len(args)))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	return db.queryDocuments(ctx, query, args...)
}

// UpdateDocument applies upd and returns the updated document.
func (db *DB) UpdateDocument(ctx context.Context, id uuid.UUID, upd DocumentUpdate) (*Document, error) {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}

		if upd.Title != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET title = $1 WHERE id = $2`, *upd.Title, id); err != nil {
				return fmt.Errorf("failed to update title: %w", err)
			}
		}
		if upd.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET description = $1 WHERE id = $2`, nullableString(upd.Description), id); err != nil {
				return fmt.Errorf("failed to update description: %w", err)
			}
		}
		if upd.Tags != nil {
			if _, err := setDocumentTags(ctx, tx, id, *upd.Tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetDocument(ctx, id)
}

// DeleteDocument removes a document and its tag associations.
func (db *DB) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		deleted, err := deleteDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// DeleteDocuments removes every existing document in ids and reports how
// many were deleted. Unknown ids are ignored.
func (db *DB) DeleteDocuments(ctx context.Context, ids []uuid.UUID) (int, error) {
	var count int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			deleted, err := deleteDocument(ctx, tx, id)
			if err != nil {
				return err
			}
			if deleted {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func deleteDocument(ctx context.Context, q querier, id uuid.UUID) (bool, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id = $1`, id); err != nil {
		return false, fmt.Errorf("failed to delete document tags: %w", err)
	}

	result, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (db *DB) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	// release the connection before loading tags
	rows.Close()

	if err := attachTags(ctx, db, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (Document, error) {
	var doc Document
	err := s.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Description,
		&doc.CreatedAt,
		&doc.OcrText,
		&doc.Summary,
	)
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, err
}
