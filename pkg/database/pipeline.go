package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetOcrText overwrites the OCR text of a document and clears any recorded
// OCR failure. It reports false when no document has that id.
func (db *DB) SetOcrText(ctx context.Context, id uuid.UUID, text string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE documents SET ocr_text = $1, ocr_failed_at = NULL WHERE id = $2`,
		text, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set ocr text: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// NextPendingSummary returns the oldest document that has non-blank OCR
// text but no summary, or nil when there is none.
func (db *DB) NextPendingSummary(ctx context.Context) (*Document, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE ocr_text IS NOT NULL AND TRIM(ocr_text) <> '' AND summary IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending document: %w", err)
	}
	return &doc, nil
}

// SetSummary stores a summary. Documents without OCR text are never
// summarized; it reports false when nothing was updated.
func (db *DB) SetSummary(ctx context.Context, id uuid.UUID, summary string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE documents SET summary = $1 WHERE id = $2 AND ocr_text IS NOT NULL`,
		summary, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set summary: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkOcrFailed records that the OCR job of a document was dead-lettered.
// It reports false when no document has that id.
func (db *DB) MarkOcrFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE documents SET ocr_failed_at = $1 WHERE id = $2 AND ocr_text IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark ocr failure: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// FindUnprocessed lists documents still lacking OCR text that were created
// before olderThan, oldest first. Documents whose job was dead-lettered are
// left for manual inspection.
func (db *DB) FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id
		FROM documents
		WHERE ocr_text IS NULL AND ocr_failed_at IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unprocessed documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
