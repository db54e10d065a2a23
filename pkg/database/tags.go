package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GetOrCreateTag returns the tag matching name case-insensitively, creating
// it when missing.
func (db *DB) GetOrCreateTag(ctx context.Context, name string) (Tag, error) {
	return getOrCreateTag(ctx, db, name)
}

// A concurrent insert of the same name is absorbed by ON CONFLICT and the
// winner's row is read back.
func getOrCreateTag(ctx context.Context, q querier, name string) (Tag, error) {
	name = NormalizeTagName(name)
	if name == "" {
		return Tag{}, fmt.Errorf("tag name is empty")
	}

	tag, err := findTag(ctx, q, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Tag{}, err
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO tags (id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		uuid.New(), name,
	); err != nil {
		return Tag{}, fmt.Errorf("failed to create tag %q: %w", name, err)
	}

	tag, err = findTag(ctx, q, name)
	if err != nil {
		return Tag{}, fmt.Errorf("failed to reload tag %q: %w", name, err)
	}
	return tag, nil
}

func findTag(ctx context.Context, q querier, name string) (Tag, error) {
	var tag Tag
	err := q.QueryRowContext(ctx,
		`SELECT id, name FROM tags WHERE LOWER(name) = LOWER($1)`,
		name,
	).Scan(&tag.ID, &tag.Name)
	if err != nil {
		return Tag{}, err
	}
	return tag, nil
}

// ListTags returns all tags ordered by name.
func (db *DB) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM tags ORDER BY LOWER(name)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// setDocumentTags replaces the tag associations of a document.
func setDocumentTags(ctx context.Context, q querier, docID uuid.UUID, names []string) ([]Tag, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id = $1`, docID); err != nil {
		return nil, fmt.Errorf("failed to clear tags: %w", err)
	}

	names = NormalizeTags(names)
	tags := make([]Tag, 0, len(names))
	for i, name := range names {
		tag, err := getOrCreateTag(ctx, q, name)
		if err != nil {
			return nil, err
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO document_tags (document_id, tag_id, position) VALUES ($1, $2, $3)`,
			docID, tag.ID, i,
		); err != nil {
			return nil, fmt.Errorf("failed to attach tag %q: %w", name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// attachTags loads tags for docs in one query.
func attachTags(ctx context.Context, q querier, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	index := make(map[uuid.UUID]int, len(docs))
	placeholders := make([]string, len(docs))
	args := make([]any, len(docs))
	for i, d := range docs {
		index[d.ID] = i
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = d.ID
	}

	query := `
		SELECT dt.document_id, t.id, t.name
		FROM document_tags dt
		JOIN tags t ON t.id = dt.tag_id
		WHERE dt.document_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY dt.document_id, dt.position
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID uuid.UUID
		var t Tag
		if err := rows.Scan(&docID, &t.ID, &t.Name); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		if i, ok := index[docID]; ok {
			docs[i].Tags = append(docs[i].Tags, t)
		}
	}
	return rows.Err()
}
