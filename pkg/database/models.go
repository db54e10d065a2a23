package database

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is a stored document with its pipeline outputs.
type Document struct {
	ID          uuid.UUID
	Title       string
	Description *string
	Tags        []Tag
	CreatedAt   time.Time
	OcrText     *string
	Summary     *string
}

// TagNames returns the tag names in document order.
func (d Document) TagNames() []string {
	names := make([]string, len(d.Tags))
	for i, t := range d.Tags {
		names[i] = t.Name
	}
	return names
}

// Tag is a label shared across documents. Names are unique ignoring case.
type Tag struct {
	ID   uuid.UUID
	Name string
}

// DocumentUpdate carries the fields to change. Nil fields are left alone;
// an empty Description clears it.
type DocumentUpdate struct {
	Title       *string
	Description *string
	Tags        *[]string
}

// NormalizeTagName trims a tag and collapses internal whitespace.
func NormalizeTagName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizeTags normalizes names, drops blanks and removes duplicates that
// differ only in case, keeping the first spelling.
func NormalizeTags(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeTagName(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
