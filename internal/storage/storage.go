// Package storage holds uploaded document bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the blob store documents are written to.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// OrgPrefix is the key prefix for everything an organization stores.
func OrgPrefix(orgID uuid.UUID) string {
	return fmt.Sprintf("orgs/%s/", orgID)
}

// DocumentKey builds the object key for a document upload.
func DocumentKey(orgID, documentID uuid.UUID, filename string) string {
	return OrgPrefix(orgID) + fmt.Sprintf("documents/%s/%s", documentID, SafeFilename(filename))
}

// SafeFilename strips directories and characters that do not belong in an
// object key. Empty results become "upload".
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	return out
}
