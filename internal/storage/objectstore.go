package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore keeps uploaded binaries outside the database.
type ObjectStore interface {
	// Put stores data under name and returns a retrievable reference.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	// Delete removes the object behind a reference returned by Put.
	Delete(ctx context.Context, ref string) error
}

var ErrUnknownRef = errors.New("reference does not belong to this store")

// NewObjectName builds a collision-free object key, keeping the original
// extension so browsers can guess the type.
func NewObjectName(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /?#") {
		ext = ""
	}
	name := uuid.NewString() + ext
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
