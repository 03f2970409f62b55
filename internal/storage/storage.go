package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// PutCallback receives the digest assigned to uploaded content, or the
// error that prevented the upload. Exactly one of digest/err is set.
type PutCallback func(digest string, tag any, err error)

// FileStore is content-addressed storage for statements, testcases,
// attachments and task managers. Put is asynchronous so callers can
// fan out several uploads and join on the callbacks.
type FileStore interface {
	Put(data []byte, description string, tag any, cb PutCallback)
	Get(ctx context.Context, digest string) ([]byte, error)
}

// Digest computes the content address used by every backend.
func Digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
