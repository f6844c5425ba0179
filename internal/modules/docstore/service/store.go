package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")

// Document is a stored JSON payload. Version grows by one on every write and
// is what CompareAndSwap checks against.
type Document struct {
	Key       string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Store is a key-prefixed document store with per-key conditional writes.
type Store interface {
	Get(ctx context.Context, key string) (Document, error)
	Put(ctx context.Context, key string, data []byte) error
	// InsertIfAbsent reports false when key already exists.
	InsertIfAbsent(ctx context.Context, key string, data []byte) (bool, error)
	// CompareAndSwap replaces the document only if its version still equals version.
	CompareAndSwap(ctx context.Context, key string, version int64, data []byte) (bool, error)
	// Delete reports whether a document was removed. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteVersion removes the document only if its version still equals version.
	DeleteVersion(ctx context.Context, key string, version int64) (bool, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	// FindByPrefix returns matching documents ordered by key.
	FindByPrefix(ctx context.Context, prefix string) ([]Document, error)

	Increment(ctx context.Context, key, field string, delta float64) (float64, error)
	Counters(ctx context.Context, key string) (map[string]float64, error)
}

func Encode(v any) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return b, nil
}

func Decode(doc Document, v any) error {
	if err := sonic.Unmarshal(doc.Data, v); err != nil {
		return errors.Wrapf(err, "decode document %s", doc.Key)
	}
	return nil
}
