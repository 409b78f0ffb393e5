package statestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/hupe1980/knnquery/blobstore"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
)

// Blob is a quantization.StateStore backed by a blob store.
// States live at "<prefix>/<segment>/<field>.qstate".
type Blob struct {
	store       blobstore.BlobStore
	prefix      string
	compression Compression
}

// NewBlob creates a blob-backed store. Put compresses with c.
func NewBlob(store blobstore.BlobStore, prefix string, c Compression) *Blob {
	return &Blob{store: store, prefix: prefix, compression: c}
}

func (b *Blob) name(segment model.SegmentID, field string) string {
	return path.Join(b.prefix, strconv.FormatUint(uint64(segment), 10), field+".qstate")
}

// Put serializes and writes the state of a segment field.
func (b *Blob) Put(ctx context.Context, segment model.SegmentID, field string, st *quantization.State) error {
	data, err := Encode(st, b.compression)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, b.name(segment, field), data)
}

// Get implements quantization.StateStore.
func (b *Blob) Get(ctx context.Context, segment model.SegmentID, field string) (*quantization.State, error) {
	name := b.name(segment, field)
	data, err := blobstore.ReadAll(ctx, b.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", quantization.ErrStateNotFound, name)
		}
		return nil, err
	}
	st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return st, nil
}
