package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"termpost/internal/draft"
)

// PebbleDrafts keeps client drafts in a Pebble key-value store. Keys are the
// draft store keys verbatim, values are JSON drafts.
type PebbleDrafts struct {
	db *pebble.DB
}

var _ draft.Store = (*PebbleDrafts)(nil)

// OpenPebbleDrafts opens (or creates) the Pebble directory at path.
func OpenPebbleDrafts(path string) (*PebbleDrafts, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleDrafts{db: db}, nil
}

// Close releases the Pebble handle.
func (p *PebbleDrafts) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PebbleDrafts) GetDraft(_ context.Context, key string) (*draft.Draft, error) {
	value, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()
	var d draft.Draft
	if err := json.Unmarshal(value, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return &d, nil
}

func (p *PebbleDrafts) SetDraft(_ context.Context, key string, d *draft.Draft) error {
	if d == nil {
		return p.db.Delete([]byte(key), pebble.Sync)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", key, err)
	}
	return p.db.Set([]byte(key), data, pebble.Sync)
}

// RemoveAllWithPrefix applies transform to every draft under prefix as one batch.
func (p *PebbleDrafts) RemoveAllWithPrefix(ctx context.Context, prefix string, transform func(*draft.Draft) *draft.Draft) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()

	start := []byte(prefix)
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			_ = iter.Close()
			return err
		}
		if !bytes.HasPrefix(iter.Key(), start) {
			break
		}
		key := append([]byte(nil), iter.Key()...)
		var d draft.Draft
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			_ = iter.Close()
			return fmt.Errorf("decode draft %s: %w", key, err)
		}
		var next *draft.Draft
		if transform != nil {
			next = transform(&d)
		}
		if next == nil {
			if err := batch.Delete(key, nil); err != nil {
				_ = iter.Close()
				return err
			}
			continue
		}
		data, err := json.Marshal(next)
		if err != nil {
			_ = iter.Close()
			return fmt.Errorf("encode draft %s: %w", key, err)
		}
		if err := batch.Set(key, data, nil); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
