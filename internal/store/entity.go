package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Entity provides generic document operations for one collection.
type Entity[T any] struct {
	store   *Store
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
// Unique indexes map one value to one id and reject conflicts on write.
// Non-unique indexes store one key per (value, id) pair and are read with a
// prefix scan.
type Index[T any] struct {
	name            string
	keyGen          func(*T) []string
	lookupTransform func(string) string
	unique          bool
}

// NewEntity creates a new Entity for type T stored under prefix.
func NewEntity[T any](s *Store, prefix string) *Entity[T] {
	return &Entity[T]{
		store:  s,
		prefix: prefix,
	}
}

// WithUniqueIndex adds a unique secondary index.
func (e *Entity[T]) WithUniqueIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen, unique: true})
	return e
}

// WithUniqueIndexTransform adds a unique secondary index whose lookups pass
// through lookupTransform first (case folding, normalization).
func (e *Entity[T]) WithUniqueIndexTransform(name string, keyGen func(*T) []string, lookupTransform func(string) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen, lookupTransform: lookupTransform, unique: true})
	return e
}

// WithIndex adds a non-unique secondary index.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

func (e *Entity[T]) indexPrefix(name, value string) string {
	return e.prefix + "idx:" + name + ":" + value
}

func (e *Entity[T]) indexKey(idx Index[T], value, id string) []byte {
	if idx.unique {
		return []byte(e.indexPrefix(idx.name, value))
	}
	return []byte(e.indexPrefix(idx.name, value) + "\x00" + id)
}

func (e *Entity[T]) index(name string) (Index[T], bool) {
	for _, idx := range e.indexes {
		if idx.name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

// Create stores a new entity under id.
// Returns ErrAlreadyExists if the id or any unique index value is taken.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(e.prefix + id))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check existing key: %w", err)
		}

		if err := e.checkUnique(txn, entity, nil); err != nil {
			return err
		}

		if err := txn.Set([]byte(e.prefix+id), data); err != nil {
			return fmt.Errorf("failed to set key: %w", err)
		}
		return e.setIndexes(txn, id, entity)
	})
}

// Get retrieves an entity by id.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.load(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// GetByIndex retrieves an entity through a unique index.
func (e *Entity[T]) GetByIndex(ctx context.Context, indexName, value string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, ok := e.index(indexName)
	if !ok || !idx.unique {
		return nil, fmt.Errorf("no unique index %q on %s", indexName, e.prefix)
	}
	if idx.lookupTransform != nil {
		value = idx.lookupTransform(value)
	}

	var entity *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(e.indexKey(idx, value, ""))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entity, err = e.load(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ListByIndex iterates every entity whose non-unique index matches value.
func (e *Entity[T]) ListByIndex(ctx context.Context, indexName, value string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		idx, ok := e.index(indexName)
		if !ok || idx.unique {
			yield(nil, fmt.Errorf("no non-unique index %q on %s", indexName, e.prefix))
			return
		}

		prefix := []byte(e.indexPrefix(idx.name, value) + "\x00")
		_ = e.store.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}
				id, err := it.Item().ValueCopy(nil)
				if err != nil {
					yield(nil, err)
					return err
				}
				entity, err := e.load(txn, string(id))
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if !yield(entity, err) || err != nil {
					return nil
				}
			}
			return nil
		})
	}
}

// Update replaces an existing entity and moves its index entries.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Update(ctx context.Context, id string, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		old, err := e.load(txn, id)
		if err != nil {
			return err
		}
		return e.replace(txn, id, old, entity, data)
	})
}

// Put creates or replaces the entity stored under id.
func (e *Entity[T]) Put(ctx context.Context, id string, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		old, err := e.load(txn, id)
		if errors.Is(err, ErrNotFound) {
			if err := e.checkUnique(txn, entity, nil); err != nil {
				return err
			}
			if err := txn.Set([]byte(e.prefix+id), data); err != nil {
				return fmt.Errorf("failed to set key: %w", err)
			}
			return e.setIndexes(txn, id, entity)
		}
		if err != nil {
			return err
		}
		return e.replace(txn, id, old, entity, data)
	})
}

// Delete removes an entity and its index entries. Deleting a missing id is not an error.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		old, err := e.load(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.deleteIndexes(txn, id, old); err != nil {
			return err
		}
		return txn.Delete([]byte(e.prefix + id))
	})
}

// List iterates every entity in the collection.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.store.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(e.prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek([]byte(e.prefix)); it.ValidForPrefix([]byte(e.prefix)); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}

				key := string(it.Item().Key())
				if strings.HasPrefix(key[len(e.prefix):], "idx:") {
					continue
				}

				var entity T
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				})
				if err != nil {
					yield(nil, err)
					return err
				}
				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

func (e *Entity[T]) load(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get([]byte(e.prefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, nil
}

// checkUnique rejects unique index values already owned by another entity.
// Values also produced by old are being reused by the same entity and pass.
func (e *Entity[T]) checkUnique(txn *badger.Txn, entity, old *T) error {
	for _, idx := range e.indexes {
		if !idx.unique {
			continue
		}
		reused := make(map[string]bool)
		if old != nil {
			for _, v := range idx.keyGen(old) {
				reused[v] = true
			}
		}
		for _, v := range idx.keyGen(entity) {
			if reused[v] {
				continue
			}
			_, err := txn.Get(e.indexKey(idx, v, ""))
			if err == nil {
				return fmt.Errorf("index %s conflict on key %s: %w", idx.name, v, ErrAlreadyExists)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("failed to check index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) setIndexes(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, v := range idx.keyGen(entity) {
			if err := txn.Set(e.indexKey(idx, v, id), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) deleteIndexes(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, v := range idx.keyGen(entity) {
			if err := txn.Delete(e.indexKey(idx, v, id)); err != nil {
				return fmt.Errorf("failed to delete index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) replace(txn *badger.Txn, id string, old, entity *T, data []byte) error {
	if err := e.checkUnique(txn, entity, old); err != nil {
		return err
	}
	if err := e.deleteIndexes(txn, id, old); err != nil {
		return err
	}
	if err := txn.Set([]byte(e.prefix+id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return e.setIndexes(txn, id, entity)
}
