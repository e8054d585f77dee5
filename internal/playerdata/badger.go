package playerdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

const keyPrefix = "player:"

// BadgerRepo хранит записи в BadgerDB
type BadgerRepo struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenBadger открывает базу в каталоге dir; пустой dir - база в памяти
func OpenBadger(dir string) (*BadgerRepo, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerRepo{db: db}, nil
}

func key(id uuid.UUID) []byte {
	return append([]byte(keyPrefix), id[:]...)
}

func (r *BadgerRepo) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return r.db.Update(fn)
}

func (r *BadgerRepo) Save(ctx context.Context, id uuid.UUID, rec Record) error {
	if err := validate(id, rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	return r.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(id), data)
	})
}

func (r *BadgerRepo) Load(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	if id == uuid.Nil {
		return Record{}, false, ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Record{}, false, ErrClosed
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("ошибка десериализации записи %s: %w", id, err)
	}
	return rec, true, nil
}

func (r *BadgerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key(id))
	})
}

func (r *BadgerRepo) BatchSave(ctx context.Context, recs map[uuid.UUID]Record) error {
	if len(recs) == 0 {
		return nil
	}
	encoded := make(map[uuid.UUID][]byte, len(recs))
	for id, rec := range recs {
		if err := validate(id, rec); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации записи: %w", err)
		}
		encoded[id] = data
	}
	return r.update(ctx, func(txn *badger.Txn) error {
		for id, data := range encoded {
			if err := txn.Set(key(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close закрывает базу; повторный вызов безопасен
func (r *BadgerRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
