package playerdata

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo хранит записи в памяти; данные теряются при перезапуске
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Record
}

// NewMemoryRepo создаёт пустой репозиторий
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[uuid.UUID]Record)}
}

func (r *MemoryRepo) Save(ctx context.Context, id uuid.UUID, rec Record) error {
	if err := validate(id, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[id] = rec
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepo) Load(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	if id == uuid.Nil {
		return Record{}, false, ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[id]
	return rec, ok, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func (r *MemoryRepo) BatchSave(ctx context.Context, recs map[uuid.UUID]Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// всё или ничего
	for id, rec := range recs {
		if err := validate(id, rec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range recs {
		r.data[id] = rec
	}
	return nil
}

// Count возвращает число записей
func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *MemoryRepo) Close() error { return nil }
