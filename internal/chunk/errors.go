package chunk

import (
	"errors"
	"fmt"

	"github.com/annel0/blockverse/internal/vec"
)

var (
	// ErrChunkUnavailable - чанк не удалось сохранить после всех повторов;
	// он удерживается в памяти, изменения отклоняются
	ErrChunkUnavailable = errors.New("chunk unavailable")

	// ErrNotResident - операция требует чанк в памяти
	ErrNotResident = errors.New("chunk not resident")

	// ErrStoreClosed - хранилище остановлено
	ErrStoreClosed = errors.New("chunk store closed")
)

// StoreError - ошибка операции хранилища над конкретным чанком
type StoreError struct {
	Pos vec.ChunkPos
	Op  string // load | generate | persist | edit
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("chunk %d,%d: %s: %v", e.Pos.X, e.Pos.Z, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
