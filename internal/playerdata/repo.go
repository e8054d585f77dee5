// Package playerdata хранит последнюю позицию и поворот игрока между сессиями.
package playerdata

import (
	"context"
	"errors"
	"math"

	"github.com/annel0/blockverse/internal/vec"
	"github.com/google/uuid"
)

// Record - сохранённое состояние игрока
type Record struct {
	Pos      vec.Vec3 `json:"pos"`
	Yaw      float32  `json:"yaw"`
	Pitch    float32  `json:"pitch"`
	OnGround bool     `json:"on_ground"`
}

// Repo определяет хранилище состояний игроков.
// Записи привязаны к UUID игрока, а не к ID сущности,
// поэтому переживают переподключение.
type Repo interface {
	// Save сохраняет запись игрока
	Save(ctx context.Context, id uuid.UUID, rec Record) error

	// Load возвращает запись; false, если игрок заходит впервые
	Load(ctx context.Context, id uuid.UUID) (Record, bool, error)

	// Delete удаляет запись
	Delete(ctx context.Context, id uuid.UUID) error

	// BatchSave сохраняет несколько записей одной транзакцией (автосохранение)
	BatchSave(ctx context.Context, recs map[uuid.UUID]Record) error

	Close() error
}

var (
	ErrInvalidID     = errors.New("playerdata: nil player id")
	ErrInvalidRecord = errors.New("playerdata: non-finite position")
	ErrNotFound      = errors.New("playerdata: record not found")
	ErrClosed        = errors.New("playerdata: repo closed")
)

func validate(id uuid.UUID, rec Record) error {
	if id == uuid.Nil {
		return ErrInvalidID
	}
	if !rec.Pos.IsFinite() || math.IsNaN(float64(rec.Yaw)) || math.IsNaN(float64(rec.Pitch)) {
		return ErrInvalidRecord
	}
	return nil
}
