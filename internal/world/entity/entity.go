package entity

import (
	"github.com/annel0/blockverse/internal/vec"
	"github.com/google/uuid"
)

// Type - идентификатор типа сущности в реестре minecraft:entity_type
type Type int32

const (
	TypePlayer Type = 128
)

// Entity - сущность мира. Принадлежит миру; индекс по чанкам хранит
// только ссылки.
type Entity struct {
	ID       int32
	UUID     uuid.UUID
	Type     Type
	Name     string
	Pos      vec.Vec3
	Yaw      float32
	Pitch    float32
	OnGround bool
	Age      uint64 // тиков с момента появления

	// Payload - временное состояние, которое поведения хранят между тиками
	Payload map[string]interface{}

	moved bool
}

// Chunk возвращает чанк, в котором находится сущность
func (e *Entity) Chunk() vec.ChunkPos {
	return e.Pos.Chunk()
}
