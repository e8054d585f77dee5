package entity

import (
	"fmt"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/vec"
)

// API - доступ поведения сущности к миру
type API interface {
	CurrentTick() uint64
	Block(pos vec.BlockPos) (chunk.StateID, bool)
}

// Callback - разрешённый обработчик тика сущности
type Callback func(api API, e *Entity) error

// Behavior - поведение типа сущности
type Behavior interface {
	Tick(api API, e *Entity) error
}

// BaseTick - общая часть тика любой сущности
func BaseTick(e *Entity) {
	e.Age++
}

// Registry - таблица поведений по типу сущности. Замораживается после старта.
type Registry struct {
	ticks  map[Type]Callback
	frozen bool
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{ticks: make(map[Type]Callback)}
}

// Register добавляет поведение типа
func (r *Registry) Register(t Type, b Behavior) {
	if r.frozen {
		panic(fmt.Sprintf("entity registry: register type %d after freeze", t))
	}
	if _, ok := r.ticks[t]; ok {
		panic(fmt.Sprintf("entity registry: type %d already registered", t))
	}
	r.ticks[t] = b.Tick
}

// Freeze запрещает дальнейшую регистрацию
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup возвращает обработчик тика для типа
func (r *Registry) Lookup(t Type) (Callback, bool) {
	cb, ok := r.ticks[t]
	return cb, ok
}
