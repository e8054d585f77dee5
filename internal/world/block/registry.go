package block

import "fmt"

type key struct {
	state StateID
	event Event
}

// Registry - таблица обработчиков по (состояние, событие). Заполняется
// при старте и замораживается; после Freeze только читается.
type Registry struct {
	behaviors map[StateID]Behavior
	table     map[key]Callback
	frozen    bool
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[StateID]Behavior),
		table:     make(map[key]Callback),
	}
}

// Register добавляет поведение для одного состояния
func (r *Registry) Register(state StateID, b Behavior) {
	r.RegisterRange(state, state, b)
}

// RegisterRange добавляет поведение для состояний from..to включительно.
// Обработчики разрешаются здесь же по реализованным интерфейсам.
func (r *Registry) RegisterRange(from, to StateID, b Behavior) {
	if r.frozen {
		panic(fmt.Sprintf("block registry: register %q after freeze", b.Name()))
	}
	for s := from; s <= to; s++ {
		if prev, ok := r.behaviors[s]; ok {
			panic(fmt.Sprintf("block registry: state %d already registered by %q", s, prev.Name()))
		}
		r.behaviors[s] = b
		if i, ok := b.(Interactor); ok {
			r.table[key{s, EventInteract}] = i.OnInteract
		}
		if br, ok := b.(Breaker); ok {
			r.table[key{s, EventBreak}] = br.OnBreak
		}
		if t, ok := b.(Ticker); ok {
			r.table[key{s, EventTick}] = t.OnTick
		}
		if s == to {
			break
		}
	}
}

// Freeze запрещает дальнейшую регистрацию
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen сообщает, заморожен ли реестр
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Lookup возвращает обработчик события для состояния
func (r *Registry) Lookup(state StateID, ev Event) (Callback, bool) {
	cb, ok := r.table[key{state, ev}]
	return cb, ok
}

// Behavior возвращает поведение состояния
func (r *Registry) Behavior(state StateID) (Behavior, bool) {
	b, ok := r.behaviors[state]
	return b, ok
}

// Len возвращает число зарегистрированных состояний
func (r *Registry) Len() int {
	return len(r.behaviors)
}
