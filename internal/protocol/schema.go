package protocol

import (
	"fmt"
	"reflect"
	"sort"
)

// Packet - типизированный пакет. Encode пишет тело без id, Decode читает его.
type Packet interface {
	Encode(w *Writer)
	Decode(r *Reader) error
}

// Factory создаёт пустой пакет для декодирования
type Factory func() Packet

type schemaKey struct {
	phase Phase
	dir   Direction
	id    int32
}

type typeKey struct {
	phase Phase
	dir   Direction
	typ   reflect.Type
}

// Schema - таблица (фаза, направление, id) -> пакет для одной версии протокола.
// После Freeze таблица неизменяема и читается без блокировок.
type Schema struct {
	version   int32
	factories map[schemaKey]Factory
	ids       map[typeKey]int32
	frozen    bool
}

var registrations = map[int32]func(*Schema){
	767: RegisterV767,
}

// NewSchema строит и замораживает таблицу для поддерживаемой версии
func NewSchema(version int32) (*Schema, error) {
	register, ok := registrations[version]
	if !ok {
		return nil, fmt.Errorf("protocol version %d is not supported", version)
	}
	s := newEmptySchema(version)
	register(s)
	s.Freeze()
	return s, nil
}

// MustSchema - NewSchema, паникующий при неподдерживаемой версии
func MustSchema(version int32) *Schema {
	s, err := NewSchema(version)
	if err != nil {
		panic(err)
	}
	return s
}

// SupportedVersions возвращает версии, для которых есть таблица
func SupportedVersions() []int32 {
	out := make([]int32, 0, len(registrations))
	for v := range registrations {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newEmptySchema(version int32) *Schema {
	return &Schema{
		version:   version,
		factories: make(map[schemaKey]Factory),
		ids:       make(map[typeKey]int32),
	}
}

// Version возвращает единственную принимаемую версию протокола
func (s *Schema) Version() int32 { return s.version }

// Register добавляет пакет в таблицу. Повторная регистрация id или
// регистрация после Freeze - ошибка программиста.
func (s *Schema) Register(phase Phase, dir Direction, id int32, factory Factory) {
	if s.frozen {
		panic("protocol: schema is frozen")
	}
	k := schemaKey{phase, dir, id}
	if _, dup := s.factories[k]; dup {
		panic(fmt.Sprintf("protocol: duplicate %s %s packet id 0x%02X", phase, dir, id))
	}
	s.factories[k] = factory

	typ := reflect.TypeOf(factory())
	tk := typeKey{phase, dir, typ}
	if _, dup := s.ids[tk]; dup {
		// Один тип может обслуживать несколько id (например, игнорируемые
		// пакеты); для кодирования используется первый.
		return
	}
	s.ids[tk] = id
}

// Freeze запрещает дальнейшую регистрацию
func (s *Schema) Freeze() { s.frozen = true }

// New создаёт пустой пакет по id
func (s *Schema) New(phase Phase, dir Direction, id int32) (Packet, bool) {
	f, ok := s.factories[schemaKey{phase, dir, id}]
	if !ok {
		return nil, false
	}
	return f(), true
}

// ID возвращает id пакета в данной фазе и направлении
func (s *Schema) ID(phase Phase, dir Direction, p Packet) (int32, bool) {
	id, ok := s.ids[typeKey{phase, dir, reflect.TypeOf(p)}]
	return id, ok
}

// Allowed сообщает, допустим ли тип пакета в фазе
func (s *Schema) Allowed(phase Phase, dir Direction, p Packet) bool {
	_, ok := s.ID(phase, dir, p)
	return ok
}
