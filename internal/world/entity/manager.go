package entity

import (
	"sort"
	"sync"

	"github.com/annel0/blockverse/internal/vec"
	"github.com/google/uuid"
)

// Manager хранит сущности мира и индекс по чанкам
type Manager struct {
	mu       sync.RWMutex
	entities map[int32]*Entity
	byChunk  map[vec.ChunkPos]map[int32]*Entity
	nextID   int32
}

// NewManager создаёт пустой менеджер
func NewManager() *Manager {
	return &Manager{
		entities: make(map[int32]*Entity),
		byChunk:  make(map[vec.ChunkPos]map[int32]*Entity),
		nextID:   1,
	}
}

// Spawn создаёт сущность и возвращает её
func (m *Manager) Spawn(t Type, id uuid.UUID, name string, pos vec.Vec3) *Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Entity{
		ID:      m.nextID,
		UUID:    id,
		Type:    t,
		Name:    name,
		Pos:     pos,
		Payload: make(map[string]interface{}),
	}
	m.nextID++
	m.entities[e.ID] = e
	m.index(e.Chunk(), e)
	return e
}

func (m *Manager) index(c vec.ChunkPos, e *Entity) {
	set, ok := m.byChunk[c]
	if !ok {
		set = make(map[int32]*Entity)
		m.byChunk[c] = set
	}
	set[e.ID] = e
}

func (m *Manager) unindex(c vec.ChunkPos, id int32) {
	set := m.byChunk[c]
	delete(set, id)
	if len(set) == 0 {
		delete(m.byChunk, c)
	}
}

// Remove удаляет сущность
func (m *Manager) Remove(id int32) (*Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, false
	}
	delete(m.entities, id)
	m.unindex(e.Chunk(), id)
	return e, true
}

// Get возвращает сущность по ID
func (m *Manager) Get(id int32) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// Move перемещает сущность и возвращает старый и новый чанки
func (m *Manager) Move(id int32, pos vec.Vec3, yaw, pitch float32, onGround bool) (from, to vec.ChunkPos, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return vec.ChunkPos{}, vec.ChunkPos{}, false
	}
	from = e.Chunk()
	e.Pos = pos
	e.Yaw = yaw
	e.Pitch = pitch
	e.OnGround = onGround
	e.moved = true
	to = e.Chunk()
	if from != to {
		m.unindex(from, id)
		m.index(to, e)
	}
	return from, to, true
}

// InChunk возвращает сущности чанка, упорядоченные по ID
func (m *Manager) InChunk(c vec.ChunkPos) []*Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entity, 0, len(m.byChunk[c]))
	for _, e := range m.byChunk[c] {
		out = append(out, e)
	}
	sortByID(out)
	return out
}

// All возвращает все сущности, упорядоченные по ID
func (m *Manager) All() []*Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sortByID(out)
	return out
}

// TakeMoved возвращает сущности, сдвинувшиеся с прошлого вызова
func (m *Manager) TakeMoved() []*Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Entity
	for _, e := range m.entities {
		if e.moved {
			e.moved = false
			out = append(out, e)
		}
	}
	sortByID(out)
	return out
}

// Len возвращает число сущностей
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

func sortByID(es []*Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}
