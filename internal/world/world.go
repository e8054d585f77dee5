package world

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/entity"
)

var (
	// ErrChunkNotLoaded - чанк блока не находится в памяти
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrOutOfWorld - высота вне мира
	ErrOutOfWorld = errors.New("position outside world height")
)

// BlockChange - изменение блока, которое нужно разослать наблюдателям
type BlockChange struct {
	Pos   vec.BlockPos
	State chunk.StateID
}

// Options - зависимости мира
type Options struct {
	Store    *chunk.Store
	Blocks   *block.Registry
	Entities *entity.Registry
	Metrics  *metrics.Metrics
	Spawn    vec.Vec3
}

// World - авторитетное состояние блоков и сущностей. Все методы, кроме
// Entities().Get/All, вызываются только из тик-цикла.
type World struct {
	store     *chunk.Store
	blocks    *block.Registry
	behaviors *entity.Registry
	entities  *entity.Manager
	metrics   *metrics.Metrics
	log       *logging.Logger
	spawn     vec.Vec3

	tick      atomic.Uint64 // читается вне тик-цикла (админ API)
	pending   map[vec.BlockPos]uint64 // позиция -> тик обновления
	scheduled map[uint64][]vec.BlockPos
	changes   []BlockChange
}

// New создаёт мир поверх хранилища чанков
func New(opts Options) *World {
	if opts.Blocks == nil {
		opts.Blocks = block.NewRegistry()
	}
	if opts.Entities == nil {
		opts.Entities = entity.NewRegistry()
	}
	return &World{
		store:     opts.Store,
		blocks:    opts.Blocks,
		behaviors: opts.Entities,
		entities:  entity.NewManager(),
		metrics:   opts.Metrics,
		log:       logging.GetWorldLogger(),
		spawn:     opts.Spawn,
		pending:   make(map[vec.BlockPos]uint64),
		scheduled: make(map[uint64][]vec.BlockPos),
	}
}

// Store возвращает хранилище чанков мира
func (w *World) Store() *chunk.Store {
	return w.store
}

// Entities возвращает менеджер сущностей
func (w *World) Entities() *entity.Manager {
	return w.entities
}

// Spawn возвращает точку появления игроков
func (w *World) Spawn() vec.Vec3 {
	return w.spawn
}

// CurrentTick возвращает номер текущего тика (время мира)
func (w *World) CurrentTick() uint64 {
	return w.tick.Load()
}

// Block возвращает состояние блока; ok=false, если чанк не в памяти
func (w *World) Block(pos vec.BlockPos) (chunk.StateID, bool) {
	if !chunk.InBounds(int(pos.Y)) {
		return block.Air, true
	}
	c, ok := w.store.Peek(pos.Chunk())
	if !ok {
		return 0, false
	}
	x, y, z := pos.Local()
	return c.Block(x, y, z), true
}

// SetBlock меняет блок в загруженном чанке
func (w *World) SetBlock(pos vec.BlockPos, state chunk.StateID) error {
	if !chunk.InBounds(int(pos.Y)) {
		return ErrOutOfWorld
	}
	x, y, z := pos.Local()
	changed := false
	err := w.store.Edit(pos.Chunk(), func(c *chunk.Chunk) error {
		_, changed = c.SetBlock(x, y, z, state)
		if changed {
			c.LastUpdate = int64(w.tick.Load())
		}
		return nil
	})
	if errors.Is(err, chunk.ErrNotResident) {
		return fmt.Errorf("set block %v: %w", pos, ErrChunkNotLoaded)
	}
	if err != nil {
		return err
	}
	if changed {
		w.changes = append(w.changes, BlockChange{Pos: pos, State: state})
	}
	return nil
}

// ScheduleTick планирует обновление блока через delay тиков (минимум 1).
// Повторное планирование оставляет более раннее обновление.
func (w *World) ScheduleTick(pos vec.BlockPos, delay int) {
	if delay < 1 {
		delay = 1
	}
	due := w.tick.Load() + uint64(delay)
	if prev, ok := w.pending[pos]; ok && prev <= due {
		return
	}
	w.pending[pos] = due
	w.scheduled[due] = append(w.scheduled[due], pos)
}

// PendingUpdates возвращает число запланированных обновлений блоков
func (w *World) PendingUpdates() int {
	return len(w.pending)
}

func (w *World) context(pos vec.BlockPos, state chunk.StateID, actor, face int32) block.Context {
	return block.Context{API: w, Pos: pos, State: state, Actor: actor, Face: face}
}

// BreakBlock разрушает блок от имени actor (entity id, 0 - мир)
func (w *World) BreakBlock(pos vec.BlockPos, actor int32) error {
	state, ok := w.Block(pos)
	if !ok {
		return fmt.Errorf("break block %v: %w", pos, ErrChunkNotLoaded)
	}
	ctx := w.context(pos, state, actor, 0)
	if cb, ok := w.blocks.Lookup(state, block.EventBreak); ok {
		return cb(ctx)
	}
	return block.BaseBreak(ctx)
}

// Interact применяет использование предмета к блоку pos с грани face.
// Если у блока нет обработчика, place ставится на соседнюю клетку.
func (w *World) Interact(pos vec.BlockPos, face int32, actor int32, place chunk.StateID) error {
	state, ok := w.Block(pos)
	if !ok {
		return fmt.Errorf("interact %v: %w", pos, ErrChunkNotLoaded)
	}
	if cb, ok := w.blocks.Lookup(state, block.EventInteract); ok {
		return cb(w.context(pos, state, actor, face))
	}

	target, err := adjacent(pos, face)
	if err != nil {
		return err
	}
	cur, ok := w.Block(target)
	if !ok {
		return fmt.Errorf("place %v: %w", target, ErrChunkNotLoaded)
	}
	if cur != block.Air && !block.IsWater(cur) {
		return nil
	}
	if err := w.SetBlock(target, place); err != nil {
		return err
	}
	w.ScheduleTick(target, 1)
	for _, n := range target.Neighbors() {
		w.ScheduleTick(n, 1)
	}
	return nil
}

func adjacent(pos vec.BlockPos, face int32) (vec.BlockPos, error) {
	dx, dy, dz, ok := protocol.FaceOffset(face)
	if !ok {
		return vec.BlockPos{}, fmt.Errorf("bad block face %d", face)
	}
	return pos.Add(dx, dy, dz), nil
}

// Tick продвигает мир на один тик: запланированные обновления блоков,
// затем тики сущностей. Ошибка или паника одного элемента пропускает
// только его.
func (w *World) Tick() {
	w.runBlockUpdates(w.tick.Add(1))
	w.runEntities()
}

func (w *World) runBlockUpdates(now uint64) {
	due := w.scheduled[now]
	delete(w.scheduled, now)

	for _, pos := range due {
		if w.pending[pos] != now {
			continue
		}
		delete(w.pending, pos)

		state, ok := w.Block(pos)
		if !ok {
			continue
		}
		cb, ok := w.blocks.Lookup(state, block.EventTick)
		if !ok {
			continue
		}
		ctx := w.context(pos, state, 0, 0)
		w.guard("block", fmt.Sprintf("блок %v", pos), func() error { return cb(ctx) })
	}
}

func (w *World) runEntities() {
	for _, e := range w.entities.All() {
		cb, ok := w.behaviors.Lookup(e.Type)
		if !ok {
			continue
		}
		e := e
		w.guard("entity", fmt.Sprintf("сущность %d", e.ID), func() error { return cb(w, e) })
	}
}

// guard выполняет единицу работы тика, перехватывая ошибки и паники
func (w *World) guard(unit, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.TickUnitFailed(unit)
			w.log.Error("Паника при обработке: %s: %v\n%s", what, r, debug.Stack())
		}
	}()
	if err := fn(); err != nil {
		w.metrics.TickUnitFailed(unit)
		w.log.Warn("Ошибка при обработке: %s: %v", what, err)
	}
}

// DrainChanges возвращает изменения блоков с прошлого вызова
func (w *World) DrainChanges() []BlockChange {
	out := w.changes
	w.changes = nil
	return out
}
