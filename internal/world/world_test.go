package world

import (
	"context"
	"errors"
	"testing"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/block/implementations"
	"github.com/annel0/blockverse/internal/world/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Плоский мир: бедрок, камень, земля, трава; поверхность на y=-61
const surfaceY = chunk.MinY + 3

func newTestWorld(t *testing.T, entities *entity.Registry) *World {
	t.Helper()
	store, err := chunk.Open(chunk.Options{
		Dir:       t.TempDir(),
		Generator: chunk.Flat{Layers: []chunk.StateID{block.Bedrock, block.Stone, block.Dirt, block.GrassBlock}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.ShutdownFlushAll() })

	_, err = store.Acquire(context.Background(), vec.ChunkPos{})
	require.NoError(t, err)

	blocks := block.NewRegistry()
	implementations.RegisterDefaults(blocks)
	blocks.Freeze()
	if entities == nil {
		entities = entity.NewRegistry()
	}
	entities.Freeze()

	return New(Options{Store: store, Blocks: blocks, Entities: entities})
}

func TestWorld_BreakBlockRecordsChange(t *testing.T) {
	w := newTestWorld(t, nil)
	pos := vec.BlockPos{X: 3, Y: surfaceY, Z: 4}

	require.NoError(t, w.BreakBlock(pos, 1))
	s, ok := w.Block(pos)
	require.True(t, ok)
	assert.Equal(t, block.Air, s)
	assert.Equal(t, []BlockChange{{Pos: pos, State: block.Air}}, w.DrainChanges())
	assert.Empty(t, w.DrainChanges())
	assert.Equal(t, 6, w.PendingUpdates(), "соседи получают обновление")
}

func TestWorld_BedrockUnbreakable(t *testing.T) {
	w := newTestWorld(t, nil)
	err := w.BreakBlock(vec.BlockPos{Y: chunk.MinY}, 1)
	assert.ErrorIs(t, err, block.ErrUnbreakable)
	assert.Empty(t, w.DrainChanges())
}

func TestWorld_UnloadedChunk(t *testing.T) {
	w := newTestWorld(t, nil)
	far := vec.BlockPos{X: 1000, Y: 0, Z: 1000}

	_, ok := w.Block(far)
	assert.False(t, ok)
	assert.ErrorIs(t, w.BreakBlock(far, 1), ErrChunkNotLoaded)
	assert.ErrorIs(t, w.SetBlock(far, block.Stone), ErrChunkNotLoaded)
	assert.ErrorIs(t, w.SetBlock(vec.BlockPos{Y: chunk.MaxY}, block.Stone), ErrOutOfWorld)
}

func TestWorld_InteractPlacesOnFace(t *testing.T) {
	w := newTestWorld(t, nil)
	pos := vec.BlockPos{X: 1, Y: surfaceY, Z: 1}

	// трава без Interactor: ставим блок сверху (грань 1)
	require.NoError(t, w.Interact(pos, 1, 1, block.OakPlanks))
	s, _ := w.Block(pos.Add(0, 1, 0))
	assert.Equal(t, block.OakPlanks, s)

	// на занятую клетку не ставим
	require.NoError(t, w.Interact(pos.Add(0, 1, 0), 0, 1, block.Stone))
	s, _ = w.Block(pos)
	assert.Equal(t, block.GrassBlock, s)

	assert.Error(t, w.Interact(pos, 9, 1, block.Stone))
}

func TestWorld_InteractUsesBehavior(t *testing.T) {
	w := newTestWorld(t, nil)
	pos := vec.BlockPos{X: 1, Y: surfaceY - 1, Z: 1} // земля

	require.NoError(t, w.Interact(pos, 1, 1, block.Stone))
	s, _ := w.Block(pos)
	assert.Equal(t, block.CoarseDirt, s)
	above, _ := w.Block(pos.Add(0, 1, 0))
	assert.Equal(t, block.GrassBlock, above, "блок не ставится, если сработало поведение")
}

func TestWorld_ScheduledUpdatesRunOnDueTick(t *testing.T) {
	w := newTestWorld(t, nil)
	top := vec.BlockPos{X: 8, Y: surfaceY + 3, Z: 8}
	require.NoError(t, w.SetBlock(top, block.Sand))
	w.ScheduleTick(top, 1)
	w.DrainChanges()

	w.Tick()
	s, _ := w.Block(top.Add(0, -1, 0))
	assert.Equal(t, block.Sand, s)
	s, _ = w.Block(top)
	assert.Equal(t, block.Air, s)

	// падение продолжается через sandFallDelay тиков до поверхности
	for i := 0; i < 10; i++ {
		w.Tick()
	}
	s, _ = w.Block(vec.BlockPos{X: 8, Y: surfaceY + 1, Z: 8})
	assert.Equal(t, block.Sand, s)
	assert.Zero(t, w.PendingUpdates())
}

func TestWorld_ScheduleKeepsEarliest(t *testing.T) {
	w := newTestWorld(t, nil)
	pos := vec.BlockPos{X: 2, Y: surfaceY, Z: 2}
	w.ScheduleTick(pos, 5)
	w.ScheduleTick(pos, 2)
	w.ScheduleTick(pos, 9)
	assert.Equal(t, uint64(2), w.pending[pos])
}

type countingBehavior struct{ n int }

func (b *countingBehavior) Tick(api entity.API, e *entity.Entity) error {
	entity.BaseTick(e)
	b.n++
	return nil
}

type panickingBehavior struct{}

func (panickingBehavior) Tick(entity.API, *entity.Entity) error { panic("bad entity") }

type failingBehavior struct{}

func (failingBehavior) Tick(entity.API, *entity.Entity) error { return errors.New("bad tick") }

func TestWorld_TickIsolatesFailingEntities(t *testing.T) {
	reg := entity.NewRegistry()
	counter := &countingBehavior{}
	reg.Register(entity.Type(1), panickingBehavior{})
	reg.Register(entity.Type(2), counter)
	reg.Register(entity.Type(3), failingBehavior{})
	w := newTestWorld(t, reg)

	w.Entities().Spawn(entity.Type(1), uuid.New(), "", vec.Vec3{})
	ok := w.Entities().Spawn(entity.Type(2), uuid.New(), "", vec.Vec3{})
	w.Entities().Spawn(entity.Type(3), uuid.New(), "", vec.Vec3{})
	w.Entities().Spawn(entity.Type(2), uuid.New(), "", vec.Vec3{})

	assert.NotPanics(t, func() {
		w.Tick()
		w.Tick()
	})
	assert.Equal(t, 4, counter.n, "две исправные сущности за два тика")
	assert.Equal(t, uint64(2), ok.Age)
	assert.Equal(t, uint64(2), w.CurrentTick())
}
