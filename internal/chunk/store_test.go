package chunk

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/blockverse/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string, grace time.Duration) *Store {
	t.Helper()
	s, err := Open(Options{
		Dir:          dir,
		Generator:    Flat{Layers: []StateID{1, 2, 2, 3}},
		EvictGrace:   grace,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestStore_GeneratesMissingChunk(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()

	p := vec.ChunkPos{X: 4, Z: -2}
	c, err := s.Acquire(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, c.Pos)
	assert.Equal(t, StateID(3), c.Block(0, MinY+3, 0))
	assert.True(t, c.Dirty(), "сгенерированный чанк требует записи")
	assert.Equal(t, StateResident, s.State(p))
	assert.Equal(t, 1, s.Refs(p))
	assert.Equal(t, int64(1), s.Stats().Generated)
}

func TestStore_EditSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	p := vec.ChunkPos{X: 1, Z: 1}

	s := newTestStore(t, dir, 0)
	_, err := s.Acquire(context.Background(), p)
	require.NoError(t, err)

	// несколько сотен разных блоков, дерево около 800 байт после сжатия
	err = s.Edit(p, func(c *Chunk) error {
		for i := 0; i < 400; i++ {
			c.SetBlock(i%16, i%300, (i/16)%16, StateID(10+i%97))
		}
		return nil
	})
	require.NoError(t, err)
	s.Release(p)
	assert.Equal(t, StateUnloaded, s.State(p))
	require.NoError(t, s.ShutdownFlushAll())

	s = newTestStore(t, dir, 0)
	defer s.ShutdownFlushAll()
	c, err := s.Acquire(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, c.Dirty())
	for i := 0; i < 400; i++ {
		assert.Equal(t, StateID(10+i%97), c.Block(i%16, i%300, (i/16)%16))
	}
	st := s.Stats()
	assert.Equal(t, int64(1), st.LoadedFromDisk)
	assert.Zero(t, st.Generated)
}

func TestStore_SharedRefsEvictOnce(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()
	ctx := context.Background()
	p := vec.ChunkPos{X: 9, Z: 9}

	a, err := s.Acquire(ctx, p)
	require.NoError(t, err)
	b, err := s.Acquire(ctx, p)
	require.NoError(t, err)
	assert.Same(t, a, b, "один экземпляр чанка на позицию")
	assert.Equal(t, 2, s.Refs(p))

	s.Release(p)
	assert.Equal(t, StateResident, s.State(p))
	assert.Zero(t, s.Stats().Evictions)

	s.Release(p)
	st := s.Stats()
	assert.Equal(t, StateUnloaded, s.State(p))
	assert.Equal(t, int64(1), st.Evictions)
	assert.Equal(t, int64(1), st.Persists)

	// лишний Release игнорируется
	s.Release(p)
	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestStore_GraceCancelledByAcquire(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 50*time.Millisecond)
	defer s.ShutdownFlushAll()
	ctx := context.Background()
	p := vec.ChunkPos{}

	_, err := s.Acquire(ctx, p)
	require.NoError(t, err)
	s.Release(p)
	_, err = s.Acquire(ctx, p)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, StateResident, s.State(p))
	assert.Zero(t, s.Stats().Evictions)

	s.Release(p)
	require.Eventually(t, func() bool {
		return s.State(p) == StateUnloaded
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestStore_GetOrLoadEvictsAfterGrace(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 20*time.Millisecond)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{X: 2}

	c, err := s.GetOrLoad(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Zero(t, s.Refs(p))

	require.Eventually(t, func() bool {
		return s.State(p) == StateUnloaded
	}, time.Second, 5*time.Millisecond)
}

func TestStore_TryAcquireLoadsInBackground(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{X: 3, Z: 3}

	c, ok, err := s.TryAcquire(p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c)

	require.Eventually(t, func() bool {
		c, ok, err = s.TryAcquire(p)
		return ok || err != nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, p, c.Pos)
	assert.Equal(t, 1, s.Refs(p))
}

func TestStore_FailedLoadIsNotRepeated(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(vec.ChunkPos) (*Chunk, error) {
			calls.Add(1)
			return nil, boom
		}),
		RetryAttempts: 3,
		RetryInitial:  time.Millisecond,
		RetryMax:      time.Millisecond,
	})
	require.NoError(t, err)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{}

	_, _, err = s.TryAcquire(p)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, err = s.TryAcquire(p)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "generate", se.Op)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrChunkUnavailable)
	assert.Equal(t, StateFailed, s.State(p))

	// каждый тик окно игрока снова запрашивает чанк
	for i := 0; i < 200; i++ {
		c, ok, err := s.TryAcquire(p)
		require.ErrorIs(t, err, ErrChunkUnavailable)
		require.False(t, ok)
		require.Nil(t, c)
	}
	_, err = s.Acquire(context.Background(), p)
	assert.ErrorIs(t, err, ErrChunkUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "генератор вызывается только в пределах повторов одной загрузки")
	assert.Zero(t, s.Stats().Resident)
}

func TestStore_FailedLoadRetriedAfterCooldown(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(p vec.ChunkPos) (*Chunk, error) {
			if broken.Load() {
				return nil, errors.New("seed service down")
			}
			return New(p), nil
		}),
		RetryAttempts:   1,
		FailureCooldown: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.ShutdownFlushAll()
	ctx := context.Background()
	p := vec.ChunkPos{X: 3}

	_, err = s.Acquire(ctx, p)
	require.ErrorIs(t, err, ErrChunkUnavailable)

	broken.Store(false)
	_, err = s.Acquire(ctx, p)
	require.ErrorIs(t, err, ErrChunkUnavailable, "до конца паузы новая загрузка не запускается")

	require.Eventually(t, func() bool {
		_, err := s.Acquire(ctx, p)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateResident, s.State(p))
	assert.Equal(t, 1, s.Refs(p))
}

func TestStore_GeneratorPanicIsLoadError(t *testing.T) {
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(vec.ChunkPos) (*Chunk, error) {
			panic("bad seed")
		}),
		RetryInitial: time.Millisecond,
		RetryMax:     time.Millisecond,
	})
	require.NoError(t, err)
	defer s.ShutdownFlushAll()

	_, err = s.Acquire(context.Background(), vec.ChunkPos{})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "generate", se.Op)
	assert.ErrorIs(t, err, ErrChunkUnavailable)
	assert.Contains(t, err.Error(), "bad seed")
}

func TestStore_ConcurrentAcquireLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(p vec.ChunkPos) (*Chunk, error) {
			calls.Add(1)
			<-release
			return New(p), nil
		}),
	})
	require.NoError(t, err)
	defer s.ShutdownFlushAll()

	p := vec.ChunkPos{X: 1}
	results := make(chan *Chunk, 8)
	for i := 0; i < 8; i++ {
		go func() {
			c, err := s.Acquire(context.Background(), p)
			if err != nil {
				results <- nil
				return
			}
			results <- c
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	first := <-results
	require.NotNil(t, first)
	for i := 1; i < 8; i++ {
		assert.Same(t, first, <-results)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 8, s.Refs(p))
}

func TestStore_AcquireRespectsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(p vec.ChunkPos) (*Chunk, error) {
			<-release
			return New(p), nil
		}),
	})
	require.NoError(t, err)

	p := vec.ChunkPos{}
	_, _, err = s.TryAcquire(p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_PersistFailureMarksChunkUnavailable(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	p := vec.ChunkPos{X: 5, Z: 5}

	_, err := s.Acquire(context.Background(), p)
	require.NoError(t, err)

	// закрываем файл региона из-под хранилища
	r, err := s.regions.get(p)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	err = s.Flush(p)
	require.ErrorIs(t, err, ErrChunkUnavailable)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "persist", se.Op)
	assert.Equal(t, StateFailed, s.State(p))
	assert.Equal(t, int64(1), s.Stats().PersistFailures)

	err = s.Edit(p, func(c *Chunk) error {
		c.SetBlock(0, 0, 0, 1)
		return nil
	})
	assert.ErrorIs(t, err, ErrChunkUnavailable)

	// чанк не выгружается, пока не записан
	s.Release(p)
	assert.Equal(t, StateFailed, s.State(p))
	c, ok := s.Peek(p)
	require.True(t, ok)
	assert.True(t, c.Dirty())
}

func TestStore_EditRequiresResidentChunk(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()

	err := s.Edit(vec.ChunkPos{X: 100}, func(*Chunk) error { return nil })
	assert.ErrorIs(t, err, ErrNotResident)
}

func TestStore_EditWaitsForEviction(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{X: 2}

	_, err := s.Acquire(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, s.Edit(p, func(c *Chunk) error {
		c.SetBlock(0, 0, 0, 7)
		return nil
	}))

	// пока тест держит ioMu записи, выгрузка не может записать чанк
	s.mu.Lock()
	e := s.entries[p]
	s.mu.Unlock()
	e.ioMu.Lock()

	released := make(chan struct{})
	go func() {
		s.Release(p)
		close(released)
	}()
	require.Eventually(t, func() bool { return s.State(p) == StateEvicting }, time.Second, time.Millisecond)

	edited := make(chan error, 1)
	go func() {
		edited <- s.Edit(p, func(c *Chunk) error {
			c.SetBlock(1, 0, 0, 8)
			return nil
		})
	}()
	select {
	case err := <-edited:
		t.Fatalf("Edit вернулся во время выгрузки: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	e.ioMu.Unlock()
	<-released
	require.NoError(t, <-edited)

	c, ok := s.Peek(p)
	require.True(t, ok)
	assert.Equal(t, StateID(7), c.Block(0, 0, 0), "чанк перечитан с диска после выгрузки")
	assert.Equal(t, StateID(8), c.Block(1, 0, 0))
	assert.Equal(t, StateResident, s.State(p))
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.LoadedFromDisk)
}

func TestStore_EditWaitsForLoad(t *testing.T) {
	release := make(chan struct{})
	s, err := Open(Options{
		Dir: t.TempDir(),
		Generator: GeneratorFunc(func(p vec.ChunkPos) (*Chunk, error) {
			<-release
			return New(p), nil
		}),
	})
	require.NoError(t, err)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{Z: 9}

	_, _, err = s.TryAcquire(p)
	require.NoError(t, err)
	require.Equal(t, StateLoading, s.State(p))

	edited := make(chan error, 1)
	go func() {
		edited <- s.Edit(p, func(c *Chunk) error {
			c.SetBlock(4, 10, 4, 5)
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-edited)
	c, ok := s.Peek(p)
	require.True(t, ok)
	assert.Equal(t, StateID(5), c.Block(4, 10, 4))
}

func TestStore_ZeroGraceUnreferencedChunkWaitsForSweep(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	defer s.ShutdownFlushAll()
	p := vec.ChunkPos{X: -4}

	_, err := s.GetOrLoad(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, StateResident, s.State(p))
	assert.Zero(t, s.Refs(p))

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, StateUnloaded, s.State(p))
	assert.Equal(t, int64(1), s.Stats().Persists)
}

func TestStore_FlushDirtyAndSweep(t *testing.T) {
	s := newTestStore(t, t.TempDir(), time.Hour)
	defer s.ShutdownFlushAll()
	ctx := context.Background()

	for x := int32(0); x < 3; x++ {
		_, err := s.GetOrLoad(ctx, vec.ChunkPos{X: x})
		require.NoError(t, err)
	}
	n, err := s.FlushDirty()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.FlushDirty()
	require.NoError(t, err)
	assert.Zero(t, n, "повторный вызов ничего не пишет")

	_, err = s.Acquire(ctx, vec.ChunkPos{X: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Stats().Resident)
}

func TestStore_ClosedRejectsOperations(t *testing.T) {
	s := newTestStore(t, t.TempDir(), 0)
	require.NoError(t, s.ShutdownFlushAll())

	_, err := s.Acquire(context.Background(), vec.ChunkPos{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, _, err = s.TryAcquire(vec.ChunkPos{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Edit(vec.ChunkPos{}, func(*Chunk) error { return nil }), ErrStoreClosed)
	assert.NoError(t, s.ShutdownFlushAll())
}
