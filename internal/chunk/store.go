package chunk

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// State - состояние записи хранилища
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateResident
	StateEvicting
	// StateFailed - чанк не удалось записать (он остаётся в памяти,
	// изменения отклоняются) либо не удалось загрузить после всех попыток
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateResident:
		return "resident"
	case StateEvicting:
		return "evicting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options - параметры хранилища
type Options struct {
	Dir         string // каталог мира; region-файлы лежат в Dir/region
	Generator   Generator
	Compression Compression

	// EvictGrace - задержка между освобождением последней ссылки и выгрузкой.
	// Ноль - выгрузка сразу в вызывающей горутине.
	EvictGrace time.Duration

	LoadWorkers   int // параллельные фоновые загрузки
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration

	// FailureCooldown - сколько чанк, который не удалось загрузить или
	// сгенерировать, считается недоступным до новой попытки
	FailureCooldown time.Duration

	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.Compression == 0 {
		o.Compression = CompressionZlib
	}
	if o.LoadWorkers <= 0 {
		o.LoadWorkers = 4
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 5
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 50 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = time.Second
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = time.Minute
	}
}

// Stats - счётчики хранилища
type Stats struct {
	Resident        int
	LoadedFromDisk  int64
	Generated       int64
	Evictions       int64
	Persists        int64
	PersistFailures int64
}

type entry struct {
	pos      vec.ChunkPos
	state    State
	refs     int
	chunk    *Chunk
	done     chan struct{} // закрывается по окончании Loading/Evicting
	timer    *time.Timer
	timerGen uint64
	ioMu     sync.Mutex // упорядочивает записи чанка на диск
}

// Store - кеш чанков со счётчиками ссылок поверх region-файлов.
// Карта записей защищена коротко удерживаемым mu; ввод-вывод выполняется
// без него, поэтому операции над разными чанками не блокируют друг друга.
type Store struct {
	opts    Options
	log     *logging.Logger
	regions *regionCache
	sem     *semaphore.Weighted

	mu      sync.Mutex
	entries map[vec.ChunkPos]*entry
	failed  map[vec.ChunkPos]loadFailure
	closed  bool

	bg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	loaded, generated, evictions, persists, persistFailures atomic.Int64
}

// Open создаёт хранилище
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("chunk store: empty world dir")
	}
	if opts.Generator == nil {
		return nil, errors.New("chunk store: generator is required")
	}
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		opts:      opts,
		log:       logging.GetChunkLogger(),
		regions:   newRegionCache(filepath.Join(opts.Dir, "region")),
		sem:       semaphore.NewWeighted(int64(opts.LoadWorkers)),
		entries:   make(map[vec.ChunkPos]*entry),
		failed:    make(map[vec.ChunkPos]loadFailure),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// ensure возвращает запись в состоянии Resident или Failed, удерживая s.mu.
// При ошибке s.mu не удерживается.
func (s *Store) ensure(ctx context.Context, pos vec.ChunkPos) (*entry, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStoreClosed
		}
		e, ok := s.entries[pos]
		if !ok {
			if err := s.failedLocked(pos); err != nil {
				s.mu.Unlock()
				return nil, err
			}
			e = &entry{pos: pos, state: StateLoading, done: make(chan struct{})}
			s.entries[pos] = e
			s.mu.Unlock()
			if err := s.load(e); err != nil {
				return nil, err
			}
			continue
		}

		switch e.state {
		case StateResident, StateFailed:
			return e, nil
		default:
			done := e.done
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// loadFailure - чанк, который не удалось загрузить после всех попыток
type loadFailure struct {
	err *StoreError
	at  time.Time
}

// failedLocked возвращает ошибку недоступности, пока не истёк
// FailureCooldown с последней неудачной загрузки
func (s *Store) failedLocked(pos vec.ChunkPos) error {
	f, ok := s.failed[pos]
	if !ok {
		return nil
	}
	if time.Since(f.at) >= s.opts.FailureCooldown {
		delete(s.failed, pos)
		return nil
	}
	return f.err
}

// load читает чанк с диска или генерирует его и переводит запись в Resident.
// Неудача запоминается: до истечения FailureCooldown чанк недоступен и
// повторно не загружается.
func (s *Store) load(e *entry) error {
	c, source, err := s.readOrGenerate(e.pos)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		op, cause := "load", err
		var se *StoreError
		if errors.As(err, &se) {
			op, cause = se.Op, se.Err
		}
		f := &StoreError{Pos: e.pos, Op: op, Err: fmt.Errorf("%w: %w", ErrChunkUnavailable, cause)}
		s.failed[e.pos] = loadFailure{err: f, at: time.Now()}
		delete(s.entries, e.pos)
		close(e.done)
		s.opts.Metrics.ChunkLoadFailed()
		s.log.Error("Чанк %v недоступен на %v: %v", e.pos, s.opts.FailureCooldown, cause)
		return f
	}

	e.chunk = c
	e.state = StateResident
	close(e.done)
	if e.refs == 0 && s.opts.EvictGrace > 0 {
		s.armEvictionLocked(e)
	}

	if source == metrics.SourceGenerated {
		s.generated.Add(1)
	} else {
		s.loaded.Add(1)
	}
	s.opts.Metrics.ChunkLoaded(source)
	s.opts.Metrics.SetResidentChunks(len(s.entries))
	return nil
}

func (s *Store) readOrGenerate(pos vec.ChunkPos) (*Chunk, string, error) {
	var (
		tree  []byte
		found bool
	)
	err := s.retry("load", pos, func() error {
		region, err := s.regions.get(pos)
		if err != nil {
			return err
		}
		tree, found, err = region.Read(pos)
		return err
	})
	if err != nil {
		return nil, "", &StoreError{Pos: pos, Op: "load", Err: err}
	}

	if found {
		c, err := Unmarshal(tree)
		switch {
		case err != nil:
			s.log.Warn("Чанк %v повреждён, будет сгенерирован заново: %v", pos, err)
		case c.Pos != pos:
			s.log.Warn("Чанк %v содержит позицию %v, будет сгенерирован заново", pos, c.Pos)
		default:
			return c, metrics.SourceRegion, nil
		}
	}

	var c *Chunk
	err = s.retry("generate", pos, func() error {
		var err error
		c, err = s.generate(pos)
		return err
	})
	if err != nil {
		return nil, "", &StoreError{Pos: pos, Op: "generate", Err: err}
	}
	c.MarkDirty()
	return c, metrics.SourceGenerated, nil
}

func (s *Store) generate(pos vec.ChunkPos) (c *Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	c, err = s.opts.Generator.Generate(pos)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("generator returned nil chunk")
	}
	c.Pos = pos
	return c, nil
}

// retry выполняет op с экспоненциальной задержкой между попытками
func (s *Store) retry(opName string, pos vec.ChunkPos, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = s.opts.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.RetryNotify(op,
		backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts-1)),
		func(err error, next time.Duration) {
			s.log.Warn("Чанк %v: %s не удался, повтор через %v: %v", pos, opName, next, err)
		})
}

// persist записывает грязный чанк. Состояние записи не меняет.
func (s *Store) persist(e *entry) error {
	e.ioMu.Lock()
	defer e.ioMu.Unlock()

	c := e.chunk
	if !c.Dirty() {
		return nil
	}
	tree, version := c.Marshal()

	err := s.retry("persist", e.pos, func() error {
		region, err := s.regions.get(e.pos)
		if err != nil {
			return err
		}
		err = region.Write(e.pos, tree, s.opts.Compression)
		if errors.Is(err, ErrChunkTooLarge) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.persistFailures.Add(1)
		s.opts.Metrics.PersistFailed()
		s.log.Error("Чанк %v не записан после %d попыток: %v", e.pos, s.opts.RetryAttempts, err)
		return &StoreError{Pos: e.pos, Op: "persist", Err: fmt.Errorf("%w: %v", ErrChunkUnavailable, err)}
	}

	c.markSaved(version)
	s.persists.Add(1)
	s.opts.Metrics.ChunkPersisted()
	return nil
}

func (s *Store) armEvictionLocked(e *entry) {
	s.cancelEvictionLocked(e)
	e.timerGen++
	gen := e.timerGen
	pos := e.pos
	s.bg.Add(1)
	e.timer = time.AfterFunc(s.opts.EvictGrace, func() {
		defer s.bg.Done()
		s.evictIfIdle(pos, gen)
	})
}

func (s *Store) cancelEvictionLocked(e *entry) {
	if e.timer != nil && e.timer.Stop() {
		s.bg.Done()
	}
	e.timer = nil
	e.timerGen++
}

func (s *Store) evictIfIdle(pos vec.ChunkPos, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[pos]
	if !ok || s.closed || e.timerGen != gen || e.refs > 0 || e.state != StateResident {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	s.beginEvictLocked(e)
	s.mu.Unlock()

	s.finishEvict(e)
}

func (s *Store) beginEvictLocked(e *entry) {
	e.state = StateEvicting
	e.done = make(chan struct{})
}

// finishEvict записывает грязный чанк и удаляет запись. При ошибке записи
// чанк остаётся в памяти в состоянии Failed.
func (s *Store) finishEvict(e *entry) {
	err := s.persist(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		e.state = StateFailed
	} else {
		delete(s.entries, e.pos)
		s.evictions.Add(1)
		s.opts.Metrics.ChunkEvicted()
	}
	close(e.done)
	s.opts.Metrics.SetResidentChunks(len(s.entries))
}

// GetOrLoad возвращает чанк, загружая или генерируя его при необходимости.
// Ссылка не берётся: чанк без ссылок выгружается после EvictGrace,
// а при нулевой задержке остаётся в памяти до ближайшего Sweep.
func (s *Store) GetOrLoad(ctx context.Context, pos vec.ChunkPos) (*Chunk, error) {
	e, err := s.ensure(ctx, pos)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if e.refs == 0 && e.timer == nil && e.state == StateResident && s.opts.EvictGrace > 0 {
		s.armEvictionLocked(e)
	}
	return e.chunk, nil
}

// Acquire загружает чанк и увеличивает счётчик ссылок. Отменяет
// запланированную выгрузку.
func (s *Store) Acquire(ctx context.Context, pos vec.ChunkPos) (*Chunk, error) {
	e, err := s.ensure(ctx, pos)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	e.refs++
	s.cancelEvictionLocked(e)
	return e.chunk, nil
}

// TryAcquire берёт ссылку, если чанк уже в памяти. Иначе запускает фоновую
// загрузку и возвращает ok=false. Пока чанк недоступен после неудачной
// загрузки, возвращается ошибка с ErrChunkUnavailable без новой попытки.
func (s *Store) TryAcquire(pos vec.ChunkPos) (*Chunk, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	e, ok := s.entries[pos]
	if ok {
		if e.state == StateResident || e.state == StateFailed {
			e.refs++
			s.cancelEvictionLocked(e)
			return e.chunk, true, nil
		}
		return nil, false, nil
	}

	if err := s.failedLocked(pos); err != nil {
		return nil, false, err
	}
	e = &entry{pos: pos, state: StateLoading, done: make(chan struct{})}
	s.entries[pos] = e
	s.bg.Add(1)
	go s.asyncLoad(e)
	return nil, false, nil
}

func (s *Store) asyncLoad(e *entry) {
	defer s.bg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.mu.Lock()
		delete(s.entries, e.pos)
		close(e.done)
		s.mu.Unlock()
		return
	}
	defer s.sem.Release(1)

	_ = s.load(e) // неудача запомнена в s.failed и уже залогирована
}

// Release уменьшает счётчик ссылок. Когда он обнуляется, чанк выгружается
// после EvictGrace (или сразу, если задержка нулевая).
func (s *Store) Release(pos vec.ChunkPos) {
	s.mu.Lock()
	e, ok := s.entries[pos]
	if !ok || e.refs == 0 {
		s.mu.Unlock()
		s.log.Warn("Release чанка %v без Acquire", pos)
		return
	}
	e.refs--
	if e.refs > 0 || e.state != StateResident || s.closed {
		s.mu.Unlock()
		return
	}
	if s.opts.EvictGrace > 0 {
		s.armEvictionLocked(e)
		s.mu.Unlock()
		return
	}
	s.cancelEvictionLocked(e)
	s.beginEvictLocked(e)
	s.mu.Unlock()

	s.finishEvict(e)
}

// Edit применяет fn к чанку в памяти. fn выполняется под блокировкой
// карты хранилища и не должна вызывать методы Store.
//
// Если чанк загружается или выгружается, Edit ждёт окончания; чанк,
// выгруженный за время ожидания, загружается заново. Чанк, которого
// не было в памяти, не загружается: возвращается ErrNotResident.
func (s *Store) Edit(pos vec.ChunkPos, fn func(c *Chunk) error) error {
	s.mu.Lock()
	waited := false
	for {
		if s.closed {
			s.mu.Unlock()
			return ErrStoreClosed
		}
		e, ok := s.entries[pos]
		if !ok {
			if !waited {
				s.mu.Unlock()
				return &StoreError{Pos: pos, Op: "edit", Err: ErrNotResident}
			}
			s.mu.Unlock()
			var err error
			if e, err = s.ensure(s.ctx, pos); err != nil {
				return err
			}
		}

		switch e.state {
		case StateResident:
			err := fn(e.chunk)
			s.mu.Unlock()
			return err
		case StateFailed:
			s.mu.Unlock()
			return &StoreError{Pos: pos, Op: "edit", Err: ErrChunkUnavailable}
		}

		done := e.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-s.ctx.Done():
			return ErrStoreClosed
		}
		waited = true
		s.mu.Lock()
	}
}

// Peek возвращает чанк, если он в памяти, не меняя счётчиков
func (s *Store) Peek(pos vec.ChunkPos) (*Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pos]
	if !ok || e.chunk == nil || e.state == StateLoading {
		return nil, false
	}
	return e.chunk, true
}

// MarkDirty помечает чанк в памяти как изменённый
func (s *Store) MarkDirty(pos vec.ChunkPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[pos]; ok && e.chunk != nil && e.state != StateLoading {
		e.chunk.MarkDirty()
	}
}

// Flush записывает чанк, если он в памяти и грязный. Успешная запись
// возвращает чанк из Failed в Resident.
func (s *Store) Flush(pos vec.ChunkPos) error {
	s.mu.Lock()
	e, ok := s.entries[pos]
	if !ok || (e.state != StateResident && e.state != StateFailed) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.persist(e)
	s.settle(e, err)
	return err
}

func (s *Store) settle(e *entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && e.state == StateResident:
		e.state = StateFailed
	case err == nil && e.state == StateFailed:
		e.state = StateResident
		if e.refs == 0 && s.opts.EvictGrace > 0 && !s.closed {
			s.armEvictionLocked(e)
		}
	}
}

// FlushDirty записывает все грязные чанки в памяти и возвращает их число
func (s *Store) FlushDirty() (int, error) {
	s.mu.Lock()
	var dirty []*entry
	for _, e := range s.entries {
		if (e.state == StateResident || e.state == StateFailed) && e.chunk.Dirty() {
			dirty = append(dirty, e)
		}
	}
	s.mu.Unlock()

	var errs []error
	n := 0
	for _, e := range dirty {
		err := s.persist(e)
		s.settle(e, err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Sweep выгружает все чанки без ссылок и возвращает их число
func (s *Store) Sweep() int {
	s.mu.Lock()
	var idle []*entry
	for _, e := range s.entries {
		if e.refs == 0 && e.state == StateResident {
			s.cancelEvictionLocked(e)
			s.beginEvictLocked(e)
			idle = append(idle, e)
		}
	}
	s.mu.Unlock()

	for _, e := range idle {
		s.finishEvict(e)
	}
	return len(idle)
}

// ShutdownFlushAll останавливает фоновые загрузки и отложенные выгрузки,
// записывает все изменённые чанки и закрывает region-файлы
func (s *Store) ShutdownFlushAll() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, e := range s.entries {
		s.cancelEvictionLocked(e)
	}
	s.mu.Unlock()

	s.cancel()
	s.bg.Wait()

	s.mu.Lock()
	var all []*entry
	for _, e := range s.entries {
		if e.chunk != nil {
			all = append(all, e)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, e := range all {
		if err := s.persist(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.regions.closeAll(); err != nil {
		errs = append(errs, err)
	}

	s.log.Info("Хранилище чанков остановлено: записано %d, ошибок %d", s.persists.Load(), len(errs))
	return errors.Join(errs...)
}

// State возвращает состояние записи чанка
func (s *Store) State(pos vec.ChunkPos) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[pos]; ok {
		return e.state
	}
	if s.failedLocked(pos) != nil {
		return StateFailed
	}
	return StateUnloaded
}

// Refs возвращает счётчик ссылок чанка
func (s *Store) Refs(pos vec.ChunkPos) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[pos]; ok {
		return e.refs
	}
	return 0
}

// Stats возвращает счётчики хранилища
func (s *Store) Stats() Stats {
	s.mu.Lock()
	resident := 0
	for _, e := range s.entries {
		if e.chunk != nil && e.state != StateLoading {
			resident++
		}
	}
	s.mu.Unlock()

	return Stats{
		Resident:        resident,
		LoadedFromDisk:  s.loaded.Load(),
		Generated:       s.generated.Load(),
		Evictions:       s.evictions.Load(),
		Persists:        s.persists.Load(),
		PersistFailures: s.persistFailures.Load(),
	}
}
