// Package tick содержит тик-цикл: единственный владелец изменений мира и
// хранилища чанков. Сессии только ставят намерения в очередь.
package tick

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/eventbus"
	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/playerdata"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/entity"
	"github.com/google/uuid"
)

// ErrStopped возвращается Submit после Close
var ErrStopped = errors.New("tick: scheduler stopped")

const (
	// Reach - максимальное расстояние от глаз игрока до центра блока
	Reach     = 6.0
	eyeHeight = 1.62

	chatLimit  = 5
	chatWindow = 2 * time.Second

	minViewDistance  = 2
	dimension        = "minecraft:overworld"
	gameModeCreative = 1

	storageTimeout = 2 * time.Second
)

// Options - параметры тик-цикла
type Options struct {
	World         *world.World
	Period        time.Duration // по умолчанию 50 мс
	ViewDistance  int           // максимальный радиус окна видимости в чанках
	MaxPlayers    int           // только для Login (Play)
	AutosaveTicks int           // 0 - без автосохранения
	Seed          int64
	PlaceState    chunk.StateID // блок, который ставит Use Item On; 0 - булыжник
	PlayerData    playerdata.Repo
	Bus           eventbus.EventBus
	Metrics       *metrics.Metrics
}

// PlayerInfo - снимок игрока для админ API
type PlayerInfo struct {
	EntityID     int32        `json:"entity_id"`
	Name         string       `json:"name"`
	UUID         uuid.UUID    `json:"uuid"`
	Pos          vec.Vec3     `json:"pos"`
	Chunk        vec.ChunkPos `json:"chunk"`
	ViewDistance int          `json:"view_distance"`
	ChunksSent   int          `json:"chunks_sent"`
	JoinedAt     time.Time    `json:"joined_at"`
}

// Scheduler - тик-цикл фиксированного периода
type Scheduler struct {
	opts    Options
	world   *world.World
	store   *chunk.Store
	log     *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	queue     []Intent
	closed    bool
	cancelRun context.CancelFunc
	running   sync.WaitGroup

	players map[uint64]*player // по id сессии
	byUUID  map[uuid.UUID]*player

	snapMu   sync.RWMutex
	snapshot []PlayerInfo

	chatTicks  uint64
	hashedSeed int64
	teleportID int32

	saving  atomic.Bool
	bg      sync.WaitGroup
	events  chan *eventbus.Envelope
	pubDone chan struct{}
}

// New создаёт планировщик
func New(opts Options) (*Scheduler, error) {
	if opts.World == nil {
		return nil, errors.New("tick: world is required")
	}
	if opts.Period <= 0 {
		opts.Period = 50 * time.Millisecond
	}
	if opts.ViewDistance < minViewDistance {
		opts.ViewDistance = minViewDistance
	}
	if opts.PlaceState == block.Air {
		opts.PlaceState = block.Cobblestone
	}

	chatTicks := uint64(chatWindow / opts.Period)
	if chatTicks == 0 {
		chatTicks = 1
	}
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(opts.Seed))
	sum := sha256.Sum256(seed[:])

	s := &Scheduler{
		opts:       opts,
		world:      opts.World,
		store:      opts.World.Store(),
		log:        logging.GetTickLogger(),
		metrics:    opts.Metrics,
		players:    make(map[uint64]*player),
		byUUID:     make(map[uuid.UUID]*player),
		chatTicks:  chatTicks,
		hashedSeed: int64(binary.BigEndian.Uint64(sum[:8])),
		events:     make(chan *eventbus.Envelope, 256),
		pubDone:    make(chan struct{}),
	}
	go s.publishLoop()
	return s, nil
}

// Submit ставит намерение в очередь. Порядок намерений сохраняется.
func (s *Scheduler) Submit(in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	s.queue = append(s.queue, in)
	return nil
}

func (s *Scheduler) drain() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Run выполняет тики до отмены ctx. Тик, не уложившийся в период, сразу
// сменяется следующим, пропущенные тики не догоняются.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStopped
	}
	s.cancelRun = cancel
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	timer := time.NewTimer(s.opts.Period)
	defer timer.Stop()

	next := time.Now()
	for {
		start := time.Now()
		s.Step()
		elapsed := time.Since(start)
		overrun := elapsed > s.opts.Period
		s.metrics.ObserveTick(elapsed, overrun)
		if overrun {
			s.log.Warn("Тик %d длился %v (период %v)", s.world.CurrentTick(), elapsed, s.opts.Period)
			next = time.Now()
		} else {
			next = next.Add(s.opts.Period)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(next))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Step выполняет один тик
func (s *Scheduler) Step() {
	for _, in := range s.drain() {
		in := in
		s.guard("intent", fmt.Sprintf("намерение %T сессии %d", in, in.header().Session), func() error {
			return s.apply(in)
		})
	}

	s.world.Tick()

	moved := make(map[int32]bool)
	for _, e := range s.world.Entities().TakeMoved() {
		moved[e.ID] = true
	}
	changes := s.world.DrainChanges()

	for _, p := range s.sortedPlayers() {
		s.streamChunks(p)
		for _, ch := range changes {
			if p.sent(ch.Pos.Chunk()) {
				p.send(&protocol.BlockUpdate{Position: ch.Pos, StateID: int32(ch.State)})
			}
		}
		s.syncEntities(p, moved)
		if p.needAck {
			p.send(&protocol.AcknowledgeBlockChange{Sequence: p.ackSeq})
			p.needAck = false
		}
	}

	if n := s.opts.AutosaveTicks; n > 0 && s.world.CurrentTick()%uint64(n) == 0 {
		s.autosave()
	}
	s.publishSnapshot()
	s.metrics.SetResidentChunks(s.store.Stats().Resident)
}

func (s *Scheduler) sortedPlayers() []*player {
	out := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].session < out[j].session })
	return out
}

// guard выполняет единицу работы тика, перехватывая ошибки и паники
func (s *Scheduler) guard(unit, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.TickUnitFailed(unit)
			s.log.Error("Паника при обработке: %s: %v\n%s", what, r, debug.Stack())
		}
	}()
	if err := fn(); err != nil {
		s.metrics.TickUnitFailed(unit)
		s.log.Warn("Ошибка при обработке: %s: %v", what, err)
	}
}

func (s *Scheduler) apply(in Intent) error {
	if j, ok := in.(*Join); ok {
		return s.join(j)
	}
	p, ok := s.players[in.header().Session]
	if !ok {
		// Сессия уже убрана (например, вытеснена повторным входом)
		return nil
	}

	switch in := in.(type) {
	case *Leave:
		s.remove(p, in.Reason)
	case *Move:
		return s.move(p, in)
	case *BreakBlock:
		return s.breakBlock(p, in)
	case *Interact:
		return s.interact(p, in)
	case *Chat:
		s.chat(p, in.Text)
	case *ViewDistance:
		s.setView(p, p.center, s.clampView(in.Radius))
	default:
		return fmt.Errorf("unknown intent %T", in)
	}
	return nil
}

func (s *Scheduler) clampView(r int) int32 {
	if r <= 0 || r > s.opts.ViewDistance {
		r = s.opts.ViewDistance
	}
	if r < minViewDistance {
		r = minViewDistance
	}
	return int32(r)
}

func (s *Scheduler) join(in *Join) error {
	if _, dup := s.players[in.Session]; dup {
		return fmt.Errorf("session %d joined twice", in.Session)
	}
	if old, ok := s.byUUID[in.Identity.UUID]; ok {
		old.client.Disconnect("You logged in from another location")
		s.remove(old, "duplicate login")
	}

	pos := s.world.Spawn()
	var yaw, pitch float32
	if s.opts.PlayerData != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		rec, found, err := s.opts.PlayerData.Load(ctx, in.Identity.UUID)
		cancel()
		switch {
		case err != nil:
			s.log.Warn("Данные игрока %s не загружены: %v", in.Identity.Name, err)
		case found:
			pos, yaw, pitch = rec.Pos, rec.Yaw, rec.Pitch
		}
	}

	ents := s.world.Entities()
	ent := ents.Spawn(entity.TypePlayer, in.Identity.UUID, in.Identity.Name, pos)
	ents.Move(ent.ID, pos, yaw, pitch, false)

	p := &player{
		session:  in.Session,
		client:   in.Client,
		identity: in.Identity,
		ent:      ent,
		joinedAt: time.Now(),
		radius:   s.clampView(in.ViewDistance),
		center:   ent.Chunk(),
		chunks:   make(map[vec.ChunkPos]bool),
		visible:  make(map[int32]struct{}),
	}
	s.players[in.Session] = p
	s.byUUID[in.Identity.UUID] = p

	s.teleportID++
	p.send(&protocol.LoginPlay{
		EntityID:            ent.ID,
		DimensionNames:      []string{dimension},
		MaxPlayers:          int32(s.opts.MaxPlayers),
		ViewDistance:        p.radius,
		SimulationDistance:  p.radius,
		EnableRespawnScreen: true,
		DimensionType:       0,
		DimensionName:       dimension,
		HashedSeed:          s.hashedSeed,
		GameMode:            gameModeCreative,
		PreviousGameMode:    -1,
	})
	p.send(&protocol.GameEvent{Event: protocol.GameEventStartWaitingChunks})
	p.send(&protocol.SyncPlayerPosition{
		X: pos.X, Y: pos.Y, Z: pos.Z,
		Yaw: yaw, Pitch: pitch,
		TeleportID: s.teleportID,
	})
	p.send(&protocol.SetCenterChunk{X: p.center.X, Z: p.center.Z})
	s.setView(p, p.center, p.radius)

	s.log.Info("Игрок %s (%s) вошёл, сущность %d, позиция %.1f %.1f %.1f",
		in.Identity.Name, in.Identity.UUID, ent.ID, pos.X, pos.Y, pos.Z)
	s.broadcast(&protocol.SystemChat{Content: in.Identity.Name + " joined the game"})
	s.publish(eventbus.TypePlayerJoined, 5, eventbus.PlayerEvent{UUID: in.Identity.UUID.String(), Name: in.Identity.Name})
	s.metrics.SetPlayers(len(s.players))
	return nil
}

// remove убирает игрока из мира, сохраняет его данные и освобождает чанки
func (s *Scheduler) remove(p *player, reason string) {
	delete(s.players, p.session)
	if s.byUUID[p.identity.UUID] == p {
		delete(s.byUUID, p.identity.UUID)
	}
	s.world.Entities().Remove(p.ent.ID)
	s.releaseAll(p)

	if s.opts.PlayerData != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		err := s.opts.PlayerData.Save(ctx, p.identity.UUID, record(p.ent))
		cancel()
		if err != nil {
			s.log.Error("Данные игрока %s не сохранены: %v", p.identity.Name, err)
		}
	}

	s.log.Info("Игрок %s вышел: %s", p.identity.Name, reason)
	s.broadcast(&protocol.SystemChat{Content: p.identity.Name + " left the game"})
	s.publish(eventbus.TypePlayerQuit, 5, eventbus.PlayerEvent{UUID: p.identity.UUID.String(), Name: p.identity.Name, Reason: reason})
	s.metrics.SetPlayers(len(s.players))
}

func record(e *entity.Entity) playerdata.Record {
	return playerdata.Record{Pos: e.Pos, Yaw: e.Yaw, Pitch: e.Pitch, OnGround: e.OnGround}
}

func (s *Scheduler) move(p *player, in *Move) error {
	pos := p.ent.Pos
	yaw, pitch := p.ent.Yaw, p.ent.Pitch
	if in.HasPos {
		if !in.Pos.IsFinite() {
			p.client.Disconnect("Invalid move packet received")
			return fmt.Errorf("non-finite position from %s", p.identity.Name)
		}
		pos = in.Pos
	}
	if in.HasRot {
		yaw, pitch = in.Yaw, in.Pitch
	}
	from, to, ok := s.world.Entities().Move(p.ent.ID, pos, yaw, pitch, in.OnGround)
	if ok && from != to {
		s.setView(p, to, p.radius)
	}
	return nil
}

func (s *Scheduler) inReach(p *player, pos vec.BlockPos) bool {
	eye := p.ent.Pos.Add(vec.Vec3{Y: eyeHeight})
	return eye.DistanceTo(pos.Center()) <= Reach
}

// revert возвращает клиенту настоящее состояние блока после отклонённого действия
func (s *Scheduler) revert(p *player, pos vec.BlockPos) {
	if !p.sent(pos.Chunk()) {
		return
	}
	if state, ok := s.world.Block(pos); ok {
		p.send(&protocol.BlockUpdate{Position: pos, StateID: int32(state)})
	}
}

func (s *Scheduler) breakBlock(p *player, in *BreakBlock) error {
	p.ack(in.Sequence)
	if !p.sent(in.Pos.Chunk()) || !s.inReach(p, in.Pos) {
		s.revert(p, in.Pos)
		return nil
	}
	if err := s.world.BreakBlock(in.Pos, p.ent.ID); err != nil {
		s.revert(p, in.Pos)
		if errors.Is(err, block.ErrUnbreakable) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) interact(p *player, in *Interact) error {
	p.ack(in.Sequence)
	if !p.sent(in.Pos.Chunk()) || !s.inReach(p, in.Pos) {
		s.revert(p, in.Pos)
		return nil
	}
	if err := s.world.Interact(in.Pos, in.Face, p.ent.ID, s.opts.PlaceState); err != nil {
		s.revert(p, in.Pos)
		if dx, dy, dz, ok := protocol.FaceOffset(in.Face); ok {
			s.revert(p, in.Pos.Add(dx, dy, dz))
		}
		return err
	}
	return nil
}

func validChat(text string) bool {
	for _, r := range text {
		if r < 0x20 || r == 0x7F || r == '§' {
			return false
		}
	}
	return true
}

func (s *Scheduler) chat(p *player, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !validChat(text) {
		p.client.Disconnect("Illegal characters in chat")
		return
	}

	now := s.world.CurrentTick()
	if now-p.chatStart >= s.chatTicks || p.chatCount == 0 {
		p.chatStart = now
		p.chatCount = 0
	}
	p.chatCount++
	if p.chatCount > chatLimit {
		p.send(&protocol.SystemChat{Content: "You are sending messages too fast"})
		return
	}

	s.log.Info("<%s> %s", p.identity.Name, text)
	s.broadcast(&protocol.SystemChat{Content: fmt.Sprintf("<%s> %s", p.identity.Name, text)})
	s.publish(eventbus.TypeChat, 1, eventbus.ChatEvent{UUID: p.identity.UUID.String(), Name: p.identity.Name, Message: text})
}

func (s *Scheduler) broadcast(pkt protocol.Packet) {
	for _, p := range s.sortedPlayers() {
		p.send(pkt)
	}
}

// autosave записывает грязные чанки и данные игроков в фоне. Если прошлое
// сохранение ещё идёт, текущее пропускается.
func (s *Scheduler) autosave() {
	if !s.saving.CompareAndSwap(false, true) {
		s.log.Warn("Автосохранение пропущено: предыдущее ещё не завершено")
		return
	}
	recs := make(map[uuid.UUID]playerdata.Record, len(s.players))
	for _, p := range s.players {
		recs[p.identity.UUID] = record(p.ent)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.saving.Store(false)

		start := time.Now()
		n, err := s.store.FlushDirty()
		if err != nil {
			s.log.Error("Автосохранение чанков: %v", err)
		}
		swept := s.store.Sweep()
		if s.opts.PlayerData != nil && len(recs) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
			if err := s.opts.PlayerData.BatchSave(ctx, recs); err != nil {
				s.log.Error("Автосохранение игроков: %v", err)
			}
			cancel()
		}
		s.log.Info("Автосохранение: %d чанков записано, %d выгружено за %v", n, swept, time.Since(start))
	}()
}

func (s *Scheduler) publish(eventType string, priority int, payload interface{}) {
	if s.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, priority, payload)
	if err != nil {
		s.log.Error("Событие %s: %v", eventType, err)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("Очередь событий переполнена, %s отброшено", eventType)
	}
}

// publishLoop отправляет события в шину вне тик-цикла
func (s *Scheduler) publishLoop() {
	defer close(s.pubDone)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		if err := s.opts.Bus.Publish(ctx, ev); err != nil {
			s.log.Warn("Публикация %s: %v", ev.EventType, err)
		}
		cancel()
	}
}

func (s *Scheduler) publishSnapshot() {
	snap := make([]PlayerInfo, 0, len(s.players))
	for _, p := range s.sortedPlayers() {
		sent := 0
		for _, ok := range p.chunks {
			if ok {
				sent++
			}
		}
		snap = append(snap, PlayerInfo{
			EntityID:     p.ent.ID,
			Name:         p.identity.Name,
			UUID:         p.identity.UUID,
			Pos:          p.ent.Pos,
			Chunk:        p.center,
			ViewDistance: int(p.radius),
			ChunksSent:   sent,
			JoinedAt:     p.joinedAt,
		})
	}
	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()
}

// Players возвращает снимок игроков на конец последнего тика
func (s *Scheduler) Players() []PlayerInfo {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	out := make([]PlayerInfo, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// CurrentTick возвращает номер последнего выполненного тика
func (s *Scheduler) CurrentTick() uint64 {
	return s.world.CurrentTick()
}

// Close останавливает Run, убирает всех игроков (с сохранением их данных)
// и дожидается фоновых сохранений
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	stop := s.cancelRun
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.running.Wait()

	for _, p := range s.sortedPlayers() {
		s.remove(p, "Server closed")
	}
	s.publishSnapshot()
	s.bg.Wait()
	close(s.events)
	<-s.pubDone
}
