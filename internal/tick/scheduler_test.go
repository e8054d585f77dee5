package tick

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/eventbus"
	"github.com/annel0/blockverse/internal/playerdata"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/block/implementations"
	"github.com/annel0/blockverse/internal/world/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Плоский мир: поверхность (трава) на y = MinY+3
const surfaceY = chunk.MinY + 3

type fakeClient struct {
	id uint64

	mu           sync.Mutex
	packets      []protocol.Packet
	disconnected string
}

func (c *fakeClient) ID() uint64 { return c.id }

func (c *fakeClient) Send(p protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
	return nil
}

func (c *fakeClient) Disconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = reason
}

func (c *fakeClient) take() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.packets
	c.packets = nil
	return out
}

func (c *fakeClient) peek() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Packet(nil), c.packets...)
}

func ofType[T protocol.Packet](packets []protocol.Packet) []T {
	var out []T
	for _, p := range packets {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func chatLines(packets []protocol.Packet) []string {
	var out []string
	for _, m := range ofType[*protocol.SystemChat](packets) {
		out = append(out, m.Content)
	}
	return out
}

type harness struct {
	t     *testing.T
	store *chunk.Store
	world *world.World
	sched *Scheduler
	data  *playerdata.MemoryRepo
	seq   uint64
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := chunk.Open(chunk.Options{
		Dir:       t.TempDir(),
		Generator: chunk.Flat{Layers: []chunk.StateID{block.Bedrock, block.Stone, block.Dirt, block.GrassBlock}},
	})
	require.NoError(t, err)

	blocks := block.NewRegistry()
	implementations.RegisterDefaults(blocks)
	blocks.Freeze()
	entities := entity.NewRegistry()
	entity.RegisterDefaults(entities)
	entities.Freeze()

	w := world.New(world.Options{
		Store:    store,
		Blocks:   blocks,
		Entities: entities,
		Spawn:    vec.Vec3{X: 8.5, Y: surfaceY + 1, Z: 8.5},
	})

	data := playerdata.NewMemoryRepo()
	opts.World = w
	opts.ViewDistance = 2
	opts.MaxPlayers = 10
	if opts.PlayerData == nil {
		opts.PlayerData = data
	}
	sched, err := New(opts)
	require.NoError(t, err)

	h := &harness{t: t, store: store, world: w, sched: sched, data: data}
	t.Cleanup(func() {
		sched.Close()
		require.NoError(t, store.ShutdownFlushAll())
	})
	return h
}

func (h *harness) submit(in Intent) {
	h.t.Helper()
	h.seq++
	in.header().Seq = h.seq
	require.NoError(h.t, h.sched.Submit(in))
}

func (h *harness) join(id uint64, name string) *fakeClient {
	h.t.Helper()
	c := &fakeClient{id: id}
	h.submit(&Join{
		Header:   Header{Session: id},
		Client:   c,
		Identity: auth.Identity{Name: name, UUID: auth.OfflineUUID(name)},
	})
	return c
}

// stepUntil выполняет тики, пока cond не станет истинным; фоновые загрузки
// чанков завершаются между тиками.
func (h *harness) stepUntil(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.sched.Step()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatal("условие не выполнено за отведённое время")
}

func chunksSent(c *fakeClient) map[vec.ChunkPos]bool {
	out := make(map[vec.ChunkPos]bool)
	for _, cd := range ofType[*protocol.ChunkData](c.peek()) {
		out[cd.Pos()] = true
	}
	return out
}

func (h *harness) joinAndLoad(id uint64, name string) *fakeClient {
	h.t.Helper()
	c := h.join(id, name)
	h.stepUntil(func() bool { return len(chunksSent(c)) == 25 })
	return c
}

func TestScheduler_JoinSequenceAndView(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.join(1, "Steve")
	h.sched.Step()

	first := c.peek()
	require.GreaterOrEqual(t, len(first), 4)
	login, ok := first[0].(*protocol.LoginPlay)
	require.True(t, ok, "первым идёт Login (Play), получено %T", first[0])
	assert.Equal(t, int32(2), login.ViewDistance)
	assert.Equal(t, []string{"minecraft:overworld"}, login.DimensionNames)
	assert.IsType(t, &protocol.GameEvent{}, first[1])
	tele, ok := first[2].(*protocol.SyncPlayerPosition)
	require.True(t, ok)
	assert.Equal(t, 8.5, tele.X)
	assert.Equal(t, &protocol.SetCenterChunk{X: 0, Z: 0}, first[3])

	h.stepUntil(func() bool { return len(chunksSent(c)) == 25 })
	sent := chunksSent(c)
	for _, pos := range vec.Square(vec.ChunkPos{}, 2) {
		assert.True(t, sent[pos], "чанк %v не отправлен", pos)
		assert.Equal(t, 1, h.store.Refs(pos))
	}
	assert.Len(t, ofType[*protocol.ChunkData](c.peek()), 25, "каждый чанк отправляется один раз")

	players := h.sched.Players()
	require.Len(t, players, 1)
	assert.Equal(t, "Steve", players[0].Name)
	assert.Equal(t, 25, players[0].ChunksSent)
}

func TestScheduler_MoveShiftsWindow(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.joinAndLoad(1, "Steve")
	c.take()

	h.submit(&Move{Header: Header{Session: 1}, Pos: vec.Vec3{X: 24, Y: surfaceY + 1, Z: 8}, HasPos: true, OnGround: true})
	h.stepUntil(func() bool { return len(chunksSent(c)) == 5 })

	packets := c.peek()
	assert.Equal(t, &protocol.SetCenterChunk{X: 1, Z: 0}, ofType[*protocol.SetCenterChunk](packets)[0])
	unloaded := ofType[*protocol.UnloadChunk](packets)
	require.Len(t, unloaded, 5)
	for _, u := range unloaded {
		assert.Equal(t, int32(-2), u.X)
		assert.Equal(t, 0, h.store.Refs(u.Pos()))
	}
	for pos := range chunksSent(c) {
		assert.Equal(t, int32(3), pos.X)
	}
}

func TestScheduler_ViewDistanceChange(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.joinAndLoad(1, "Steve")
	c.take()

	// радиус больше серверного ограничивается им, меньше минимума - поднимается
	h.submit(&ViewDistance{Header: Header{Session: 1}, Radius: 1})
	h.sched.Step()
	assert.Empty(t, ofType[*protocol.UnloadChunk](c.peek()))
}

func TestScheduler_PlayersSeeEachOther(t *testing.T) {
	h := newHarness(t, Options{})
	steve := h.joinAndLoad(1, "Steve")
	alex := h.joinAndLoad(2, "Alex")
	h.sched.Step()

	steveID := ofType[*protocol.LoginPlay](steve.peek())[0].EntityID
	alexID := ofType[*protocol.LoginPlay](alex.peek())[0].EntityID

	spawned := ofType[*protocol.SpawnEntity](steve.take())
	require.Len(t, spawned, 1)
	assert.Equal(t, alexID, spawned[0].EntityID)
	assert.Equal(t, int32(entity.TypePlayer), spawned[0].Type)
	spawned = ofType[*protocol.SpawnEntity](alex.take())
	require.Len(t, spawned, 1)
	assert.Equal(t, steveID, spawned[0].EntityID)

	h.submit(&Move{Header: Header{Session: 2}, Pos: vec.Vec3{X: 10, Y: surfaceY + 1, Z: 10}, HasPos: true})
	h.sched.Step()
	tp := ofType[*protocol.TeleportEntity](steve.take())
	require.Len(t, tp, 1)
	assert.Equal(t, 10.0, tp[0].X)
	assert.Empty(t, ofType[*protocol.TeleportEntity](alex.take()), "своё движение не отражается")

	h.submit(&Leave{Header: Header{Session: 2}, Reason: "quit"})
	h.sched.Step()
	packets := steve.take()
	removed := ofType[*protocol.RemoveEntities](packets)
	require.Len(t, removed, 1)
	assert.Equal(t, []int32{alexID}, removed[0].EntityIDs)
	assert.Contains(t, chatLines(packets), "Alex left the game")
}

func TestScheduler_BreakBlock(t *testing.T) {
	h := newHarness(t, Options{})
	steve := h.joinAndLoad(1, "Steve")
	alex := h.joinAndLoad(2, "Alex")
	steve.take()
	alex.take()

	pos := vec.BlockPos{X: 9, Y: surfaceY, Z: 9}
	h.submit(&BreakBlock{Header: Header{Session: 1}, Pos: pos, Sequence: 7})
	h.sched.Step()

	state, ok := h.world.Block(pos)
	require.True(t, ok)
	assert.Equal(t, block.Air, state)

	packets := steve.take()
	assert.Contains(t, ofType[*protocol.BlockUpdate](packets), &protocol.BlockUpdate{Position: pos, StateID: int32(block.Air)})
	assert.Equal(t, []*protocol.AcknowledgeBlockChange{{Sequence: 7}}, ofType[*protocol.AcknowledgeBlockChange](packets))
	// подтверждение идёт после обновлений блоков
	assert.IsType(t, &protocol.AcknowledgeBlockChange{}, packets[len(packets)-1])

	other := alex.take()
	assert.Contains(t, ofType[*protocol.BlockUpdate](other), &protocol.BlockUpdate{Position: pos, StateID: int32(block.Air)})
	assert.Empty(t, ofType[*protocol.AcknowledgeBlockChange](other))
}

func TestScheduler_BreakOutOfReachIsReverted(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.joinAndLoad(1, "Steve")
	c.take()

	far := vec.BlockPos{X: 30, Y: surfaceY, Z: 30}
	h.submit(&BreakBlock{Header: Header{Session: 1}, Pos: far, Sequence: 3})
	h.sched.Step()

	state, _ := h.world.Block(far)
	assert.Equal(t, block.GrassBlock, state)
	packets := c.take()
	assert.Equal(t, []*protocol.BlockUpdate{{Position: far, StateID: int32(block.GrassBlock)}}, ofType[*protocol.BlockUpdate](packets))
	assert.Equal(t, []*protocol.AcknowledgeBlockChange{{Sequence: 3}}, ofType[*protocol.AcknowledgeBlockChange](packets))
}

func TestScheduler_InteractPlacesBlock(t *testing.T) {
	h := newHarness(t, Options{PlaceState: block.OakPlanks})
	c := h.joinAndLoad(1, "Steve")
	c.take()

	// грань 1 - верх: ставим доски поверх травы рядом с игроком
	h.submit(&Interact{Header: Header{Session: 1}, Pos: vec.BlockPos{X: 10, Y: surfaceY, Z: 8}, Face: 1, Sequence: 4})
	h.sched.Step()

	placed := vec.BlockPos{X: 10, Y: surfaceY + 1, Z: 8}
	state, _ := h.world.Block(placed)
	assert.Equal(t, block.OakPlanks, state)
	assert.Contains(t, ofType[*protocol.BlockUpdate](c.take()), &protocol.BlockUpdate{Position: placed, StateID: int32(block.OakPlanks)})
}

func TestScheduler_Chat(t *testing.T) {
	bus := eventbus.NewMemoryBus(32)
	var mu sync.Mutex
	var events []string
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		events = append(events, ev.EventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	h := newHarness(t, Options{Bus: bus})
	steve := h.join(1, "Steve")
	alex := h.join(2, "Alex")
	h.sched.Step()
	steve.take()
	alex.take()

	h.submit(&Chat{Header: Header{Session: 1}, Text: "  hello  "})
	h.submit(&Chat{Header: Header{Session: 1}, Text: "   "})
	h.sched.Step()
	assert.Equal(t, []string{"<Steve> hello"}, chatLines(alex.take()))
	assert.Equal(t, []string{"<Steve> hello"}, chatLines(steve.take()))

	for i := 0; i < 6; i++ {
		h.submit(&Chat{Header: Header{Session: 2}, Text: "spam"})
	}
	h.sched.Step()
	assert.Len(t, chatLines(steve.take()), 5, "в окне 2 с не больше 5 сообщений")
	assert.Contains(t, chatLines(alex.take()), "You are sending messages too fast")

	h.submit(&Chat{Header: Header{Session: 2}, Text: "bad§c"})
	h.sched.Step()
	alex.mu.Lock()
	assert.Equal(t, "Illegal characters in chat", alex.disconnected)
	alex.mu.Unlock()

	h.sched.Close()
	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, eventbus.TypePlayerJoined)
	assert.Contains(t, events, eventbus.TypeChat)
	assert.Contains(t, events, eventbus.TypePlayerQuit)
}

type bogusIntent struct{ Header }

func TestScheduler_IntentFailureIsIsolated(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.join(1, "Steve")
	h.sched.Step()
	c.take()

	h.submit(&bogusIntent{Header{Session: 1}})
	h.submit(&Move{Header: Header{Session: 1}, Pos: vec.Vec3{X: 1, Y: 2, Z: 3}, HasPos: true})
	h.submit(&Chat{Header: Header{Session: 1}, Text: "still here"})
	h.sched.Step()

	assert.Contains(t, chatLines(c.take()), "<Steve> still here")
	e := h.world.Entities().All()[0]
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, e.Pos)
}

func TestScheduler_LeaveReleasesAndSaves(t *testing.T) {
	h := newHarness(t, Options{})
	h.joinAndLoad(1, "Steve")

	h.submit(&Move{Header: Header{Session: 1}, Pos: vec.Vec3{X: 5, Y: surfaceY + 1, Z: 6}, Yaw: 90, HasPos: true, HasRot: true})
	h.submit(&Leave{Header: Header{Session: 1}, Reason: "quit"})
	h.sched.Step()

	for _, pos := range vec.Square(vec.ChunkPos{}, 2) {
		assert.Equal(t, 0, h.store.Refs(pos))
	}
	assert.Equal(t, 0, h.world.Entities().Len())
	assert.Empty(t, h.sched.Players())

	rec, found, err := h.data.Load(context.Background(), auth.OfflineUUID("Steve"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5.0, rec.Pos.X)
	assert.Equal(t, float32(90), rec.Yaw)

	// при повторном входе позиция восстанавливается
	c := h.join(3, "Steve")
	h.sched.Step()
	tele := ofType[*protocol.SyncPlayerPosition](c.peek())
	require.Len(t, tele, 1)
	assert.Equal(t, 5.0, tele[0].X)
	assert.Equal(t, float32(90), tele[0].Yaw)
}

func TestScheduler_DuplicateLoginKicksOld(t *testing.T) {
	h := newHarness(t, Options{})
	old := h.join(1, "Steve")
	h.sched.Step()
	h.join(2, "Steve")
	h.sched.Step()

	old.mu.Lock()
	assert.Equal(t, "You logged in from another location", old.disconnected)
	old.mu.Unlock()
	assert.Len(t, h.sched.Players(), 1)

	// Leave старой сессии не трогает новую
	h.submit(&Leave{Header: Header{Session: 1}})
	h.sched.Step()
	assert.Len(t, h.sched.Players(), 1)
}

func TestScheduler_InvalidMoveDisconnects(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.join(1, "Steve")
	h.sched.Step()

	h.submit(&Move{Header: Header{Session: 1}, Pos: vec.Vec3{X: math.NaN()}, HasPos: true})
	h.sched.Step()
	c.mu.Lock()
	assert.Equal(t, "Invalid move packet received", c.disconnected)
	c.mu.Unlock()
}

func TestScheduler_Autosave(t *testing.T) {
	h := newHarness(t, Options{AutosaveTicks: 1})
	h.joinAndLoad(1, "Steve")
	require.NoError(t, h.world.BreakBlock(vec.BlockPos{X: 1, Y: surfaceY, Z: 1}, 0))

	h.stepUntil(func() bool {
		c, ok := h.store.Peek(vec.ChunkPos{})
		return ok && !c.Dirty() && !h.sched.saving.Load()
	})
	_, found, err := h.data.Load(context.Background(), auth.OfflineUUID("Steve"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, Options{Period: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, h.sched.Run(ctx))
	assert.Greater(t, h.sched.CurrentTick(), uint64(2))

	h.sched.Close()
	assert.ErrorIs(t, h.sched.Submit(&Chat{}), ErrStopped)
}

func TestScheduler_CurrentTickReadDuringRun(t *testing.T) {
	h := newHarness(t, Options{Period: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var (
		wg   sync.WaitGroup
		last uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			cur := h.sched.CurrentTick()
			if cur < last {
				t.Errorf("номер тика уменьшился: %d -> %d", last, cur)
				return
			}
			last = cur
		}
	}()

	require.NoError(t, h.sched.Run(ctx))
	wg.Wait()
	assert.Greater(t, h.sched.CurrentTick(), uint64(0))
	assert.LessOrEqual(t, last, h.sched.CurrentTick())
}
