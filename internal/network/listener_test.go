package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/playerdata"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/session"
	"github.com/annel0/blockverse/internal/tick"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/block/implementations"
	"github.com/annel0/blockverse/internal/world/entity"
)

var schema = protocol.MustSchema(767)

type stack struct {
	server *Server
	sched  *tick.Scheduler
	store  *chunk.Store
	data   *playerdata.MemoryRepo
	served chan error
}

func startServer(t *testing.T, maxPlayers int) *stack {
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
		Spawn:    vec.Vec3{X: 8.5, Y: chunk.MinY + 4, Z: 8.5},
	})
	data := playerdata.NewMemoryRepo()
	sched, err := tick.New(tick.Options{
		World:        w,
		Period:       10 * time.Millisecond,
		ViewDistance: 2,
		MaxPlayers:   maxPlayers,
		PlayerData:   data,
	})
	require.NoError(t, err)

	srv := NewServer(Options{
		Addr:       "127.0.0.1:0",
		MaxPlayers: maxPlayers,
		MOTD:       "test server",
		Session: session.Config{
			Schema:               schema,
			Auth:                 auth.OfflineProvider{},
			Intents:              sched,
			CompressionThreshold: protocol.CompressionDisabled,
		},
		Scheduler: sched,
		Store:     store,
	})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sched.Run(ctx) }()

	st := &stack{server: srv, sched: sched, store: store, data: data, served: make(chan error, 1)}
	go func() { st.served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-st.served:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return st
}

type client struct {
	t     *testing.T
	conn  net.Conn
	enc   *protocol.Encoder
	dec   *protocol.Decoder
	phase protocol.Phase
	buf   []byte
}

func dial(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{
		t:     t,
		conn:  conn,
		enc:   protocol.NewEncoder(schema, protocol.Serverbound),
		dec:   protocol.NewDecoder(schema, protocol.Clientbound),
		phase: protocol.PhaseHandshaking,
		buf:   make([]byte, 64<<10),
	}
}

func (c *client) send(p protocol.Packet) {
	c.t.Helper()
	frame, err := c.enc.Encode(c.phase, p)
	require.NoError(c.t, err)
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *client) next() (protocol.Packet, error) {
	for {
		frame, err := c.dec.Next(c.phase)
		if err == nil {
			return frame.Packet, nil
		}
		if !errors.Is(err, protocol.ErrNeedMoreBytes) {
			return nil, err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
			return nil, err
		}
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.dec.Feed(c.buf[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func expect[T protocol.Packet](c *client) T {
	c.t.Helper()
	p, err := c.next()
	require.NoError(c.t, err)
	out, ok := p.(T)
	require.Truef(c.t, ok, "got %T", p)
	return out
}

func (c *client) handshake(intent int32) {
	c.send(&protocol.Handshake{ProtocolVersion: 767, ServerAddress: "localhost", ServerPort: 25565, NextState: intent})
	c.phase = protocol.PhaseLogin
	if intent == protocol.IntentStatus {
		c.phase = protocol.PhaseStatus
	}
}

func (c *client) status() (online, max int) {
	c.t.Helper()
	c.handshake(protocol.IntentStatus)
	c.send(&protocol.StatusRequest{})
	resp := expect[*protocol.StatusResponse](c)
	var st struct {
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
		} `json:"players"`
	}
	require.NoError(c.t, json.Unmarshal([]byte(resp.JSON), &st))
	return st.Players.Online, st.Players.Max
}

// play проходит Login и Configuration
func (c *client) play(name string, viewDistance int8) {
	c.t.Helper()
	c.handshake(protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: name, UUID: auth.OfflineUUID(name)})
	success := expect[*protocol.LoginSuccess](c)
	require.Equal(c.t, name, success.Username)
	c.send(&protocol.LoginAcknowledged{})
	c.phase = protocol.PhaseConfiguration

	expect[*protocol.FeatureFlags](c)
	expect[*protocol.KnownPacks](c)
	c.send(&protocol.ClientInformation{Locale: "en_us", ViewDistance: viewDistance})
	c.send(&protocol.KnownPacks{Packs: []protocol.KnownPack{protocol.CorePack}})
	for range protocol.Registries() {
		expect[*protocol.RegistryData](c)
	}
	expect[*protocol.FinishConfiguration](c)
	c.send(&protocol.AcknowledgeFinishConfiguration{})
	c.phase = protocol.PhasePlay
}

func TestLoginToPlayReceivesViewSquare(t *testing.T) {
	st := startServer(t, 10)
	c := dial(t, st.server.Addr())
	c.play("Steve", 2)

	login := expect[*protocol.LoginPlay](c)
	assert.Equal(t, int32(2), login.ViewDistance)

	chunks := make(map[vec.ChunkPos]int)
	var center *protocol.SetCenterChunk
	for len(chunks) < 25 {
		p, err := c.next()
		require.NoError(t, err)
		switch p := p.(type) {
		case *protocol.SetCenterChunk:
			center = p
		case *protocol.ChunkData:
			require.NotNil(t, center, "Set Center Chunk must precede chunk data")
			chunks[p.Pos()]++
		case *protocol.UnloadChunk:
			t.Fatalf("unexpected unload of %v", p.Pos())
		}
	}

	assert.Equal(t, &protocol.SetCenterChunk{X: 0, Z: 0}, center)
	for _, pos := range vec.Square(vec.ChunkPos{}, 2) {
		assert.Equal(t, 1, chunks[pos], "chunk %v", pos)
	}
	assert.Len(t, chunks, 25)
	assert.Equal(t, 1, st.server.Online())
}

func TestServerFull(t *testing.T) {
	st := startServer(t, 1)

	first := dial(t, st.server.Addr())
	first.play("Steve", 2)
	expect[*protocol.LoginPlay](first)

	second := dial(t, st.server.Addr())
	second.handshake(protocol.IntentLogin)
	second.send(&protocol.LoginStart{Name: "Alex", UUID: auth.OfflineUUID("Alex")})
	d := expect[*protocol.LoginDisconnect](second)
	assert.Equal(t, "server full", d.Text())
	_, err := second.next()
	assert.ErrorIs(t, err, io.EOF)

	online, max := dial(t, st.server.Addr()).status()
	assert.Equal(t, 1, online)
	assert.Equal(t, 1, max)
}

func TestProtocolErrorClosesOnlyOffendingSession(t *testing.T) {
	st := startServer(t, 5)

	steve := dial(t, st.server.Addr())
	steve.play("Steve", 2)
	expect[*protocol.LoginPlay](steve)

	bad := dial(t, st.server.Addr())
	bad.handshake(protocol.IntentLogin)
	// Set Player Position не существует в фазе Login
	bad.phase = protocol.PhasePlay
	bad.send(&protocol.SetPlayerPosition{X: 1})
	bad.phase = protocol.PhaseLogin

	d := expect[*protocol.LoginDisconnect](bad)
	assert.Equal(t, "Protocol error: unknown packet", d.Text())
	_, err := bad.next()
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return st.server.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, st.server.Online())

	st.server.Broadcast(&protocol.SystemChat{Content: "still here"})
	for {
		p, err := steve.next()
		require.NoError(t, err)
		if m, ok := p.(*protocol.SystemChat); ok && m.Content == "still here" {
			break
		}
	}

	online, _ := dial(t, st.server.Addr()).status()
	assert.Equal(t, 1, online)
}

func TestSlotFreedAfterDisconnect(t *testing.T) {
	st := startServer(t, 1)

	first := dial(t, st.server.Addr())
	first.play("Steve", 2)
	expect[*protocol.LoginPlay](first)
	require.NoError(t, first.conn.Close())

	require.Eventually(t, func() bool { return st.server.Online() == 0 }, 2*time.Second, 10*time.Millisecond)

	second := dial(t, st.server.Addr())
	second.play("Alex", 2)
	expect[*protocol.LoginPlay](second)

	// данные первого игрока сохранены при выходе
	require.Eventually(t, func() bool { return st.data.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusCountsPlayers(t *testing.T) {
	st := startServer(t, 5)

	online, max := dial(t, st.server.Addr()).status()
	assert.Equal(t, 0, online)
	assert.Equal(t, 5, max)

	c := dial(t, st.server.Addr())
	c.play("Steve", 2)
	expect[*protocol.LoginPlay](c)

	online, _ = dial(t, st.server.Addr()).status()
	assert.Equal(t, 1, online)
}

func TestShutdownClosesSessions(t *testing.T) {
	st := startServer(t, 5)
	c := dial(t, st.server.Addr())
	c.play("Steve", 2)
	expect[*protocol.LoginPlay](c)

	require.NoError(t, st.server.Shutdown())

	var reason string
	for reason == "" {
		p, err := c.next()
		require.NoError(t, err)
		if d, ok := p.(*protocol.Disconnect); ok {
			reason = d.Reason
		}
	}
	assert.Equal(t, session.ReasonServerClosed, reason)
	assert.Equal(t, 0, st.server.Connections())
	assert.Equal(t, 1, st.data.Count())

	// порт закрыт
	_, err := net.DialTimeout("tcp", st.server.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}
