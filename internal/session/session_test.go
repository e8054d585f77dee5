package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/tick"
)

var schema = protocol.MustSchema(767)

type recordedIntents struct {
	mu  sync.Mutex
	all []tick.Intent
}

func (r *recordedIntents) Submit(in tick.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, in)
	return nil
}

func (r *recordedIntents) snapshot() []tick.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tick.Intent(nil), r.all...)
}

func (r *recordedIntents) waitFor(t *testing.T, n int) []tick.Intent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

// testClient - клиентская сторона соединения
type testClient struct {
	t     *testing.T
	conn  net.Conn
	enc   *protocol.Encoder
	dec   *protocol.Decoder
	phase protocol.Phase
	buf   []byte
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{
		t:     t,
		conn:  conn,
		enc:   protocol.NewEncoder(schema, protocol.Serverbound),
		dec:   protocol.NewDecoder(schema, protocol.Clientbound),
		phase: protocol.PhaseHandshaking,
		buf:   make([]byte, 64<<10),
	}
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	frame, err := c.enc.Encode(c.phase, p)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *testClient) next() (protocol.Packet, error) {
	for {
		frame, err := c.dec.Next(c.phase)
		if err == nil {
			return frame.Packet, nil
		}
		if !errors.Is(err, protocol.ErrNeedMoreBytes) {
			return nil, err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
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

func expectPacket[T protocol.Packet](c *testClient) T {
	c.t.Helper()
	p, err := c.next()
	require.NoError(c.t, err)
	out, ok := p.(T)
	require.Truef(c.t, ok, "got %T", p)
	return out
}

func (c *testClient) handshake(version, intent int32) {
	c.send(&protocol.Handshake{ProtocolVersion: version, ServerAddress: "localhost", ServerPort: 25565, NextState: intent})
	if intent == protocol.IntentStatus {
		c.phase = protocol.PhaseStatus
	} else {
		c.phase = protocol.PhaseLogin
	}
}

func (c *testClient) expectEOF() {
	c.t.Helper()
	_, err := c.next()
	require.Error(c.t, err)
	assert.True(c.t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), "got %v", err)
}

// login проходит Login и ждёт начала Configuration
func (c *testClient) login(name string) *protocol.LoginSuccess {
	c.t.Helper()
	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: name, UUID: auth.OfflineUUID(name)})
	p, err := c.next()
	require.NoError(c.t, err)
	if sc, ok := p.(*protocol.SetCompression); ok {
		c.enc.SetCompression(int(sc.Threshold))
		c.dec.SetCompression(int(sc.Threshold))
		p, err = c.next()
		require.NoError(c.t, err)
	}
	success, ok := p.(*protocol.LoginSuccess)
	require.Truef(c.t, ok, "got %T", p)
	c.send(&protocol.LoginAcknowledged{})
	c.phase = protocol.PhaseConfiguration
	return success
}

// configure завершает Configuration и переходит в Play
func (c *testClient) configure(viewDistance int8) {
	c.t.Helper()
	expectPacket[*protocol.FeatureFlags](c)
	packs := expectPacket[*protocol.KnownPacks](c)
	require.Equal(c.t, []protocol.KnownPack{protocol.CorePack}, packs.Packs)

	c.send(&protocol.ClientInformation{Locale: "en_us", ViewDistance: viewDistance, ChatColors: true, MainHand: 1})
	c.send(&protocol.KnownPacks{Packs: []protocol.KnownPack{protocol.CorePack}})
	for range protocol.Registries() {
		expectPacket[*protocol.RegistryData](c)
	}
	expectPacket[*protocol.FinishConfiguration](c)
	c.send(&protocol.AcknowledgeFinishConfiguration{})
	c.phase = protocol.PhasePlay
}

type harness struct {
	sess    *Session
	client  *testClient
	intents *recordedIntents
	served  chan error
	cancel  context.CancelFunc
}

func startSession(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	srv, cli := net.Pipe()
	h := &harness{intents: &recordedIntents{}, served: make(chan error, 1)}
	cfg := Config{
		Schema:               schema,
		Intents:              h.intents,
		CompressionThreshold: protocol.CompressionDisabled,
		Status: func() StatusInfo {
			return StatusInfo{Online: 3, Max: 20, MOTD: "A Blockverse Server"}
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.sess = New(1, srv, cfg)
	h.client = newTestClient(t, cli)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.served <- h.sess.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = cli.Close()
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestStatusExchange(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(767, protocol.IntentStatus)
	c.send(&protocol.StatusRequest{})
	resp := expectPacket[*protocol.StatusResponse](c)

	var st statusJSON
	require.NoError(t, json.Unmarshal([]byte(resp.JSON), &st))
	assert.Equal(t, int32(767), st.Version.Protocol)
	assert.Equal(t, "1.21.1", st.Version.Name)
	assert.Equal(t, 20, st.Players.Max)
	assert.Equal(t, 3, st.Players.Online)
	assert.Equal(t, "A Blockverse Server", st.Description.Text)

	c.send(&protocol.PingRequest{Payload: 42})
	pong := expectPacket[*protocol.PongResponse](c)
	assert.Equal(t, int64(42), pong.Payload)

	c.expectEOF()
	assert.NoError(t, h.wait(t))
	assert.Equal(t, protocol.PhaseClosed, h.sess.Phase())
}

func TestStatusAnswersOtherVersions(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(760, protocol.IntentStatus)
	c.send(&protocol.StatusRequest{})
	resp := expectPacket[*protocol.StatusResponse](c)
	assert.Contains(t, resp.JSON, `"protocol":767`)
}

func TestLoginToPlay(t *testing.T) {
	h := startSession(t, func(cfg *Config) { cfg.CompressionThreshold = 256 })
	c := h.client

	success := c.login("Steve")
	assert.Equal(t, "Steve", success.Username)
	assert.Equal(t, auth.OfflineUUID("Steve"), success.UUID)
	require.Eventually(t, func() bool { return h.sess.Phase() == protocol.PhaseConfiguration },
		time.Second, 5*time.Millisecond)

	c.configure(4)
	intents := h.intents.waitFor(t, 1)
	join, ok := intents[0].(*tick.Join)
	require.True(t, ok)
	assert.Equal(t, uint64(1), join.Session)
	assert.Equal(t, "Steve", join.Identity.Name)
	assert.Equal(t, 4, join.ViewDistance)
	assert.Same(t, h.sess, join.Client)
	assert.Equal(t, protocol.PhasePlay, h.sess.Phase())

	c.send(&protocol.SetPlayerPosition{X: 1.5, Y: 65, Z: -3.5, OnGround: true})
	c.send(&protocol.SetPlayerRotation{Yaw: 90, Pitch: 10})
	c.send(&protocol.PlayerAction{Status: protocol.ActionCancelDigging})
	c.send(&protocol.PlayerAction{Status: protocol.ActionStartDigging, Sequence: 7})
	c.send(&protocol.UseItemOn{Face: 1, Sequence: 8})
	c.send(&protocol.ChatMessage{Message: "hello"})
	c.send(&protocol.ClientInformation{Locale: "en_us", ViewDistance: 6})

	intents = h.intents.waitFor(t, 7)
	move := intents[1].(*tick.Move)
	assert.True(t, move.HasPos)
	assert.False(t, move.HasRot)
	assert.Equal(t, 1.5, move.Pos.X)
	rot := intents[2].(*tick.Move)
	assert.True(t, rot.HasRot)
	assert.False(t, rot.HasPos)
	assert.Equal(t, int32(7), intents[3].(*tick.BreakBlock).Sequence)
	assert.Equal(t, int32(8), intents[4].(*tick.Interact).Sequence)
	assert.Equal(t, "hello", intents[5].(*tick.Chat).Text)
	assert.Equal(t, 6, intents[6].(*tick.ViewDistance).Radius)

	// порядок приёма сохраняется в номерах
	for i := 1; i < len(intents); i++ {
		assert.Less(t, headerOf(intents[i-1]).Seq, headerOf(intents[i]).Seq)
	}

	require.NoError(t, h.sess.Send(&protocol.SystemChat{Content: "welcome"}))
	chat := expectPacket[*protocol.SystemChat](c)
	assert.Equal(t, "welcome", chat.Content)

	require.NoError(t, c.conn.Close())
	assert.NoError(t, h.wait(t))

	intents = h.intents.snapshot()
	leave, ok := intents[len(intents)-1].(*tick.Leave)
	require.True(t, ok)
	assert.Equal(t, uint64(1), leave.Session)
	assert.ErrorIs(t, h.sess.Send(&protocol.SystemChat{Content: "late"}), ErrClosed)
}

func headerOf(in tick.Intent) tick.Header {
	switch in := in.(type) {
	case *tick.Join:
		return in.Header
	case *tick.Move:
		return in.Header
	case *tick.BreakBlock:
		return in.Header
	case *tick.Interact:
		return in.Header
	case *tick.Chat:
		return in.Header
	case *tick.ViewDistance:
		return in.Header
	case *tick.Leave:
		return in.Header
	}
	return tick.Header{}
}

func TestDisconnectFromTickLoop(t *testing.T) {
	h := startSession(t, nil)
	c := h.client
	c.login("Alex")
	c.configure(2)
	h.intents.waitFor(t, 1)

	h.sess.Disconnect("You logged in from another location")
	d := expectPacket[*protocol.Disconnect](c)
	assert.Equal(t, "You logged in from another location", d.Reason)
	c.expectEOF()
	assert.NoError(t, h.wait(t))

	intents := h.intents.snapshot()
	leave := intents[len(intents)-1].(*tick.Leave)
	assert.Equal(t, "You logged in from another location", leave.Reason)
}

func TestOutdatedClientRejected(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(766, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "Outdated client! Please use 1.21.1", d.Text())
	c.expectEOF()
	h.wait(t)
	assert.Empty(t, h.intents.snapshot())
}

func TestOutdatedServerRejected(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(800, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "Outdated server! I'm still on 1.21.1", d.Text())
}

func TestOutOfPhasePacketClosesSession(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	// Set Player Position не существует в фазе Login
	c.phase = protocol.PhasePlay
	c.send(&protocol.SetPlayerPosition{X: 1})
	c.phase = protocol.PhaseLogin

	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "Protocol error: unknown packet", d.Text())
	c.expectEOF()

	err := h.wait(t)
	assert.True(t, protocol.IsProtocolError(err))
	assert.ErrorIs(t, err, protocol.ErrUnknownPacket)
}

func TestAcknowledgeBeforeLoginIsProtocolError(t *testing.T) {
	h := startSession(t, nil)
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginAcknowledged{})
	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Contains(t, d.Text(), "Protocol error")
	assert.True(t, protocol.IsProtocolError(h.wait(t)))
}

func TestAdmitRejectsLogin(t *testing.T) {
	h := startSession(t, func(cfg *Config) {
		cfg.Admit = func() (func(), error) { return nil, errors.New("server full") }
	})
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "server full", d.Text())
	c.expectEOF()
}

func TestAdmitSlotReleasedOnClose(t *testing.T) {
	released := make(chan struct{})
	h := startSession(t, func(cfg *Config) {
		cfg.Admit = func() (func(), error) {
			return func() { close(released) }, nil
		}
	})
	c := h.client
	c.login("Steve")
	require.NoError(t, c.conn.Close())
	h.wait(t)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("slot was not released")
	}
}

func passwordProvider(t *testing.T) auth.Provider {
	t.Helper()
	repo := auth.NewMemoryUserRepo()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	_, err = repo.CreateUser("Steve", hash, false)
	require.NoError(t, err)
	return &auth.PasswordProvider{Users: repo}
}

func TestCredentialRequested(t *testing.T) {
	h := startSession(t, func(cfg *Config) { cfg.Auth = passwordProvider(t) })
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	req := expectPacket[*protocol.LoginPluginRequest](c)
	assert.Equal(t, auth.CredentialChannel, req.Channel)

	c.send(&protocol.LoginPluginResponse{MessageID: req.MessageID, Successful: true, Data: []byte("hunter2")})
	success := expectPacket[*protocol.LoginSuccess](c)
	assert.Equal(t, "Steve", success.Username)
}

func TestWrongCredentialRejected(t *testing.T) {
	h := startSession(t, func(cfg *Config) { cfg.Auth = passwordProvider(t) })
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	req := expectPacket[*protocol.LoginPluginRequest](c)
	c.send(&protocol.LoginPluginResponse{MessageID: req.MessageID, Successful: true, Data: []byte("nope")})

	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "Invalid username or password", d.Text())
}

func TestCredentialNotUnderstood(t *testing.T) {
	h := startSession(t, func(cfg *Config) { cfg.Auth = passwordProvider(t) })
	c := h.client

	c.handshake(767, protocol.IntentLogin)
	c.send(&protocol.LoginStart{Name: "Steve"})
	req := expectPacket[*protocol.LoginPluginRequest](c)
	c.send(&protocol.LoginPluginResponse{MessageID: req.MessageID, Successful: false})

	d := expectPacket[*protocol.LoginDisconnect](c)
	assert.Equal(t, "Authentication required", d.Text())
}

func TestKeepAliveRoundTrip(t *testing.T) {
	h := startSession(t, func(cfg *Config) {
		cfg.KeepAliveInterval = 20 * time.Millisecond
		cfg.KeepAliveTimeout = time.Second
	})
	c := h.client
	c.login("Steve")

	// Keepalive может прийти между пакетами Configuration, поэтому читаем
	// до первого ping и отвечаем на него
	for {
		p, err := c.next()
		require.NoError(t, err)
		if ka, ok := p.(*protocol.KeepAlive); ok {
			c.send(&protocol.KeepAlive{ID: ka.ID})
			break
		}
	}
	require.Eventually(t, func() bool { return h.sess.Latency() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.PhaseConfiguration, h.sess.Phase())
}

func TestKeepAliveTimeout(t *testing.T) {
	h := startSession(t, func(cfg *Config) {
		cfg.KeepAliveInterval = 10 * time.Millisecond
		cfg.KeepAliveTimeout = 50 * time.Millisecond
	})
	c := h.client
	c.login("Steve")

	var reason string
	for reason == "" {
		p, err := c.next()
		require.NoError(t, err)
		if d, ok := p.(*protocol.Disconnect); ok {
			reason = d.Reason
		}
	}
	assert.Equal(t, ReasonTimedOut, reason)
	assert.ErrorIs(t, h.wait(t), ErrTimeout)
}

func TestKeepAliveWrongIDIsProtocolError(t *testing.T) {
	h := startSession(t, func(cfg *Config) {
		cfg.KeepAliveInterval = 10 * time.Millisecond
		cfg.KeepAliveTimeout = time.Second
	})
	c := h.client
	c.login("Steve")

	for {
		p, err := c.next()
		require.NoError(t, err)
		if ka, ok := p.(*protocol.KeepAlive); ok {
			c.send(&protocol.KeepAlive{ID: ka.ID + 1})
			break
		}
	}
	var reason string
	for reason == "" {
		p, err := c.next()
		require.NoError(t, err)
		if d, ok := p.(*protocol.Disconnect); ok {
			reason = d.Reason
		}
	}
	assert.Equal(t, "Protocol error: malformed packet", reason)
	assert.ErrorIs(t, h.wait(t), protocol.ErrMalformed)
}

func TestHandshakeDeadline(t *testing.T) {
	h := startSession(t, func(cfg *Config) { cfg.HandshakeTimeout = 30 * time.Millisecond })
	assert.ErrorIs(t, h.wait(t), ErrTimeout)
	h.client.expectEOF()
}

func TestServeStopsOnCancel(t *testing.T) {
	h := startSession(t, nil)
	c := h.client
	c.login("Steve")
	expectPacket[*protocol.FeatureFlags](c)
	expectPacket[*protocol.KnownPacks](c)

	h.cancel()
	d := expectPacket[*protocol.Disconnect](c)
	assert.Equal(t, ReasonServerClosed, d.Reason)
	assert.NoError(t, h.wait(t))
}
