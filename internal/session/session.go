// Package session ведёт одно клиентское соединение через фазы протокола:
// Handshaking, Status или Login, Configuration, Play. Входящие пакеты Play
// превращаются в намерения для тик-цикла, исходящие идут через Outbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/tick"
)

var (
	// ErrTimeout - клиент не ответил на keepalive или не уложился в
	// срок входа
	ErrTimeout = errors.New("session: timed out")
	// ErrClosed - сессия закрыта, пакет не поставлен в очередь
	ErrClosed = errors.New("session: closed")
)

// Причины отключения, которые видит игрок
const (
	ReasonTimedOut       = "Timed out"
	ReasonOutboxOverflow = "Outbox overflow"
	ReasonServerClosed   = "Server closed"
	ReasonInternal       = "Internal server error"
)

const (
	readBufferSize    = 32 << 10
	closeWriteTimeout = 2 * time.Second
)

// Intents принимает намерения игроков. Реализуется tick.Scheduler.
type Intents interface {
	Submit(in tick.Intent) error
}

// StatusInfo - данные для ответа в фазе Status
type StatusInfo struct {
	Online int
	Max    int
	MOTD   string
}

// Config - общие для всех сессий параметры
type Config struct {
	Schema  *protocol.Schema
	Auth    auth.Provider
	Intents Intents
	Metrics *metrics.Metrics

	// Status возвращает текущие счётчики для Status Response
	Status func() StatusInfo
	// Admit занимает место игрока при Login Start. Ошибка отклоняет вход,
	// её текст (или Reason у *auth.Rejection) уходит клиенту.
	Admit func() (release func(), err error)

	VersionName          string
	CompressionThreshold int // < 0 - без сжатия
	HandshakeTimeout     time.Duration
	KeepAliveInterval    time.Duration
	KeepAliveTimeout     time.Duration
	AuthTimeout          time.Duration
	OutboxBytes          int
}

func (c Config) withDefaults() Config {
	if c.VersionName == "" {
		c.VersionName = "1.21.1"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 30 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 5 * time.Second
	}
	if c.OutboxBytes <= 0 {
		c.OutboxBytes = 8 << 20
	}
	if c.Auth == nil {
		c.Auth = auth.OfflineProvider{}
	}
	return c
}

// Session - одно соединение. Фазу меняет только читающая горутина и Close.
type Session struct {
	id   uint64
	conn net.Conn
	cfg  Config
	log  *logging.Logger

	phase atomic.Int32

	dec *protocol.Decoder // принадлежит читающей горутине

	encMu      sync.Mutex // кодирование и смена фазы идут под ним
	enc        *protocol.Encoder
	finishSent bool
	out        *Outbox

	// состояние читающей горутины
	ctx           context.Context
	clientVersion int32
	statusSent    bool
	loginStarted  bool
	awaitingCreds bool
	loginDone     bool
	creds         auth.Credentials
	identity      auth.Identity
	viewDistance  int
	release       func()

	kaMu      sync.Mutex
	kaPending bool
	kaID      int64
	kaSent    time.Time
	latency   time.Duration
	kaStart   chan struct{}

	joinMu  sync.Mutex
	joined  bool
	closing bool
	seq     atomic.Uint64

	closeOnce  sync.Once
	cause      error
	reason     string
	done       chan struct{}
	writerDone chan struct{}
}

// New создаёт сессию поверх принятого соединения
func New(id uint64, conn net.Conn, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		log:        logging.GetSessionLogger(),
		dec:        protocol.NewDecoder(cfg.Schema, protocol.Serverbound),
		enc:        protocol.NewEncoder(cfg.Schema, protocol.Clientbound),
		out:        NewOutbox(cfg.OutboxBytes),
		kaStart:    make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.phase.Store(int32(protocol.PhaseHandshaking))
	return s
}

// ID реализует tick.Client
func (s *Session) ID() uint64 { return s.id }

// Phase возвращает текущую фазу
func (s *Session) Phase() protocol.Phase {
	return protocol.Phase(s.phase.Load())
}

// Identity возвращает личность игрока после успешного входа
func (s *Session) Identity() auth.Identity {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	return s.identity
}

// RemoteAddr возвращает адрес клиента
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Latency - время ответа на последний keepalive
func (s *Session) Latency() time.Duration {
	s.kaMu.Lock()
	defer s.kaMu.Unlock()
	return s.latency
}

// Done закрывается, когда сессия начала закрываться
func (s *Session) Done() <-chan struct{} { return s.done }

// Serve обслуживает соединение до его закрытия. Отмена ctx закрывает
// сессию с причиной "Server closed".
func (s *Session) Serve(ctx context.Context) error {
	s.ctx = ctx
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		s.log.Warn("session %d: set deadline: %v", s.id, err)
	}

	go s.writeLoop()
	go s.keepAliveLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close(ReasonServerClosed, nil)
		case <-s.done:
		}
	}()

	s.readLoop()
	s.Close("", nil)
	<-s.writerDone

	if s.release != nil {
		s.release()
		s.release = nil
	}
	from := protocol.Phase(s.phase.Swap(int32(protocol.PhaseClosed)))
	s.cfg.Metrics.SessionPhase(from.String(), protocol.PhaseClosed.String())
	return s.cause
}

// Send реализует tick.Client: ставит пакет Play в очередь отправки
func (s *Session) Send(p protocol.Packet) error {
	return s.enqueue(protocol.PhasePlay, p, nil)
}

// Disconnect реализует tick.Client
func (s *Session) Disconnect(reason string) {
	s.Close(reason, nil)
}

// Close переводит сессию в Closing: отправляет причину, если фаза это
// позволяет, и останавливает чтение. Повторные вызовы ничего не делают.
func (s *Session) Close(reason string, cause error) {
	s.closeOnce.Do(func() {
		s.encMu.Lock()
		prev := protocol.Phase(s.phase.Swap(int32(protocol.PhaseClosing)))
		if reason != "" && prev.SupportsDisconnect() {
			var pkt protocol.Packet = &protocol.Disconnect{Reason: reason}
			if prev == protocol.PhaseLogin {
				pkt = protocol.NewLoginDisconnect(reason)
			}
			frame, err := s.enc.Encode(prev, pkt)
			if err == nil {
				s.out.PushFinal(frame)
			} else {
				s.log.Error("session %d: encode disconnect: %v", s.id, err)
			}
		}
		s.reason = reason
		s.cause = cause
		s.out.Close()
		s.encMu.Unlock()

		s.cfg.Metrics.SessionPhase(prev.String(), protocol.PhaseClosing.String())
		_ = s.conn.SetReadDeadline(time.Now())
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		close(s.done)

		s.joinMu.Lock()
		s.closing = true
		joined := s.joined
		s.joinMu.Unlock()
		if joined {
			leave := &tick.Leave{Header: s.nextHeader(), Reason: reason}
			if err := s.cfg.Intents.Submit(leave); err != nil && !errors.Is(err, tick.ErrStopped) {
				s.log.Error("session %d: submit leave: %v", s.id, err)
			}
		}

		switch {
		case cause != nil:
			s.log.Info("session %d closed in %s: %s (%v)", s.id, prev, reason, cause)
		case reason != "":
			s.log.Info("session %d closed in %s: %s", s.id, prev, reason)
		default:
			s.log.Debug("session %d closed in %s", s.id, prev)
		}
	})
}

func (s *Session) nextHeader() tick.Header {
	return tick.Header{Session: s.id, Seq: s.seq.Add(1)}
}

// advance меняет фазу, если сессия не начала закрываться
func (s *Session) advance(from, to protocol.Phase) bool {
	s.encMu.Lock()
	ok := s.phase.CompareAndSwap(int32(from), int32(to))
	s.encMu.Unlock()
	if ok {
		s.cfg.Metrics.SessionPhase(from.String(), to.String())
	}
	return ok
}

// enqueue кодирует пакет и ставит кадр в очередь. after выполняется под
// тем же замком сразу после постановки (нужно для SetCompression).
func (s *Session) enqueue(phase protocol.Phase, p protocol.Packet, after func()) error {
	s.encMu.Lock()
	if s.Phase() != phase {
		s.encMu.Unlock()
		return ErrClosed
	}
	frame, err := s.enc.Encode(phase, p)
	if err != nil {
		s.encMu.Unlock()
		return fmt.Errorf("encode %T: %w", p, err)
	}
	err = s.out.Push(frame)
	if err == nil && after != nil {
		after()
	}
	s.encMu.Unlock()

	switch {
	case err == nil:
		s.cfg.Metrics.Packet(phase.String(), "out")
		return nil
	case errors.Is(err, ErrOutboxOverflow):
		s.Close(ReasonOutboxOverflow, err)
		return err
	default:
		return ErrClosed
	}
}

func (s *Session) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.dec.Feed(buf[:n])
			if !s.drainFrames() {
				return
			}
		}
		if err != nil {
			s.readFailed(err)
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	if s.Phase() >= protocol.PhaseClosing {
		return
	}
	switch {
	case errors.Is(err, io.EOF):
		s.Close("", nil)
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.Close(ReasonTimedOut, ErrTimeout)
	default:
		s.Close("", fmt.Errorf("read: %w", err))
	}
}

// drainFrames разбирает все полные кадры. false - сессия закрывается.
func (s *Session) drainFrames() bool {
	for {
		phase := s.Phase()
		if phase >= protocol.PhaseClosing {
			return false
		}
		frame, err := s.dec.Next(phase)
		if errors.Is(err, protocol.ErrNeedMoreBytes) {
			return true
		}
		if err == nil {
			s.cfg.Metrics.Packet(phase.String(), "in")
			err = s.handle(phase, frame.Packet)
		}
		if err != nil {
			s.fail(err)
			return false
		}
	}
}

func (s *Session) fail(err error) {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		s.cfg.Metrics.ProtocolError(pe.Kind.String())
		s.log.Warn("session %d (%s): %v", s.id, s.RemoteAddr(), err)
		s.Close("Protocol error: "+pe.Kind.String(), err)
		return
	}
	if errors.Is(err, tick.ErrStopped) {
		s.Close(ReasonServerClosed, nil)
		return
	}
	s.log.Error("session %d: %v", s.id, err)
	s.Close(ReasonInternal, err)
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("session %d: close conn: %v", s.id, err)
		}
	}()

	for {
		frames, open := s.out.Pop()
		for _, f := range frames {
			if _, err := s.conn.Write(f); err != nil {
				s.Close("", fmt.Errorf("write: %w", err))
				return
			}
		}
		if !open {
			return
		}
	}
}
