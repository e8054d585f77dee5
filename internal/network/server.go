// Package network принимает TCP соединения и запускает для каждого сессию.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/session"
)

// ErrServerFull - все места заняты. Текст уходит клиенту в Login Disconnect.
var ErrServerFull = errors.New("server full")

// Stopper останавливает тик-цикл при завершении сервера
type Stopper interface {
	Close()
}

// Flusher сохраняет изменённые чанки при завершении сервера
type Flusher interface {
	ShutdownFlushAll() error
}

// Options - параметры сервера
type Options struct {
	Addr       string
	MaxPlayers int
	MOTD       string

	// Session - общие параметры сессий; Status и Admit заполняет сервер
	Session session.Config

	Scheduler Stopper
	Store     Flusher
}

// Server принимает соединения и держит набор активных сессий
type Server struct {
	opts Options
	log  *logging.Logger

	listener net.Listener
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*session.Session
	players  int // занятые места (Login и дальше)
	closed   bool

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer создаёт сервер. Слушать порт он начинает в Listen.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:     opts,
		log:      logging.GetNetworkLogger(),
		sessions: make(map[uint64]*session.Session),
	}
	s.opts.Session.Status = s.status
	s.opts.Session.Admit = s.admit
	return s
}

// Listen открывает TCP порт
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.listener = l
	s.log.Info("Listening on %s (max players %d)", l.Addr(), s.opts.MaxPlayers)
	return nil
}

// Addr возвращает фактический адрес (полезно при порте 0)
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve принимает соединения до отмены ctx, после чего выполняет Shutdown
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown()
		case <-stop:
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return s.Shutdown()
			}
			wait := b.NextBackOff()
			s.log.Warn("Accept failed: %v; retrying in %v", err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return s.Shutdown()
			}
			continue
		}
		b.Reset()

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	id := s.nextID.Add(1)
	sess := session.New(id, conn, s.opts.Session)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.sessions[id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := sess.Serve(context.Background()); err != nil {
			s.log.Debug("Session %d from %s ended: %v", id, conn.RemoteAddr(), err)
		}
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// admit занимает место игрока; release возвращает его ровно один раз
func (s *Server) admit() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(session.ReasonServerClosed)
	}
	if s.players >= s.opts.MaxPlayers {
		return nil, ErrServerFull
	}
	s.players++

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.players--
			s.mu.Unlock()
		})
	}, nil
}

func (s *Server) status() session.StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.StatusInfo{Online: s.players, Max: s.opts.MaxPlayers, MOTD: s.opts.MOTD}
}

// Online возвращает число занятых мест
func (s *Server) Online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players
}

// Connections возвращает число открытых соединений любой фазы
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast отправляет пакет всем сессиям в фазе Play
func (s *Server) Broadcast(p protocol.Packet) {
	for _, sess := range s.snapshot() {
		if sess.Phase() != protocol.PhasePlay {
			continue
		}
		if err := sess.Send(p); err != nil && !errors.Is(err, session.ErrClosed) {
			s.log.Warn("Broadcast to session %d: %v", sess.ID(), err)
		}
	}
}

func (s *Server) snapshot() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Shutdown закрывает порт и все сессии с причиной "Server closed",
// останавливает тик-цикл и сохраняет все изменённые чанки
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("Close listener: %v", err)
			}
		}

		sessions := s.snapshot()
		for _, sess := range sessions {
			sess.Close(session.ReasonServerClosed, nil)
		}
		s.wg.Wait()
		s.log.Info("Closed %d sessions", len(sessions))

		if s.opts.Scheduler != nil {
			s.opts.Scheduler.Close()
		}
		if s.opts.Store != nil {
			if err := s.opts.Store.ShutdownFlushAll(); err != nil {
				s.shutdownErr = fmt.Errorf("flush chunks: %w", err)
				s.log.Error("Shutdown flush failed: %v", err)
			}
		}
	})
	return s.shutdownErr
}
