package session

import (
	"math/rand"
	"time"

	"github.com/annel0/blockverse/internal/protocol"
)

func (s *Session) keepAliveLoop() {
	select {
	case <-s.kaStart:
	case <-s.done:
		return
	}

	t := time.NewTicker(s.cfg.KeepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			if !s.keepAliveTick(now) {
				return
			}
		}
	}
}

// keepAliveTick отправляет новый ping или закрывает сессию, если старый
// остался без ответа дольше KeepAliveTimeout
func (s *Session) keepAliveTick(now time.Time) bool {
	s.kaMu.Lock()
	if s.kaPending {
		expired := now.Sub(s.kaSent) >= s.cfg.KeepAliveTimeout
		s.kaMu.Unlock()
		if expired {
			s.log.Warn("session %d: keepalive timeout", s.id)
			s.Close(ReasonTimedOut, ErrTimeout)
			return false
		}
		return true
	}
	s.kaMu.Unlock()

	id := rand.Int63()
	s.encMu.Lock()
	phase := s.Phase()
	// После Finish Configuration клиент уже в Play: ждём подтверждения
	sendable := phase == protocol.PhasePlay || (phase == protocol.PhaseConfiguration && !s.finishSent)
	var err error
	if sendable {
		var frame []byte
		frame, err = s.enc.Encode(phase, &protocol.KeepAlive{ID: id})
		if err == nil {
			err = s.out.Push(frame)
		}
		if err == nil {
			s.kaMu.Lock()
			s.kaPending, s.kaID, s.kaSent = true, id, now
			s.kaMu.Unlock()
		}
	}
	s.encMu.Unlock()

	switch {
	case !sendable:
		return phase < protocol.PhaseClosing
	case err == nil:
		s.cfg.Metrics.Packet(phase.String(), "out")
		return true
	case err == ErrOutboxOverflow:
		s.Close(ReasonOutboxOverflow, err)
		return false
	default:
		return false
	}
}

func (s *Session) keepAliveAck(id int64) error {
	s.kaMu.Lock()
	defer s.kaMu.Unlock()
	if !s.kaPending || id != s.kaID {
		return &protocol.Error{Kind: protocol.KindMalformed, Phase: s.Phase(), ID: -1,
			Msg: "unexpected keepalive id"}
	}
	s.kaPending = false
	s.latency = time.Since(s.kaSent)
	return nil
}
