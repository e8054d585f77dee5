package session

import (
	"errors"
	"sync"
)

var (
	// ErrOutboxClosed возвращается Push после Close
	ErrOutboxClosed = errors.New("session: outbox closed")
	// ErrOutboxOverflow - клиент не успевает читать, бюджет исчерпан
	ErrOutboxOverflow = errors.New("session: outbox overflow")
)

// Outbox - очередь готовых кадров между тик-циклом (и читающей горутиной)
// и пишущей горутиной сессии. Объём ограничен бюджетом в байтах.
type Outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	bytes  int
	limit  int
	closed bool
}

// NewOutbox создаёт очередь с бюджетом limit байт (0 - без ограничения)
func NewOutbox(limit int) *Outbox {
	o := &Outbox{limit: limit}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Push добавляет кадр в конец очереди
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutboxClosed
	}
	if o.limit > 0 && o.bytes+len(frame) > o.limit {
		return ErrOutboxOverflow
	}
	o.frames = append(o.frames, frame)
	o.bytes += len(frame)
	o.cond.Signal()
	return nil
}

// PushFinal добавляет последний кадр без учёта бюджета и закрывает очередь
func (o *Outbox) PushFinal(frame []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.frames = append(o.frames, frame)
	o.bytes += len(frame)
	o.closed = true
	o.cond.Broadcast()
}

// Close запрещает новые кадры. Уже поставленные будут отданы Pop.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Broadcast()
}

// Pop ждёт кадры и забирает их все. open=false означает, что очередь
// закрыта и после записи возвращённых кадров писать больше нечего.
func (o *Outbox) Pop() (frames [][]byte, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.frames) == 0 && !o.closed {
		o.cond.Wait()
	}
	frames = o.frames
	o.frames = nil
	o.bytes = 0
	return frames, !o.closed
}

// Len возвращает число кадров и байт в очереди
func (o *Outbox) Len() (frames, bytes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames), o.bytes
}
