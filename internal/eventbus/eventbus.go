// Package eventbus публикует игровые события (вход, выход, чат) для внешних
// потребителей. Шина не участвует в симуляции: ошибки публикации только
// логируются.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Типы событий
const (
	TypePlayerJoined = "PlayerJoined"
	TypePlayerQuit   = "PlayerQuit"
	TypeChat         = "Chat"
)

// Source - имя источника событий этого сервера
const Source = "blockverse"

// ErrClosed возвращается при публикации в закрытую шину
var ErrClosed = errors.New("eventbus: closed")

// Envelope описывает контейнер события.
type Envelope struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	EventType string            `json:"event_type"`
	Version   int               `json:"version"`
	Priority  int               `json:"priority"` // 0=Low … 9=Critical
	Payload   []byte            `json:"payload"`  // JSON
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PlayerEvent - полезная нагрузка PlayerJoined и PlayerQuit
type PlayerEvent struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// ChatEvent - полезная нагрузка Chat
type ChatEvent struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewEnvelope сериализует payload в JSON и заворачивает его в конверт
func NewEnvelope(eventType string, priority int, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    Source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку конверта
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто - все типы.
	Sources []string // Если пусто - все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	statsMu     sync.Mutex
	stats       Stats
	buffer      chan *Envelope
	quit        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	done        chan struct{}
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case <-mb.quit:
		return ErrClosed
	default:
	}

	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	default:
	}
	// Буфер заполнен - низкий приоритет (<5) отбрасываем
	if ev.Priority < 5 {
		mb.count(&mb.stats.Dropped)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	case <-mb.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) count(c *uint64) {
	mb.statsMu.Lock()
	*c++
	mb.statsMu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	select {
	case <-mb.quit:
		return nil, ErrClosed
	default:
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.statsMu.Lock()
	s := mb.stats
	mb.statsMu.Unlock()
	s.InFlight = len(mb.buffer)
	return s
}

// Close доставляет события, уже лежащие в буфере, и останавливает шину
func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() { close(mb.quit) })
	<-mb.done
	mb.wg.Wait()
	return nil
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for {
		select {
		case ev := <-mb.buffer:
			mb.dispatch(ev)
		case <-mb.quit:
			for {
				select {
				case ev := <-mb.buffer:
					mb.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (mb *memoryBus) dispatch(ev *Envelope) {
	mb.mu.RLock()
	subs := make([]subscriber, 0, len(mb.subscribers))
	for _, sub := range mb.subscribers {
		if matchFilter(ev, sub.filter) {
			subs = append(subs, sub)
		}
	}
	mb.mu.RUnlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		mb.wg.Add(1)
		go func(s subscriber) {
			defer mb.wg.Done()
			s.handler(s.ctx, ev)
			mb.count(&mb.stats.Consumed)
		}(sub)
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
