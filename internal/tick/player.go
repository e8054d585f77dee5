package tick

import (
	"errors"
	"sort"
	"time"

	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world/entity"
)

// player - состояние игрока, которым владеет тик-цикл
type player struct {
	session  uint64
	client   Client
	identity auth.Identity
	ent      *entity.Entity
	joinedAt time.Time

	radius int32
	center vec.ChunkPos
	// окно видимости: true - ссылка на чанк взята и чанк отправлен клиенту
	chunks  map[vec.ChunkPos]bool
	visible map[int32]struct{}

	ackSeq  int32
	needAck bool

	chatStart uint64
	chatCount int
}

func (p *player) send(pkt protocol.Packet) {
	// Ошибка означает, что сессия закрывается; её Leave придёт следующим.
	_ = p.client.Send(pkt)
}

func (p *player) sent(pos vec.ChunkPos) bool {
	return p.chunks[pos]
}

func (p *player) ack(seq int32) {
	if !p.needAck || seq > p.ackSeq {
		p.ackSeq = seq
	}
	p.needAck = true
}

// setView переносит окно видимости. Чанки, вышедшие из окна, выгружаются у
// клиента и освобождаются; новые ставятся в очередь на отправку.
func (s *Scheduler) setView(p *player, center vec.ChunkPos, radius int32) {
	if center != p.center {
		p.send(&protocol.SetCenterChunk{X: center.X, Z: center.Z})
	}
	p.center = center
	p.radius = radius

	for pos, sent := range p.chunks {
		if pos.ChebyshevDistance(center) <= radius {
			continue
		}
		delete(p.chunks, pos)
		if sent {
			p.send(&protocol.UnloadChunk{X: pos.X, Z: pos.Z})
			s.store.Release(pos)
		}
	}
	for _, pos := range vec.Square(center, radius) {
		if _, ok := p.chunks[pos]; !ok {
			p.chunks[pos] = false
		}
	}
}

// streamChunks отправляет чанки окна, которые уже в памяти; остальные
// загружаются в фоне и проверяются на следующем тике.
func (s *Scheduler) streamChunks(p *player) {
	for _, pos := range vec.Square(p.center, p.radius) {
		if sent, ok := p.chunks[pos]; !ok || sent {
			continue
		}
		c, ok, err := s.store.TryAcquire(pos)
		if errors.Is(err, chunk.ErrChunkUnavailable) {
			// хранилище уже залогировало неудачу и повторит её после паузы
			s.log.Debug("Чанк %v для %s недоступен: %v", pos, p.identity.Name, err)
			continue
		}
		if err != nil {
			s.log.Warn("Чанк %v для %s: %v", pos, p.identity.Name, err)
			continue
		}
		if !ok {
			continue
		}
		p.chunks[pos] = true
		p.send(c.Packet())
	}
}

// releaseAll освобождает все чанки окна
func (s *Scheduler) releaseAll(p *player) {
	for pos, sent := range p.chunks {
		if sent {
			s.store.Release(pos)
		}
	}
	p.chunks = make(map[vec.ChunkPos]bool)
}

// syncEntities показывает клиенту сущности в отправленных ему чанках,
// убирает исчезнувшие и телепортирует переместившиеся.
func (s *Scheduler) syncEntities(p *player, moved map[int32]bool) {
	desired := make(map[int32]*entity.Entity)
	for pos, sent := range p.chunks {
		if !sent {
			continue
		}
		for _, e := range s.world.Entities().InChunk(pos) {
			if e.ID != p.ent.ID {
				desired[e.ID] = e
			}
		}
	}

	var removed []int32
	for id := range p.visible {
		if _, ok := desired[id]; !ok {
			removed = append(removed, id)
			delete(p.visible, id)
		}
	}
	if len(removed) > 0 {
		sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
		p.send(&protocol.RemoveEntities{EntityIDs: removed})
	}

	ids := make([]int32, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := desired[id]
		if _, ok := p.visible[id]; !ok {
			p.visible[id] = struct{}{}
			p.send(&protocol.SpawnEntity{
				EntityID: e.ID,
				UUID:     e.UUID,
				Type:     int32(e.Type),
				X:        e.Pos.X,
				Y:        e.Pos.Y,
				Z:        e.Pos.Z,
				Pitch:    e.Pitch,
				Yaw:      e.Yaw,
				HeadYaw:  e.Yaw,
			})
			continue
		}
		if moved[id] {
			p.send(&protocol.TeleportEntity{
				EntityID: e.ID,
				X:        e.Pos.X,
				Y:        e.Pos.Y,
				Z:        e.Pos.Z,
				Yaw:      e.Yaw,
				Pitch:    e.Pitch,
				OnGround: e.OnGround,
			})
		}
	}
}
