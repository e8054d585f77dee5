// Package metrics собирает Prometheus-метрики сервера.
// Все методы *Metrics безопасны для nil-получателя, поэтому компоненты
// принимают метрики опционально.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blockverse"

// Источник загрузки чанка
const (
	SourceRegion    = "region"
	SourceGenerated = "generated"
)

// Metrics - набор метрик ядра сервера
type Metrics struct {
	tickDuration    prometheus.Histogram
	tickOverruns    prometheus.Counter
	tickPanics      *prometheus.CounterVec
	sessions        *prometheus.GaugeVec
	players         prometheus.Gauge
	rejected        *prometheus.CounterVec
	packets         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	chunkLoads      *prometheus.CounterVec
	chunkLoadErrors prometheus.Counter
	chunkResident   prometheus.Gauge
	chunkEvictions  prometheus.Counter
	chunkPersists   prometheus.Counter
	persistFailures prometheus.Counter
}

// New создаёт метрики и регистрирует их в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Длительность одного тика симуляции.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		tickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "overruns_total",
			Help:      "Тики, не уложившиеся в период.",
		}),
		tickPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "unit_failures_total",
			Help:      "Единицы работы тика, завершившиеся паникой или ошибкой.",
		}, []string{"unit"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "sessions",
			Help:      "Открытые сессии по фазам.",
		}, []string{"phase"}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "players_online",
			Help:      "Игроки в фазах Login, Configuration и Play.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "logins_rejected_total",
			Help:      "Отклонённые попытки входа по причинам.",
		}, []string{"reason"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "packets_total",
			Help:      "Пакеты по фазе и направлению.",
		}, []string{"phase", "direction"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "protocol_errors_total",
			Help:      "Нарушения протокола по видам.",
		}, []string{"kind"}),
		chunkLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "loads_total",
			Help:      "Загрузки чанков по источнику.",
		}, []string{"source"}),
		chunkLoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "load_errors_total",
			Help:      "Неудачные загрузки и генерации чанков.",
		}),
		chunkResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "resident",
			Help:      "Чанки в памяти.",
		}),
		chunkEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "evictions_total",
			Help:      "Выгруженные из памяти чанки.",
		}),
		chunkPersists: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "persists_total",
			Help:      "Записи чанков в region-файлы.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "persist_failures_total",
			Help:      "Чанки, которые не удалось записать после всех повторов.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.tickDuration, m.tickOverruns, m.tickPanics,
			m.sessions, m.players, m.rejected, m.packets, m.protocolErrors,
			m.chunkLoads, m.chunkLoadErrors, m.chunkResident,
			m.chunkEvictions, m.chunkPersists, m.persistFailures,
		)
	}
	return m
}

// ObserveTick записывает длительность тика и признак переполнения
func (m *Metrics) ObserveTick(d time.Duration, overrun bool) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	if overrun {
		m.tickOverruns.Inc()
	}
}

// TickUnitFailed учитывает пропущенную из-за сбоя единицу работы
func (m *Metrics) TickUnitFailed(unit string) {
	if m == nil {
		return
	}
	m.tickPanics.WithLabelValues(unit).Inc()
}

// SessionPhase переносит сессию из фазы from в фазу to (пустая строка - нет фазы)
func (m *Metrics) SessionPhase(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.sessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.sessions.WithLabelValues(to).Inc()
	}
}

// SetPlayers задаёт число занятых слотов
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.players.Set(float64(n))
}

// LoginRejected учитывает отказ во входе
func (m *Metrics) LoginRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Packet учитывает пакет
func (m *Metrics) Packet(phase, direction string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(phase, direction).Inc()
}

// ProtocolError учитывает нарушение протокола
func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// ChunkLoaded учитывает загрузку чанка из source
func (m *Metrics) ChunkLoaded(source string) {
	if m == nil {
		return
	}
	m.chunkLoads.WithLabelValues(source).Inc()
}

// ChunkLoadFailed учитывает неудачную загрузку
func (m *Metrics) ChunkLoadFailed() {
	if m == nil {
		return
	}
	m.chunkLoadErrors.Inc()
}

// SetResidentChunks задаёт число чанков в памяти
func (m *Metrics) SetResidentChunks(n int) {
	if m == nil {
		return
	}
	m.chunkResident.Set(float64(n))
}

// ChunkEvicted учитывает выгрузку
func (m *Metrics) ChunkEvicted() {
	if m == nil {
		return
	}
	m.chunkEvictions.Inc()
}

// ChunkPersisted учитывает запись чанка
func (m *Metrics) ChunkPersisted() {
	if m == nil {
		return
	}
	m.chunkPersists.Inc()
}

// PersistFailed учитывает исчерпание повторов записи
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
