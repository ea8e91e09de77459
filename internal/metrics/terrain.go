package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Terrain собирает Prometheus-метрики конвейера ландшафта.
// Все методы безопасны для nil-получателя: компоненты без метрик передают nil.
type Terrain struct {
	batchesCommitted prometheus.Counter
	batchesFailed    prometheus.Counter
	requestsApplied  prometheus.Counter
	requestsDropped  *prometheus.CounterVec
	commitDuration   prometheus.Histogram

	rebuildScheduled prometheus.Counter
	rebuildCoalesced prometheus.Counter
	rebuildDone      *prometheus.CounterVec
	rebuildDiscarded prometheus.Counter
	rebuildDuration  prometheus.Histogram
	rebuildBacklog   prometheus.Gauge

	flowRecomputes prometheus.Counter
	flowAborted    prometheus.Counter
	flowDuration   prometheus.Histogram

	regionsResident *prometheus.GaugeVec
	regionsEvicted  prometheus.Counter
}

// NewTerrain создаёт метрики и регистрирует их в reg.
// reg == nil: метрики создаются без регистрации (для тестов).
func NewTerrain(reg prometheus.Registerer) *Terrain {
	const ns = "terrain"
	t := &Terrain{
		batchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "pipeline", Name: "batches_committed_total",
			Help: "Число закоммиченных пакетов изменений.",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "pipeline", Name: "batches_failed_total",
			Help: "Пакеты, отклонённые целиком (регион не найден).",
		}),
		requestsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "pipeline", Name: "requests_applied_total",
			Help: "Применённые запросы изменений.",
		}),
		requestsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "pipeline", Name: "requests_dropped_total",
			Help: "Отброшенные некорректные запросы по причине.",
		}, []string{"reason"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "pipeline", Name: "commit_duration_seconds",
			Help:    "Длительность коммита под блокировкой региона.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		rebuildScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "scheduled_total",
			Help: "Новые задачи перестройки чанков.",
		}),
		rebuildCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "coalesced_total",
			Help: "Запросы перестройки, слитые с уже ожидающей задачей.",
		}),
		rebuildDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "completed_total",
			Help: "Завершённые задачи перестройки по статусу.",
		}, []string{"status"}),
		rebuildDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "discarded_total",
			Help: "Результаты, отброшенные из-за выгрузки региона.",
		}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "duration_seconds",
			Help:    "Длительность построения геометрии чанка.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		rebuildBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "rebuild", Name: "backlog",
			Help: "Задачи, не поместившиеся в очередь.",
		}),
		flowRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "navigation", Name: "recomputes_total",
			Help: "Полные пересчёты карт потока.",
		}),
		flowAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "navigation", Name: "recomputes_aborted_total",
			Help: "Пересчёты, прерванные отменой контекста.",
		}),
		flowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "navigation", Name: "recompute_duration_seconds",
			Help:    "Длительность пересчёта карты потока.",
			Buckets: prometheus.ExponentialBuckets(0.001, 3, 8),
		}),
		regionsResident: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "registry", Name: "regions_resident",
			Help: "Регионы в реестре по намерению загрузки.",
		}, []string{"intent"}),
		regionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "registry", Name: "regions_evicted_total",
			Help: "Выгруженные регионы.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			t.batchesCommitted, t.batchesFailed, t.requestsApplied, t.requestsDropped, t.commitDuration,
			t.rebuildScheduled, t.rebuildCoalesced, t.rebuildDone, t.rebuildDiscarded, t.rebuildDuration, t.rebuildBacklog,
			t.flowRecomputes, t.flowAborted, t.flowDuration,
			t.regionsResident, t.regionsEvicted,
		)
	}
	return t
}

func (t *Terrain) BatchCommitted(applied int, d time.Duration) {
	if t == nil {
		return
	}
	t.batchesCommitted.Inc()
	t.requestsApplied.Add(float64(applied))
	t.commitDuration.Observe(d.Seconds())
}

func (t *Terrain) BatchFailed() {
	if t == nil {
		return
	}
	t.batchesFailed.Inc()
}

func (t *Terrain) RequestDropped(reason string) {
	if t == nil {
		return
	}
	t.requestsDropped.WithLabelValues(reason).Inc()
}

// RebuildScheduled учитывает задачу; coalesced означает, что запрос слит с ожидающей задачей.
func (t *Terrain) RebuildScheduled(coalesced bool) {
	if t == nil {
		return
	}
	if coalesced {
		t.rebuildCoalesced.Inc()
		return
	}
	t.rebuildScheduled.Inc()
}

func (t *Terrain) RebuildCompleted(d time.Duration, err error) {
	if t == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.rebuildDone.WithLabelValues(status).Inc()
	t.rebuildDuration.Observe(d.Seconds())
}

func (t *Terrain) RebuildDiscarded() {
	if t == nil {
		return
	}
	t.rebuildDiscarded.Inc()
}

func (t *Terrain) SetRebuildBacklog(n int) {
	if t == nil {
		return
	}
	t.rebuildBacklog.Set(float64(n))
}

// FlowRecomputed учитывает пересчёт; aborted означает, что пересчёт прерван, карта осталась грязной.
func (t *Terrain) FlowRecomputed(d time.Duration, aborted bool) {
	if t == nil {
		return
	}
	if aborted {
		t.flowAborted.Inc()
		return
	}
	t.flowRecomputes.Inc()
	t.flowDuration.Observe(d.Seconds())
}

func (t *Terrain) SetRegions(required, peek int) {
	if t == nil {
		return
	}
	t.regionsResident.WithLabelValues("required").Set(float64(required))
	t.regionsResident.WithLabelValues("peek").Set(float64(peek))
}

func (t *Terrain) RegionEvicted() {
	if t == nil {
		return
	}
	t.regionsEvicted.Inc()
}
