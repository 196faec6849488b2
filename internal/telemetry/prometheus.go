package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ceilq/internal/hw"
	"ceilq/internal/sched"
)

// PromMetrics adapts sched.Metrics to Prometheus collectors.
type PromMetrics struct {
	dispatchSeconds *prom.HistogramVec
	rejectedTotal   *prom.CounterVec
	lockTotal       *prom.CounterVec
	expiredTotal    *prom.CounterVec
}

var _ sched.Metrics = (*PromMetrics)(nil)

// NewPromMetrics creates and registers the collectors. Registering twice on
// the same registry reuses the existing collectors.
func NewPromMetrics(namespace string, reg prom.Registerer) (*PromMetrics, error) {
	if namespace == "" {
		namespace = "ceilq"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	dispatchVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_dispatch_seconds",
		Help:      "Wall time of one task invocation, preemptions included.",
		Buckets:   prom.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"task", "level"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Spawns and schedules refused for capacity.",
	}, []string{"task", "queue"})
	lockVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "resource_lock_total",
		Help:      "Locks taken on shared resources.",
	}, []string{"resource", "ceiling"})
	expiredVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "timer_expired_total",
		Help:      "Timer-queue entries moved to a ready queue.",
	}, []string{"task"})

	var err error
	if dispatchVec, err = registerCollector(reg, dispatchVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if lockVec, err = registerCollector(reg, lockVec); err != nil {
		return nil, err
	}
	if expiredVec, err = registerCollector(reg, expiredVec); err != nil {
		return nil, err
	}

	return &PromMetrics{
		dispatchSeconds: dispatchVec,
		rejectedTotal:   rejectedVec,
		lockTotal:       lockVec,
		expiredTotal:    expiredVec,
	}, nil
}

func (m *PromMetrics) RecordDispatch(task string, level hw.Level, wall time.Duration) {
	m.dispatchSeconds.WithLabelValues(task, levelLabel(level)).Observe(wall.Seconds())
}

func (m *PromMetrics) RecordRejected(task string, queue string) {
	m.rejectedTotal.WithLabelValues(task, queue).Inc()
}

func (m *PromMetrics) RecordLock(resource string, ceiling hw.Level) {
	m.lockTotal.WithLabelValues(resource, levelLabel(ceiling)).Inc()
}

func (m *PromMetrics) RecordTimerExpired(task string) {
	m.expiredTotal.WithLabelValues(task).Inc()
}

func levelLabel(l hw.Level) string { return strconv.Itoa(int(l)) }

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

// ServeMetrics exposes g on addr under /metrics until ctx ends.
func ServeMetrics(ctx context.Context, addr string, g prom.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
