// Package metrics exposes dispatch measurements as Prometheus collectors.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hatsunemiku3939/nexusconsumer"
)

const (
	namespace = "nexus"
	subsystem = "consumer"
)

// Collector implements the dispatcher Recorder with Prometheus vectors.
type Collector struct {
	mu sync.Mutex

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	lateTotal        *prometheus.CounterVec
	notifyTotal      *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewCollector creates the collectors. A nil registerer uses prometheus.DefaultRegisterer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Collector{
		registerer:    registerer,
		dispatchTotal: newCounterVec("dispatch_total", "Messages dispatched, by queue, response status and failure kind", []string{"queue", "status", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispatch_duration_seconds",
				Help:      "Time from receipt to response status resolution, excluding any delay notification",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"queue"},
		),
		lateTotal:   newCounterVec("late_total", "Responses produced after the service wait timeout", []string{"queue"}),
		notifyTotal: newCounterVec("notify_total", "Delay notifications attempted, by result", []string{"queue", "result"}),
	}
}

// Register registers the collectors. Safe to call multiple times. When the
// registry already holds collectors with the same names, they are reused.
func (c *Collector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}
	var err error
	if c.dispatchTotal, err = register(c.registerer, c.dispatchTotal); err != nil {
		return err
	}
	if c.dispatchDuration, err = register(c.registerer, c.dispatchDuration); err != nil {
		return err
	}
	if c.lateTotal, err = register(c.registerer, c.lateTotal); err != nil {
		return err
	}
	if c.notifyTotal, err = register(c.registerer, c.notifyTotal); err != nil {
		return err
	}
	c.registered = true
	return nil
}

func register[C prometheus.Collector](r prometheus.Registerer, col C) (C, error) {
	if err := r.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// ObserveDispatch records one response.
func (c *Collector) ObserveDispatch(queueName string, status int, outcome string, elapsed time.Duration) {
	c.dispatchTotal.WithLabelValues(queueName, strconv.Itoa(status), outcome).Inc()
	c.dispatchDuration.WithLabelValues(queueName).Observe(elapsed.Seconds())
}

// ObserveLate records a response past the wait window.
func (c *Collector) ObserveLate(queueName string) {
	c.lateTotal.WithLabelValues(queueName).Inc()
}

// ObserveNotify records the result of a delay notification.
func (c *Collector) ObserveNotify(queueName string, result string) {
	c.notifyTotal.WithLabelValues(queueName, result).Inc()
}

var _ nexusconsumer.Recorder = (*Collector)(nil)
