// Package monitor samples system resources on an interval and classifies
// them into a health level the pipeline gates on.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// Sampler provides raw resource readings. Implementations wrap whatever the
// platform exposes; tests inject fixed readings.
type Sampler interface {
	Sample() (models.Sample, error)
}

// Thresholds classify a sample. Percent values are 0-100, temperatures in
// Celsius.
type Thresholds struct {
	RAMWarningPct  float64
	RAMCriticalPct float64
	TempWarningC   float64
	TempCriticalC  float64
}

// cooldownExitMargin is how far below critical the temperature must fall
// before the cooldown hold releases.
const cooldownExitMargin = 10.0

// Monitor classifies samples into health snapshots. One goroutine produces;
// any number of consumers read copies.
type Monitor struct {
	sampler    Sampler
	thresholds Thresholds
	interval   time.Duration
	logger     *zap.Logger

	mu       sync.RWMutex
	health   models.SystemHealth
	cooldown bool

	stop chan struct{}
	done chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets a logger for health transitions.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor. It takes no readings until Start.
func New(sampler Sampler, thresholds Thresholds, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		sampler:    sampler,
		thresholds: thresholds,
		interval:   interval,
		health: models.SystemHealth{
			Level:     models.HealthOK,
			Timestamp: time.Now().UTC(),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start takes an immediate reading and then samples on the interval until
// the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.Refresh()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Refresh()
			}
		}
	}()
}

// Stop halts the sampling goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

// Refresh takes one reading now and updates the published snapshot.
// A sampler error keeps the previous snapshot.
func (m *Monitor) Refresh() {
	sample, err := m.sampler.Sample()
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("resource sample failed", zap.Error(err))
		}
		return
	}

	m.mu.Lock()
	prev := m.health.Level
	m.health = m.classify(sample)
	cur := m.health.Level
	m.mu.Unlock()

	if prev != cur && m.logger != nil {
		m.logger.Warn("health level changed",
			zap.String("from", string(prev)),
			zap.String("to", string(cur)),
			zap.Float64("memory_used_ratio", sample.MemoryUsedRatio),
		)
	}
}

// Health returns a copy of the latest snapshot.
func (m *Monitor) Health() models.SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Gate reports whether new document work may start. CRITICAL blocks;
// WARNING admits work but the second value requests incremental processing
// for large documents.
func (m *Monitor) Gate() (admit, incremental bool) {
	h := m.Health()
	switch h.Level {
	case models.HealthCritical:
		return false, false
	case models.HealthWarning:
		return true, true
	default:
		return true, false
	}
}

// classify maps a sample to a health level, applying the thermal cooldown
// hold. Callers hold m.mu.
func (m *Monitor) classify(s models.Sample) models.SystemHealth {
	level := models.HealthOK
	ramPct := s.MemoryUsedRatio * 100

	switch {
	case ramPct >= m.thresholds.RAMCriticalPct:
		level = models.HealthCritical
	case ramPct >= m.thresholds.RAMWarningPct:
		level = models.HealthWarning
	}

	if s.TemperatureC != nil {
		t := *s.TemperatureC
		switch {
		case t >= m.thresholds.TempCriticalC:
			m.cooldown = true
			level = models.HealthCritical
		case m.cooldown && t >= m.thresholds.TempCriticalC-cooldownExitMargin:
			// Still cooling. Hold at critical until well below the
			// trip point so the level does not flap.
			level = models.HealthCritical
		case m.cooldown:
			m.cooldown = false
			if m.logger != nil {
				m.logger.Info("thermal cooldown released",
					zap.Float64("temperature_c", t))
			}
			if t >= m.thresholds.TempWarningC && level == models.HealthOK {
				level = models.HealthWarning
			}
		case t >= m.thresholds.TempWarningC && level == models.HealthOK:
			level = models.HealthWarning
		}
	}

	return models.SystemHealth{
		Level:          level,
		CooldownActive: m.cooldown,
		Sample:         s,
		Timestamp:      time.Now().UTC(),
	}
}
