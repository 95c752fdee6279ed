// Package fallback selects the processing mode for each document attempt
// and decides how extraction failures are handled. Degradation is monotonic
// within an attempt: once a mode is lowered it never rises again until the
// next document starts fresh.
package fallback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridoc/veridoc/internal/models"
)

// StrategyKind is the action the orchestrator takes after a failure.
type StrategyKind string

const (
	// StrategyRetry repeats the failed call after Backoff.
	StrategyRetry StrategyKind = "retry"
	// StrategyDowngrade lowers the processing mode and retries.
	StrategyDowngrade StrategyKind = "downgrade"
	// StrategyIncremental switches to chunked page-by-page processing.
	StrategyIncremental StrategyKind = "incremental"
	// StrategySkip abandons the modality for this region set.
	StrategySkip StrategyKind = "skip"
)

// Strategy tells the orchestrator how to proceed after an agent failure.
type Strategy struct {
	Kind StrategyKind
	// Backoff is the wait before the next try. Set for StrategyRetry.
	Backoff time.Duration
	// EnhancedPreprocessing requests a higher-quality input pass on the
	// retry. Set for low-confidence retries.
	EnhancedPreprocessing bool
}

const (
	maxTimeoutRetries       = 3
	maxLowConfidenceRetries = 2
	backoffFactor           = 2
)

// Manager owns mode selection and failure strategy for one document attempt.
type Manager struct {
	logger      *zap.Logger
	backoffBase time.Duration

	mu      sync.Mutex
	current models.ProcessingMode
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for mode transitions.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithBackoffBase overrides the first retry delay. The default is one
// second; tests shrink it.
func WithBackoffBase(d time.Duration) ManagerOption {
	return func(m *Manager) { m.backoffBase = d }
}

// NewManager creates a manager starting at the configured mode.
func NewManager(configured models.ProcessingMode, opts ...ManagerOption) *Manager {
	m := &Manager{
		backoffBase: time.Second,
		current:     configured,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SelectMode picks the highest mode the current system state supports,
// walking the ladder top-down, and never rises above the mode already in
// effect for this attempt.
func (m *Manager) SelectMode(health models.SystemHealth, remoteReachable, localModelAvailable bool) models.ProcessingMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode := m.current

	switch {
	case health.Level == models.HealthCritical:
		// Critical memory or thermal pressure forces safe mode.
		mode = models.ModeTextOnly
	default:
		if mode == models.ModeHybrid && !remoteReachable {
			mode = models.ModeLocalGPU
		}
		if health.Level == models.HealthWarning && !mode.Below(models.ModeLocalGPU) {
			// Under warning pressure avoid remote calls and GPU work.
			mode = models.ModeLocalCPU
		}
		if (mode == models.ModeLocalGPU || mode == models.ModeLocalCPU) && !localModelAvailable {
			mode = models.ModeTextOnly
		}
	}

	if mode.Below(m.current) {
		m.setLocked(mode)
	}
	return m.current
}

// Downgrade lowers the current mode one rung and returns the new mode.
// Already at the bottom, it stays there.
func (m *Manager) Downgrade() models.ProcessingMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current {
	case models.ModeHybrid:
		m.setLocked(models.ModeLocalGPU)
	case models.ModeLocalGPU:
		m.setLocked(models.ModeLocalCPU)
	case models.ModeLocalCPU:
		m.setLocked(models.ModeTextOnly)
	}
	return m.current
}

// Current returns the mode in effect.
func (m *Manager) Current() models.ProcessingMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HandleFailure maps an agent failure and its retry count (the number of
// retries already spent) to the next action.
func (m *Manager) HandleFailure(kind models.FailureKind, retryCount int) Strategy {
	switch kind {
	case models.FailureTimeout:
		if retryCount < maxTimeoutRetries {
			backoff := m.backoffBase
			for i := 0; i < retryCount; i++ {
				backoff *= backoffFactor
			}
			return Strategy{Kind: StrategyRetry, Backoff: backoff}
		}
		return Strategy{Kind: StrategyDowngrade}
	case models.FailureLowConfidence:
		if retryCount < maxLowConfidenceRetries {
			return Strategy{Kind: StrategyRetry, EnhancedPreprocessing: true}
		}
		return Strategy{Kind: StrategyDowngrade}
	case models.FailureResourceExhaustion:
		// Retrying under memory pressure makes it worse. Chunk instead.
		return Strategy{Kind: StrategyIncremental}
	case models.FailureUnavailable:
		return Strategy{Kind: StrategyDowngrade}
	default:
		if m.logger != nil {
			m.logger.Warn("unknown failure kind, skipping modality",
				zap.String("kind", string(kind)))
		}
		return Strategy{Kind: StrategySkip}
	}
}

// setLocked records a mode change. Callers hold m.mu.
func (m *Manager) setLocked(mode models.ProcessingMode) {
	if mode == m.current {
		return
	}
	if m.logger != nil {
		m.logger.Warn("processing mode lowered",
			zap.String("from", m.current.String()),
			zap.String("to", mode.String()))
	}
	m.current = mode
}
