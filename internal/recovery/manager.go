// Package recovery implements the auto-recovery manager: named actions
// bound to trigger conditions, executed with bounded retries and per-action
// cooldowns when a subsystem reports systemic trouble. The manager is
// observational glue — it never gates pipeline state.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/observability"
)

// Well-known trigger conditions.
const (
	// ConditionDatabaseConnectionFailed is raised by workers observing
	// repeated persistence connectivity errors.
	ConditionDatabaseConnectionFailed = "database_connection_failed"

	// ConditionQueueBacklogHigh is raised when pending entries pile up;
	// the bound action forces an immediate dispatcher sweep.
	ConditionQueueBacklogHigh = "queue_backlog_high"

	// ConditionSourceRateLimited is raised when the bibliographic source
	// rejects calls with rate-limit responses.
	ConditionSourceRateLimited = "source_rate_limited"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Action is a registered recovery routine bound to a trigger condition.
type Action struct {
	// Name uniquely identifies the action for cooldowns and statistics.
	Name string

	// Condition is the trigger this action responds to.
	Condition string

	// MaxAttempts bounds retries of the handler per trigger (default 1).
	MaxAttempts int

	// Delay is the wait between attempts.
	Delay time.Duration

	// Timeout is the hard per-attempt deadline (default from config).
	Timeout time.Duration

	// Enabled actions run on trigger; disabled ones are registered but
	// dormant (operator toggle).
	Enabled bool

	// Handler performs the recovery work.
	Handler func(ctx context.Context) error
}

// Result records the outcome of one action execution.
type Result struct {
	Action     string        `json:"action"`
	Condition  string        `json:"condition"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// ActionStats aggregates execution history for one action.
type ActionStats struct {
	Action      string  `json:"action"`
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// Manager executes recovery actions for raised conditions.
//
// A failed action enters a cooldown during which repeat triggers are
// skipped and logged rather than re-attempted, so a persistent fault cannot
// cause a retry storm. History is bounded; old results fall off.
type Manager struct {
	mu        sync.Mutex
	actions   []Action
	cooldowns map[string]time.Time
	history   []Result

	cooldown      time.Duration
	historySize   int
	actionTimeout time.Duration

	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewManager creates a recovery manager.
func NewManager(cfg config.RecoveryConfig, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 100
	}
	actionTimeout := cfg.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}

	return &Manager{
		cooldowns:     make(map[string]time.Time),
		cooldown:      cooldown,
		historySize:   historySize,
		actionTimeout: actionTimeout,
		logger:        observability.WithComponent(logger, "recovery"),
		metrics:       metrics,
		now:           time.Now,
	}
}

// Register adds an action. Action names must be unique.
func (m *Manager) Register(action Action) error {
	if action.Name == "" {
		return fmt.Errorf("recovery action name is required")
	}
	if action.Condition == "" {
		return fmt.Errorf("recovery action %s: condition is required", action.Name)
	}
	if action.Handler == nil {
		return fmt.Errorf("recovery action %s: handler is required", action.Name)
	}
	if action.MaxAttempts <= 0 {
		action.MaxAttempts = 1
	}
	if action.Timeout <= 0 {
		action.Timeout = m.actionTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.actions {
		if existing.Name == action.Name {
			return fmt.Errorf("recovery action %s already registered", action.Name)
		}
	}

	m.actions = append(m.actions, action)
	return nil
}

// Trigger runs all enabled actions bound to a condition and returns their
// results. Actions in cooldown are skipped. An unknown condition yields an
// empty result set: subsystems may raise conditions nothing handles yet.
func (m *Manager) Trigger(ctx context.Context, condition string) []Result {
	m.mu.Lock()
	var bound []Action
	for _, action := range m.actions {
		if action.Condition == condition {
			bound = append(bound, action)
		}
	}
	m.mu.Unlock()

	results := make([]Result, 0, len(bound))
	for _, action := range bound {
		if !action.Enabled {
			continue
		}
		results = append(results, m.execute(ctx, action))
	}
	return results
}

// execute runs one action with retries, recording the result in history.
func (m *Manager) execute(ctx context.Context, action Action) Result {
	now := m.now()

	m.mu.Lock()
	until, cooling := m.cooldowns[action.Name]
	m.mu.Unlock()

	if cooling && now.Before(until) {
		m.metrics.RecordRecoverySuppressed(action.Condition)
		m.logger.Warn().
			Str("action", action.Name).
			Str("condition", action.Condition).
			Time("cooldown_until", until).
			Msg("recovery action in cooldown, skipping")

		result := Result{
			Action:     action.Name,
			Condition:  action.Condition,
			Status:     StatusSkipped,
			ExecutedAt: now,
		}
		m.record(result)
		return result
	}

	start := now
	var lastErr error
	attempts := 0

	for attempts < action.MaxAttempts {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, action.Timeout)
		lastErr = action.Handler(attemptCtx)
		cancel()

		if lastErr == nil {
			break
		}

		m.logger.Warn().
			Str("action", action.Name).
			Int("attempt", attempts).
			Err(lastErr).
			Msg("recovery attempt failed")

		if attempts < action.MaxAttempts && action.Delay > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempts = action.MaxAttempts
			case <-time.After(action.Delay):
			}
		}
	}

	result := Result{
		Action:     action.Name,
		Condition:  action.Condition,
		Attempts:   attempts,
		Duration:   m.now().Sub(start),
		ExecutedAt: start,
	}

	if lastErr != nil {
		result.Status = StatusFailed
		result.Error = lastErr.Error()

		m.mu.Lock()
		m.cooldowns[action.Name] = m.now().Add(m.cooldown)
		m.mu.Unlock()

		m.metrics.RecordRecoveryAttempt(action.Condition, StatusFailed)
		m.logger.Error().
			Str("action", action.Name).
			Str("condition", action.Condition).
			Int("attempts", attempts).
			Err(lastErr).
			Msg("recovery action failed, entering cooldown")
	} else {
		result.Status = StatusSuccess

		m.mu.Lock()
		delete(m.cooldowns, action.Name)
		m.mu.Unlock()

		m.metrics.RecordRecoveryAttempt(action.Condition, StatusSuccess)
		m.logger.Info().
			Str("action", action.Name).
			Str("condition", action.Condition).
			Int("attempts", attempts).
			Dur("duration", result.Duration).
			Msg("recovery action succeeded")
	}

	m.record(result)
	return result
}

// record appends a result to the bounded history.
func (m *Manager) record(result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, result)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// History returns a copy of the recorded results, oldest first.
func (m *Manager) History() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Result, len(m.history))
	copy(out, m.history)
	return out
}

// Stats aggregates per-action success rates over the recorded history.
func (m *Manager) Stats() []ActionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAction := make(map[string]*ActionStats)
	var order []string

	for _, result := range m.history {
		stats, ok := byAction[result.Action]
		if !ok {
			stats = &ActionStats{Action: result.Action}
			byAction[result.Action] = stats
			order = append(order, result.Action)
		}

		stats.Total++
		switch result.Status {
		case StatusSuccess:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		}
	}

	out := make([]ActionStats, 0, len(order))
	for _, name := range order {
		stats := byAction[name]
		if executed := stats.Succeeded + stats.Failed; executed > 0 {
			stats.SuccessRate = float64(stats.Succeeded) / float64(executed)
		}
		out = append(out, *stats)
	}
	return out
}
