package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/rs/zerolog"
)

// State is the connection state of one backend instance.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// RetryPolicy bounds automatic restart attempts. The delay before attempt n
// is BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the native backend defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   300 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff returns the delay before restart attempt n (1-based).
func Backoff(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Supervisor is the cross-cutting retry/backoff state machine applied to
// every transcription backend. All mutable restart bookkeeping (state,
// attempt counter, pending timer) lives here instead of being scattered
// across backend closures.
//
//	idle → connecting → connected → (disconnected | errored) → idle
//
// Retryable failures schedule a restart with exponential backoff until the
// budget is exhausted; any successful connection or result resets the
// budget; Stop cancels pending restarts from any state.
type Supervisor struct {
	name   string
	policy RetryPolicy
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	timer    *time.Timer
	gen      uint64 // bumped on Stop so stale timers never fire a restart

	onRestart  func(attempt int)
	onState    func(State)
	onTerminal func(error)
}

// New creates a supervisor for one backend instance.
func New(name string, policy RetryPolicy, logger zerolog.Logger) *Supervisor {
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	return &Supervisor{
		name:   name,
		policy: policy,
		logger: logger.With().Str("supervisor", name).Logger(),
		state:  StateIdle,
	}
}

// OnRestart registers the restart hook invoked (on the timer goroutine)
// when a scheduled retry fires. Set before use; not safe to swap mid-flight.
func (s *Supervisor) OnRestart(fn func(attempt int)) { s.onRestart = fn }

// OnStateChange registers a state transition observer.
func (s *Supervisor) OnStateChange(fn func(State)) { s.onState = fn }

// OnTerminal registers the hook invoked when a failure is terminal: either
// non-retryable, or retryable with the budget exhausted.
func (s *Supervisor) OnTerminal(fn func(error)) { s.onTerminal = fn }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the consumed portion of the retry budget.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connecting transitions idle/errored → connecting when a start begins.
func (s *Supervisor) Connecting() {
	s.transition(StateConnecting)
}

// Connected records a successful open/first response and resets the budget.
func (s *Supervisor) Connected() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.transition(StateConnected)
}

// ResultOK records a successful provider result, resetting the budget.
func (s *Supervisor) ResultOK() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// Disconnected records a clean close.
func (s *Supervisor) Disconnected() {
	s.transition(StateDisconnected)
	s.transition(StateIdle)
}

// Fail applies the failure policy to err. Benign and parse-class errors are
// absorbed with no transition. Terminal errors move to idle and surface err.
// Retryable errors consume the budget and schedule a restart after
// exponential backoff, or surface a terminal error once exhausted.
func (s *Supervisor) Fail(err error) {
	switch ClassOf(err) {
	case ClassBenign:
		s.logger.Debug().Err(err).Msg("Benign signal absorbed")
	case ClassParse:
		s.logger.Warn().Err(err).Msg("Provider response discarded")
	case ClassPayload:
		s.logger.Warn().Err(err).Msg("Upload attempt failed")
	case ClassTerminal:
		s.logger.Error().Err(err).Msg("Terminal failure")
		s.terminate(err)
	case ClassRetryable:
		s.retry(err, 0)
	}
}

// FailWithDelay is Fail for retryable conditions that restart after a fixed
// delay instead of the backoff curve. The native engine's natural end in
// continuous mode restarts after ~100ms but still consumes the budget.
func (s *Supervisor) FailWithDelay(err error, delay time.Duration) {
	if ClassOf(err) != ClassRetryable {
		s.Fail(err)
		return
	}
	s.retry(err, delay)
}

func (s *Supervisor) retry(err error, fixedDelay time.Duration) {
	s.mu.Lock()
	if s.state == StateIdle {
		// Stop already tore the session down; discard late failures.
		s.mu.Unlock()
		return
	}

	s.attempts++
	attempt := s.attempts
	if attempt > s.policy.MaxAttempts {
		s.mu.Unlock()
		s.logger.Error().Err(err).Int("attempts", s.policy.MaxAttempts).
			Msg("Retry budget exhausted")
		s.terminate(Wrap(KindRetryExhausted,
			fmt.Sprintf("giving up after %d restart attempts", s.policy.MaxAttempts), err))
		return
	}

	delay := fixedDelay
	if delay <= 0 {
		delay = Backoff(s.policy, attempt)
	}
	gen := s.gen
	s.setStateLocked(StateErrored)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		s.fireRestart(gen, attempt)
	})
	s.mu.Unlock()

	observability.RecordSupervisorRetry(s.name)
	s.logger.Warn().Err(err).
		Int("attempt", attempt).
		Int("max_attempts", s.policy.MaxAttempts).
		Dur("delay", delay).
		Msg("Scheduling restart")
	s.notify()
}

func (s *Supervisor) fireRestart(gen uint64, attempt int) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateErrored {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnecting)
	restart := s.onRestart
	s.mu.Unlock()

	s.notify()
	if restart != nil {
		restart(attempt)
	}
}

func (s *Supervisor) terminate(err error) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.setStateLocked(StateIdle)
	terminal := s.onTerminal
	s.mu.Unlock()

	observability.RecordSupervisorTerminal(s.name)
	s.notify()
	if terminal != nil {
		terminal(err)
	}
}

// Stop tears down from any state: the pending retry timer is cancelled and
// can never fire afterwards, and the state returns to idle. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	changed := s.state != StateIdle
	s.setStateLocked(StateIdle)
	s.attempts = 0
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Supervisor) transition(next State) {
	s.mu.Lock()
	changed := s.state != next
	s.setStateLocked(next)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Supervisor) setStateLocked(next State) {
	if s.state != next {
		s.logger.Debug().Stringer("from", s.state).Stringer("to", next).Msg("State transition")
		s.state = next
	}
}

func (s *Supervisor) notify() {
	if s.onState != nil {
		s.onState(s.State())
	}
}
