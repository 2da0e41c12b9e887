package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		Multiplier:  2.0,
		MaxDelay:    time.Second,
	}
}

func TestBackoff_ExponentialCurve(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 10 * time.Second}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := Backoff(p, i+1); got != w {
			t.Errorf("Attempt %d: expected delay %v, got %v", i+1, w, got)
		}
	}
}

func TestBackoff_CappedAtMaxDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: 3 * time.Second}
	if got := Backoff(p, 5); got != 3*time.Second {
		t.Errorf("Expected cap at 3s, got %v", got)
	}
}

func TestSupervisor_LifecycleTransitions(t *testing.T) {
	s := New("test", testPolicy(3, 5*time.Millisecond), zerolog.Nop())

	if s.State() != StateIdle {
		t.Fatalf("Expected idle initially, got %v", s.State())
	}
	s.Connecting()
	if s.State() != StateConnecting {
		t.Errorf("Expected connecting, got %v", s.State())
	}
	s.Connected()
	if s.State() != StateConnected {
		t.Errorf("Expected connected, got %v", s.State())
	}
	s.Disconnected()
	if s.State() != StateIdle {
		t.Errorf("Expected idle after clean close, got %v", s.State())
	}
}

func TestSupervisor_RetryableSchedulesRestart(t *testing.T) {
	s := New("test", testPolicy(3, 5*time.Millisecond), zerolog.Nop())

	restarted := make(chan int, 1)
	s.OnRestart(func(attempt int) { restarted <- attempt })

	s.Connecting()
	s.Connected()
	s.Fail(E(KindNetwork, "socket dropped"))

	if s.State() != StateErrored {
		t.Errorf("Expected errored while restart is pending, got %v", s.State())
	}

	select {
	case attempt := <-restarted:
		if attempt != 1 {
			t.Errorf("Expected attempt 1, got %d", attempt)
		}
	case <-time.After(time.Second):
		t.Fatal("Restart never fired")
	}
	if s.State() != StateConnecting {
		t.Errorf("Expected connecting after restart fired, got %v", s.State())
	}
}

func TestSupervisor_BudgetExhaustion(t *testing.T) {
	// N retryable failures with maxAttempts=N issue exactly N restarts,
	// then surface a terminal error with no further attempts.
	const maxAttempts = 3
	s := New("test", testPolicy(maxAttempts, time.Millisecond), zerolog.Nop())

	var mu sync.Mutex
	restarts := 0
	terminal := make(chan error, 1)

	s.OnRestart(func(attempt int) {
		mu.Lock()
		restarts++
		mu.Unlock()
		// Every restart fails again
		s.Fail(E(KindNetwork, "still down"))
	})
	s.OnTerminal(func(err error) { terminal <- err })

	s.Connecting()
	s.Connected()
	s.Fail(E(KindNetwork, "socket dropped"))

	select {
	case err := <-terminal:
		if err == nil {
			t.Fatal("Expected terminal error")
		}
	case <-time.After(time.Second):
		t.Fatal("Terminal error never surfaced")
	}

	mu.Lock()
	got := restarts
	mu.Unlock()
	if got != maxAttempts {
		t.Errorf("Expected exactly %d restart attempts, got %d", maxAttempts, got)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after exhaustion, got %v", s.State())
	}

	// No further attempts after exhaustion
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if restarts != maxAttempts {
		t.Errorf("Expected no attempts after exhaustion, got %d", restarts)
	}
	mu.Unlock()
}

func TestSupervisor_TerminalErrorNoRetry(t *testing.T) {
	// Permission denial transitions straight to terminal with
	// zero retry attempts scheduled.
	s := New("test", testPolicy(3, time.Millisecond), zerolog.Nop())

	restarts := 0
	s.OnRestart(func(int) { restarts++ })
	terminal := make(chan error, 1)
	s.OnTerminal(func(err error) { terminal <- err })

	s.Connecting()
	s.Fail(E(KindPermissionDenied, "microphone access denied"))

	select {
	case <-terminal:
	case <-time.After(time.Second):
		t.Fatal("Terminal error never surfaced")
	}
	time.Sleep(10 * time.Millisecond)
	if restarts != 0 {
		t.Errorf("Expected zero restarts for permission denial, got %d", restarts)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle, got %v", s.State())
	}
}

func TestSupervisor_SuccessResetsBudget(t *testing.T) {
	s := New("test", testPolicy(2, time.Millisecond), zerolog.Nop())

	fired := make(chan struct{}, 4)
	s.OnRestart(func(int) { fired <- struct{}{} })

	s.Connecting()
	s.Connected()
	s.Fail(E(KindNetwork, "drop 1"))
	<-fired
	s.Connected() // reconnect succeeded: budget back to zero
	if s.Attempts() != 0 {
		t.Errorf("Expected budget reset on connect, got %d", s.Attempts())
	}

	s.Fail(E(KindNetwork, "drop 2"))
	<-fired
	s.ResultOK()
	if s.Attempts() != 0 {
		t.Errorf("Expected budget reset on result, got %d", s.Attempts())
	}
}

func TestSupervisor_BenignAbsorbed(t *testing.T) {
	s := New("test", testPolicy(3, time.Millisecond), zerolog.Nop())
	s.Connecting()
	s.Connected()

	s.Fail(E(KindNoSpeech, "no speech detected"))
	s.Fail(E(KindParse, "malformed provider response"))

	if s.State() != StateConnected {
		t.Errorf("Expected benign/parse errors to leave state untouched, got %v", s.State())
	}
	if s.Attempts() != 0 {
		t.Errorf("Expected no budget consumed, got %d", s.Attempts())
	}
}

func TestSupervisor_StopCancelsPendingRetry(t *testing.T) {
	// Pending retries must never fire after Stop, and
	// Stop is idempotent from any state.
	s := New("test", testPolicy(3, 50*time.Millisecond), zerolog.Nop())

	restarted := make(chan struct{}, 1)
	s.OnRestart(func(int) { restarted <- struct{}{} })

	s.Connecting()
	s.Connected()
	s.Fail(E(KindNetwork, "socket dropped"))
	s.Stop()

	select {
	case <-restarted:
		t.Fatal("Retry fired after Stop")
	case <-time.After(150 * time.Millisecond):
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %v", s.State())
	}

	// Idempotent: stopping again, or when never started, is a no-op
	s.Stop()
	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("Expected idle after repeated stop, got %v", s.State())
	}
}

func TestSupervisor_FailWithDelayConsumesBudget(t *testing.T) {
	s := New("test", testPolicy(2, time.Minute), zerolog.Nop())

	restarted := make(chan struct{}, 1)
	s.OnRestart(func(int) { restarted <- struct{}{} })

	s.Connecting()
	s.Connected()
	s.FailWithDelay(E(KindEngineEnded, "engine ended"), time.Millisecond)

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("Fixed-delay restart never fired")
	}
	if s.Attempts() != 1 {
		t.Errorf("Expected natural end to consume budget, got %d attempts", s.Attempts())
	}
}

func TestClassOf_UnknownIsRetryable(t *testing.T) {
	if got := ClassOf(errors.New("mystery")); got != ClassRetryable {
		t.Errorf("Expected unclassified errors to be retryable, got %v", got)
	}
}

func TestAttempt_StopsOnTerminal(t *testing.T) {
	calls := 0
	err := Attempt(context.Background(), testPolicy(3, time.Millisecond), func() error {
		calls++
		return E(KindPayloadTooLarge, "clip exceeds provider limit")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected payload error to abort retries, got %d calls", calls)
	}
}

func TestAttempt_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Attempt(context.Background(), testPolicy(3, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return E(KindServiceUnavailable, "provider 503")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("provider", 3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return E(KindServiceUnavailable, "503") })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open after 3 failures, got %v", cb.State())
	}
	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_PayloadErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("provider", 2, time.Minute)

	for i := 0; i < 10; i++ {
		_ = cb.Call(func() error { return E(KindPayloadTooSmall, "clip below provider minimum") })
	}
	if cb.State() != CircuitClosed {
		t.Errorf("Expected payload errors to leave breaker closed, got %v", cb.State())
	}
}
