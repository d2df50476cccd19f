package advertise

import (
	"sync"
	"testing"
	"time"

	"github.com/user/auralink/wire"
)

// fakeBroadcaster records start requests and lets the test fire the hardware
// callback whenever it wants, like the async radio stack does.
type fakeBroadcaster struct {
	mu        sync.Mutex
	starts    int
	stops     int
	payloads  [][]byte
	callbacks []StartCallback
}

func (b *fakeBroadcaster) StartBroadcast(payload []byte, callback StartCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	b.payloads = append(b.payloads, payload)
	b.callbacks = append(b.callbacks, callback)
}

func (b *fakeBroadcaster) StopBroadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
}

func (b *fakeBroadcaster) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

func (b *fakeBroadcaster) lastCallback() StartCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.callbacks) == 0 {
		return nil
	}
	return b.callbacks[len(b.callbacks)-1]
}

func allowAllPolicy() *StaticPolicy {
	return &StaticPolicy{
		Visibility:  true,
		Permissions: true,
		Radio:       true,
		Location:    true,
		Gender:      wire.GenderFemale,
	}
}

func TestStartTransitionsToActiveOnSuccess(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-a", broadcaster)

	var gotActive bool
	var gotReason string
	controller.AddListener(func(active bool, errReason string) {
		gotActive = active
		gotReason = errReason
	})

	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if state, _ := controller.State(); state != StateStarting {
		t.Fatalf("Expected StateStarting before callback, got %s", state)
	}

	broadcaster.lastCallback().OnStartSuccess()

	if state, _ := controller.State(); state != StateActive {
		t.Fatalf("Expected StateActive after success callback, got %s", state)
	}
	if !gotActive || gotReason != "" {
		t.Errorf("Expected listener to see (true, \"\"), got (%v, %q)", gotActive, gotReason)
	}
}

func TestStartBroadcastsDiscoveryPayload(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-payload", broadcaster)

	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(broadcaster.payloads) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(broadcaster.payloads))
	}
	decoded, ok := wire.DecodeDiscoveryPayload(broadcaster.payloads[0])
	if !ok {
		t.Fatal("Broadcast payload did not decode as a discovery payload")
	}
	if decoded.IdentityHash != wire.HashIdentity("token-payload") {
		t.Error("Broadcast payload carries wrong identity hash")
	}
	if decoded.GenderTag != wire.GenderFemale {
		t.Errorf("Broadcast payload carries wrong gender tag: %d", decoded.GenderTag)
	}
}

func TestStartWhileStartingIsCoalesced(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-b", broadcaster)

	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("Second start should coalesce, got error: %v", err)
	}

	if broadcaster.startCount() != 1 {
		t.Fatalf("Expected exactly 1 hardware start, got %d", broadcaster.startCount())
	}
}

func TestStartWhileActiveIsNoOp(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-c", broadcaster)

	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartSuccess()

	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("Start while active should be no-op success, got: %v", err)
	}
	if broadcaster.startCount() != 1 {
		t.Fatalf("Expected 1 hardware start, got %d", broadcaster.startCount())
	}
}

func TestStopBeforeCallbackDiscardsLateCallback(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-d", broadcaster)

	controller.Start(allowAllPolicy())
	late := broadcaster.lastCallback()

	controller.Stop()

	// The hardware answers after the stop; the callback generation is stale
	late.OnStartSuccess()

	if state, _ := controller.State(); state != StateIdle {
		t.Fatalf("Expected StateIdle after stale callback, got %s", state)
	}
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-e", broadcaster)

	notifications := 0
	controller.AddListener(func(bool, string) { notifications++ })

	controller.Stop()

	if broadcaster.stops != 0 {
		t.Errorf("Expected no hardware stop, got %d", broadcaster.stops)
	}
	if notifications != 0 {
		t.Errorf("Expected no listener notification, got %d", notifications)
	}
}

func TestPreconditionOrderAndReasons(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*StaticPolicy)
		expected string
	}{
		{"visibility off", func(p *StaticPolicy) { p.Visibility = false }, ReasonVisibilityDisabled},
		{"permissions missing", func(p *StaticPolicy) { p.Permissions = false }, ReasonPermissionDenied},
		{"radio off", func(p *StaticPolicy) { p.Radio = false }, ReasonRadioOff},
		{"location off", func(p *StaticPolicy) { p.Location = false }, ReasonLocationDisabled},
		{"gender unset", func(p *StaticPolicy) { p.Gender = 0 }, ReasonIdentityUnconfigured},
	}

	for _, c := range cases {
		broadcaster := &fakeBroadcaster{}
		controller := NewController("token-f", broadcaster)

		var gotReason string
		controller.AddListener(func(active bool, errReason string) {
			if active {
				t.Errorf("%s: listener saw active=true", c.name)
			}
			gotReason = errReason
		})

		policy := allowAllPolicy()
		c.mutate(policy)

		if err := controller.Start(policy); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
		if gotReason != c.expected {
			t.Errorf("%s: expected reason %q, got %q", c.name, c.expected, gotReason)
		}
		if broadcaster.startCount() != 0 {
			t.Errorf("%s: precondition failure must not reach hardware", c.name)
		}
		if state, lastErr := controller.State(); state != StateIdle || lastErr != c.expected {
			t.Errorf("%s: expected Idle with reason %q, got %s/%q", c.name, c.expected, state, lastErr)
		}
	}
}

func TestVisibilityOffShortCircuitsBeforePermissions(t *testing.T) {
	// Both fail; the first precondition in order names the reason
	policy := allowAllPolicy()
	policy.Visibility = false
	policy.Permissions = false

	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-g", broadcaster)

	controller.Start(policy)
	if _, lastErr := controller.State(); lastErr != ReasonVisibilityDisabled {
		t.Errorf("Expected %q, got %q", ReasonVisibilityDisabled, lastErr)
	}
}

func TestHardwareFailureReturnsToIdleWithNamedError(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-h", broadcaster)

	var gotReason string
	controller.AddListener(func(active bool, errReason string) { gotReason = errReason })

	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartFailure(BroadcastFailedInternalError)

	state, lastErr := controller.State()
	if state != StateIdle {
		t.Fatalf("Expected StateIdle after hardware failure, got %s", state)
	}
	if lastErr != "broadcast_internal_error" {
		t.Errorf("Expected named error code, got %q", lastErr)
	}
	if gotReason != "broadcast_internal_error" {
		t.Errorf("Expected listener to see named error, got %q", gotReason)
	}

	// A fresh start after a failure issues a new hardware request
	if err := controller.Start(allowAllPolicy()); err != nil {
		t.Fatalf("Restart after failure failed: %v", err)
	}
	if broadcaster.startCount() != 2 {
		t.Errorf("Expected 2 hardware starts, got %d", broadcaster.startCount())
	}
}

func TestListenerPanicIsIsolated(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-i", broadcaster)

	secondListenerRan := false
	controller.AddListener(func(bool, string) { panic("listener bug") })
	controller.AddListener(func(bool, string) { secondListenerRan = true })

	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartSuccess()

	if !secondListenerRan {
		t.Fatal("Expected second listener to run despite first listener panicking")
	}
}

func TestStopAfterIsCancelledByNewerActivity(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-j", broadcaster)

	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartSuccess()

	controller.StopAfter(10 * time.Millisecond)

	// A stop and restart bumps the generation, so the scheduled stop is stale
	controller.Stop()
	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartSuccess()

	time.Sleep(50 * time.Millisecond)

	if state, _ := controller.State(); state != StateActive {
		t.Fatalf("Expected stale scheduled stop to be skipped, state is %s", state)
	}
}

func TestStopAfterFiresWhenNothingIntervenes(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	controller := NewController("token-k", broadcaster)

	controller.Start(allowAllPolicy())
	broadcaster.lastCallback().OnStartSuccess()

	controller.StopAfter(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if state, _ := controller.State(); state != StateIdle {
		t.Fatalf("Expected scheduled stop to fire, state is %s", state)
	}
}
