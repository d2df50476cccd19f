package advertise

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/auralink/logger"
	"github.com/user/auralink/wire"
)

// State is the advertising session state. Hardware failure lands back in
// StateIdle with the error kept alongside, so there is no terminal state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Named reasons for policy rejections. The first failing precondition
// short-circuits the start and no hardware call is made.
const (
	ReasonVisibilityDisabled   = "visibility_disabled"
	ReasonPermissionDenied     = "permission_denied"
	ReasonRadioOff             = "radio_off"
	ReasonLocationDisabled     = "location_disabled"
	ReasonIdentityUnconfigured = "identity_unconfigured"
)

// Hardware error codes reported by the broadcast radio stack
const (
	BroadcastFailedDataTooLarge        = 1
	BroadcastFailedTooManyBroadcasters = 2
	BroadcastFailedAlreadyStarted      = 3
	BroadcastFailedInternalError       = 4
	BroadcastFailedFeatureUnsupported  = 5
)

// broadcastErrorName maps a hardware error code to a stable named reason
func broadcastErrorName(code int) string {
	switch code {
	case BroadcastFailedDataTooLarge:
		return "broadcast_data_too_large"
	case BroadcastFailedTooManyBroadcasters:
		return "broadcast_too_many_broadcasters"
	case BroadcastFailedAlreadyStarted:
		return "broadcast_already_started"
	case BroadcastFailedInternalError:
		return "broadcast_internal_error"
	case BroadcastFailedFeatureUnsupported:
		return "broadcast_feature_unsupported"
	default:
		return fmt.Sprintf("broadcast_error_%d", code)
	}
}

// Policy answers the preconditions evaluated, in order, before any hardware
// request: user visibility setting, permissions, radio power, location
// services (a platform co-requirement for scanning), and a configured
// gender tag.
type Policy interface {
	VisibilityEnabled() bool
	PermissionsGranted() bool
	RadioPoweredOn() bool
	LocationEnabled() bool
	GenderTag() (byte, bool)
}

// StaticPolicy is a fixed-answer Policy for tests and demos
type StaticPolicy struct {
	Visibility  bool
	Permissions bool
	Radio       bool
	Location    bool
	Gender      byte
}

func (p *StaticPolicy) VisibilityEnabled() bool  { return p.Visibility }
func (p *StaticPolicy) PermissionsGranted() bool { return p.Permissions }
func (p *StaticPolicy) RadioPoweredOn() bool     { return p.Radio }
func (p *StaticPolicy) LocationEnabled() bool    { return p.Location }
func (p *StaticPolicy) GenderTag() (byte, bool) {
	if p.Gender == 0 {
		return 0, false
	}
	return p.Gender, true
}

// StartCallback is how the broadcast hardware reports the outcome of an
// asynchronous start request.
type StartCallback interface {
	OnStartSuccess()
	OnStartFailure(errorCode int)
}

// Broadcaster is the hardware side of the controller: it begins and ends
// the out-of-band broadcast of the discovery payload.
type Broadcaster interface {
	StartBroadcast(payload []byte, callback StartCallback)
	StopBroadcast()
}

// StateListener observes every state transition with the new boolean state
// and an optional error reason. This is the only interface the controller
// exposes upward.
type StateListener func(active bool, errReason string)

// Controller owns the process-wide "are we currently broadcasting" state.
// All entry points run under one mutex so transitions are linearizable, and
// hardware callbacks carry the generation active when their request was
// issued; stale generations are discarded rather than applied.
type Controller struct {
	mu          sync.Mutex
	state       State
	generation  uint64
	lastError   string
	broadcaster Broadcaster
	identity    string
	listeners   []StateListener
	prefix      string
}

// NewController creates a controller in StateIdle
func NewController(identityToken string, broadcaster Broadcaster) *Controller {
	return &Controller{
		state:       StateIdle,
		broadcaster: broadcaster,
		identity:    identityToken,
		prefix:      wire.HashIdentity(identityToken).Short() + " Advertise",
	}
}

// AddListener registers a state-change listener
func (c *Controller) AddListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State returns the current state and last error reason
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastError
}

// Generation returns the current request generation. Exposed for scheduled
// actions that want to no-op if the state has moved on by the time they fire.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Start evaluates the policy preconditions in order and, if they all hold,
// asks the hardware to begin broadcasting the discovery payload. A call while
// already Active is a no-op success; a call while Starting is coalesced into
// the in-flight attempt, never a second hardware request.
func (c *Controller) Start(policy Policy) error {
	c.mu.Lock()

	switch c.state {
	case StateActive:
		c.mu.Unlock()
		logger.Debug(c.prefix, "Start while active: no-op")
		return nil
	case StateStarting:
		c.mu.Unlock()
		logger.Debug(c.prefix, "Start while starting: coalesced into in-flight attempt")
		return nil
	}

	reason, gender := checkPolicy(policy)
	if reason != "" {
		c.lastError = reason
		c.mu.Unlock()
		logger.Info(c.prefix, "📡 Not advertising: %s", reason)
		c.notify(false, reason)
		return fmt.Errorf("advertising precondition failed: %s", reason)
	}

	payload := wire.EncodeDiscoveryPayload(wire.HashIdentity(c.identity), gender)

	c.state = StateStarting
	c.generation++
	gen := c.generation
	broadcaster := c.broadcaster
	c.mu.Unlock()

	logger.Debug(c.prefix, "📡 Requesting broadcast start (generation %d)", gen)
	broadcaster.StartBroadcast(payload, &startCallback{controller: c, generation: gen})
	return nil
}

// checkPolicy returns the first failing precondition's reason, or the
// configured gender tag when everything holds.
func checkPolicy(policy Policy) (string, byte) {
	if !policy.VisibilityEnabled() {
		return ReasonVisibilityDisabled, 0
	}
	if !policy.PermissionsGranted() {
		return ReasonPermissionDenied, 0
	}
	if !policy.RadioPoweredOn() {
		return ReasonRadioOff, 0
	}
	if !policy.LocationEnabled() {
		return ReasonLocationDisabled, 0
	}
	gender, ok := policy.GenderTag()
	if !ok {
		return ReasonIdentityUnconfigured, 0
	}
	return "", gender
}

// Stop ends the broadcast. A call while Idle is a no-op. Bumping the
// generation invalidates any in-flight start callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}

	c.state = StateIdle
	c.lastError = ""
	c.generation++
	broadcaster := c.broadcaster
	c.mu.Unlock()

	logger.Info(c.prefix, "📡 Stopped advertising")
	broadcaster.StopBroadcast()
	c.notify(false, "")
}

// StopAfter schedules a stop. The timer captures the current generation and
// does nothing if a newer start or stop happened before it fires.
func (c *Controller) StopAfter(d time.Duration) *time.Timer {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	return time.AfterFunc(d, func() {
		c.mu.Lock()
		stale := gen != c.generation
		c.mu.Unlock()
		if stale {
			logger.Debug(c.prefix, "Scheduled stop skipped: state moved on (generation %d)", gen)
			return
		}
		c.Stop()
	})
}

// onStartResult applies a hardware callback if its generation is still
// current.
func (c *Controller) onStartResult(generation uint64, errorCode int, success bool) {
	c.mu.Lock()

	if generation != c.generation {
		c.mu.Unlock()
		logger.Debug(c.prefix, "Discarding stale broadcast callback (generation %d, current %d)",
			generation, c.generation)
		return
	}
	if c.state != StateStarting {
		c.mu.Unlock()
		logger.Debug(c.prefix, "Broadcast callback in state %s ignored", c.state)
		return
	}

	if success {
		c.state = StateActive
		c.lastError = ""
		c.mu.Unlock()
		logger.Info(c.prefix, "📡 Started advertising")
		c.notify(true, "")
		return
	}

	reason := broadcastErrorName(errorCode)
	c.state = StateIdle
	c.lastError = reason
	c.mu.Unlock()
	logger.Warn(c.prefix, "❌ Broadcast start failed: %s", reason)
	c.notify(false, reason)
}

// notify fans the transition out to all listeners, isolating each listener's
// failure so one bad listener cannot starve the rest.
func (c *Controller) notify(active bool, errReason string) {
	c.mu.Lock()
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn(c.prefix, "⚠️  State listener panicked: %v", r)
				}
			}()
			l(active, errReason)
		}()
	}
}

// startCallback carries the generation of one hardware start request
type startCallback struct {
	controller *Controller
	generation uint64
}

func (cb *startCallback) OnStartSuccess() {
	cb.controller.onStartResult(cb.generation, 0, true)
}

func (cb *startCallback) OnStartFailure(errorCode int) {
	cb.controller.onStartResult(cb.generation, errorCode, false)
}
