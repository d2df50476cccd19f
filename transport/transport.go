package transport

// Link is a bidirectional radio stand-in. It carries two traffic classes:
// connectionless discovery broadcasts and connection-oriented frames. The
// link delivers raw bytes only; framing above the transport unit is the
// caller's problem.
type Link interface {
	// Broadcast starts repeating the discovery payload until StopBroadcast.
	// Calling it again replaces the payload.
	Broadcast(payload []byte) error

	// StopBroadcast stops the repeating broadcast. No-op when idle.
	StopBroadcast()

	// Send transmits one frame to the connected peer. The frame must not
	// exceed MTU minus the link's own overhead.
	Send(frame []byte) error

	// SetFrameHandler registers the inbound frame callback. Frames arriving
	// before a handler is set are dropped.
	SetFrameHandler(fn func(frame []byte))

	// SetDiscoveryHandler registers the inbound broadcast callback.
	SetDiscoveryHandler(fn func(payload []byte))

	// MTU returns the negotiated transport unit in bytes.
	MTU() int

	// Close tears the link down. Pending deliveries may be dropped.
	Close() error
}

// Traffic class markers on multiplexed links
const (
	kindFrame     byte = 1
	kindDiscovery byte = 2
)

// broadcastIntervalMillis is how often an active broadcast repeats. Real
// radios advertise continuously; receivers deduplicate.
const broadcastIntervalMillis = 250
