package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/auralink/wire"
)

// loopbackDelivery is one queued item crossing the pair
type loopbackDelivery struct {
	kind byte
	data []byte
}

// Loopback is an in-process link joined to a peer Loopback. Deliveries cross
// on a buffered channel drained by a pump goroutine, so the sender never
// blocks on the receiver's handler and ordering is preserved per link.
type Loopback struct {
	mu         sync.Mutex
	peer       *Loopback
	mtu        int
	onFrame    func([]byte)
	onScan     func([]byte)
	advertised []byte
	advStop    chan struct{}
	inbox      chan loopbackDelivery
	done       chan struct{}
	closeOnce  sync.Once
}

// NewLoopbackPair creates two linked loopback ends with the given transport
// unit. A non-positive mtu falls back to the protocol default.
func NewLoopbackPair(mtu int) (*Loopback, *Loopback) {
	if mtu <= 0 {
		mtu = wire.DefaultTransportUnit
	}

	a := newLoopback(mtu)
	b := newLoopback(mtu)
	a.peer = b
	b.peer = a

	go a.pump()
	go b.pump()
	return a, b
}

func newLoopback(mtu int) *Loopback {
	return &Loopback{
		mtu:   mtu,
		inbox: make(chan loopbackDelivery, 256),
		done:  make(chan struct{}),
	}
}

// pump drains the inbox and dispatches to the registered handlers
func (l *Loopback) pump() {
	for {
		select {
		case <-l.done:
			return
		case d := <-l.inbox:
			l.mu.Lock()
			onFrame, onScan := l.onFrame, l.onScan
			l.mu.Unlock()

			switch d.kind {
			case kindFrame:
				if onFrame != nil {
					onFrame(d.data)
				}
			case kindDiscovery:
				if onScan != nil {
					onScan(d.data)
				}
			}
		}
	}
}

// deliver enqueues an item for the peer's pump
func (l *Loopback) deliver(kind byte, data []byte) error {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("loopback link has no peer")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case peer.inbox <- loopbackDelivery{kind: kind, data: buf}:
		return nil
	case <-peer.done:
		return fmt.Errorf("loopback peer closed")
	}
}

// Broadcast repeats the discovery payload to the peer until StopBroadcast
func (l *Loopback) Broadcast(payload []byte) error {
	l.mu.Lock()
	if l.advStop != nil {
		close(l.advStop)
	}
	stop := make(chan struct{})
	l.advStop = stop
	l.advertised = make([]byte, len(payload))
	copy(l.advertised, payload)
	snapshot := l.advertised
	l.mu.Unlock()

	if err := l.deliver(kindDiscovery, snapshot); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(broadcastIntervalMillis * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.done:
				return
			case <-ticker.C:
				if err := l.deliver(kindDiscovery, snapshot); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// StopBroadcast stops the repeating broadcast
func (l *Loopback) StopBroadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.advStop != nil {
		close(l.advStop)
		l.advStop = nil
	}
	l.advertised = nil
}

// Send transmits one frame to the peer
func (l *Loopback) Send(frame []byte) error {
	if len(frame) > l.mtu-wire.TransportOverhead {
		return fmt.Errorf("frame of %d bytes exceeds transport unit %d", len(frame), l.mtu)
	}
	return l.deliver(kindFrame, frame)
}

// SetFrameHandler registers the inbound frame callback
func (l *Loopback) SetFrameHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

// SetDiscoveryHandler registers the inbound broadcast callback
func (l *Loopback) SetDiscoveryHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onScan = fn
}

// MTU returns the transport unit
func (l *Loopback) MTU() int {
	return l.mtu
}

// Close shuts this end down. The peer's sends start failing.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		l.StopBroadcast()
		close(l.done)
	})
	return nil
}
