package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/auralink/logger"
	"github.com/user/auralink/util"
	"github.com/user/auralink/wire"
)

// SocketLink carries link traffic between two processes over a Unix domain
// socket. Each item on the wire is length(u32 BE) + kind(1) + data, with the
// kind byte separating discovery broadcasts from frames.
type SocketLink struct {
	mu        sync.Mutex
	name      string
	conn      net.Conn
	listener  net.Listener
	mtu       int
	onFrame   func([]byte)
	onScan    func([]byte)
	advStop   chan struct{}
	stopChan  chan struct{}
	writeMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
	prefix    string
}

func socketPath(name string) string {
	return filepath.Join(util.GetSocketDir(), fmt.Sprintf("auralink-%s.sock", name))
}

// ListenSocket creates a link that waits for one peer to dial in. The read
// loop starts as soon as the peer connects.
func ListenSocket(name string, mtu int) (*SocketLink, error) {
	if mtu <= 0 {
		mtu = wire.DefaultTransportUnit
	}

	path := socketPath(name)
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}

	l := &SocketLink{
		name:     name,
		listener: listener,
		mtu:      mtu,
		stopChan: make(chan struct{}),
		prefix:   name + " Link",
	}

	logger.Debug(l.prefix, "🔌 Socket listener created at %s", path)

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// DialSocket connects to a listening peer's socket
func DialSocket(name string, mtu int) (*SocketLink, error) {
	if mtu <= 0 {
		mtu = wire.DefaultTransportUnit
	}

	path := socketPath(name)
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", name, err)
	}

	l := &SocketLink{
		name:     name,
		conn:     conn,
		mtu:      mtu,
		stopChan: make(chan struct{}),
		prefix:   name + " Link",
	}

	logger.Debug(l.prefix, "🔌 Connected to %s", path)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop(conn)
	}()
	return l, nil
}

// acceptLoop takes the first inbound connection and reads from it
func (l *SocketLink) acceptLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		// Accept deadline allows periodic stopChan checks
		if unixListener, ok := l.listener.(*net.UnixListener); ok {
			unixListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := l.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-l.stopChan:
				return
			default:
				logger.Warn(l.prefix, "Accept error: %v", err)
				continue
			}
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		logger.Debug(l.prefix, "📞 Accepted peer connection")
		l.readLoop(conn)
		return
	}
}

// readLoop reads length-prefixed items until the connection closes
func (l *SocketLink) readLoop(conn net.Conn) {
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		var itemLen uint32
		if err := binary.Read(conn, binary.BigEndian, &itemLen); err != nil {
			if err != io.EOF {
				logger.Trace(l.prefix, "Read error: %v", err)
			}
			return
		}
		if itemLen == 0 || itemLen > uint32(wire.MaxTransportUnit+1) {
			logger.Warn(l.prefix, "⚠️  Dropping item with bad length %d", itemLen)
			return
		}

		item := make([]byte, itemLen)
		if _, err := io.ReadFull(conn, item); err != nil {
			logger.Warn(l.prefix, "Failed to read item body: %v", err)
			return
		}

		kind, data := item[0], item[1:]
		l.mu.Lock()
		onFrame, onScan := l.onFrame, l.onScan
		l.mu.Unlock()

		switch kind {
		case kindFrame:
			logger.Trace(l.prefix, "📥 RX frame (%d bytes)", len(data))
			if onFrame != nil {
				onFrame(data)
			}
		case kindDiscovery:
			if onScan != nil {
				onScan(data)
			}
		default:
			logger.Warn(l.prefix, "⚠️  Unknown traffic kind 0x%02X", kind)
		}
	}
}

// writeItem sends one length-prefixed item
func (l *SocketLink) writeItem(kind byte, data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no peer connected")
	}

	item := make([]byte, 1+len(data))
	item[0] = kind
	copy(item[1:], data)

	// One writer at a time keeps the length-prefix framing intact
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := binary.Write(conn, binary.BigEndian, uint32(len(item))); err != nil {
		return fmt.Errorf("failed to write item length: %w", err)
	}
	if _, err := conn.Write(item); err != nil {
		return fmt.Errorf("failed to write item: %w", err)
	}
	return nil
}

// Broadcast repeats the discovery payload until StopBroadcast
func (l *SocketLink) Broadcast(payload []byte) error {
	snapshot := make([]byte, len(payload))
	copy(snapshot, payload)

	l.mu.Lock()
	if l.advStop != nil {
		close(l.advStop)
	}
	stop := make(chan struct{})
	l.advStop = stop
	l.mu.Unlock()

	if err := l.writeItem(kindDiscovery, snapshot); err != nil {
		return err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(broadcastIntervalMillis * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				if err := l.writeItem(kindDiscovery, snapshot); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// StopBroadcast stops the repeating broadcast
func (l *SocketLink) StopBroadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.advStop != nil {
		close(l.advStop)
		l.advStop = nil
	}
}

// Send transmits one frame to the peer
func (l *SocketLink) Send(frame []byte) error {
	if len(frame) > l.mtu-wire.TransportOverhead {
		return fmt.Errorf("frame of %d bytes exceeds transport unit %d", len(frame), l.mtu)
	}
	logger.Trace(l.prefix, "📤 TX frame (%d bytes)", len(frame))
	return l.writeItem(kindFrame, frame)
}

// SetFrameHandler registers the inbound frame callback
func (l *SocketLink) SetFrameHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

// SetDiscoveryHandler registers the inbound broadcast callback
func (l *SocketLink) SetDiscoveryHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onScan = fn
}

// MTU returns the transport unit
func (l *SocketLink) MTU() int {
	return l.mtu
}

// Close shuts the link down and removes the socket file when listening
func (l *SocketLink) Close() error {
	l.closeOnce.Do(func() {
		l.StopBroadcast()
		close(l.stopChan)

		l.mu.Lock()
		conn, listener := l.conn, l.listener
		l.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if listener != nil {
			listener.Close()
			os.Remove(socketPath(l.name))
		}

		l.wg.Wait()
		logger.Debug(l.prefix, "🧹 Link closed")
	})
	return nil
}
