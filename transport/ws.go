package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/auralink/logger"
	"github.com/user/auralink/wire"
)

// WSLink carries link traffic between hosts over a websocket. Each binary
// message is kind(1) + data, reusing the same traffic-class markers as the
// socket link. Websocket framing already delimits messages, so no length
// prefix is needed.
type WSLink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
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

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AcceptWS upgrades an HTTP request into a link. The caller mounts this in
// its own handler or mux.
func AcceptWS(w http.ResponseWriter, r *http.Request, mtu int) (*WSLink, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade websocket: %w", err)
	}
	return newWSLink(conn, mtu, "ws-server"), nil
}

// DialWS connects to a listening peer at the given websocket URL
func DialWS(url string, mtu int) (*WSLink, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return newWSLink(conn, mtu, "ws-client"), nil
}

func newWSLink(conn *websocket.Conn, mtu int, prefix string) *WSLink {
	if mtu <= 0 {
		mtu = wire.DefaultTransportUnit
	}

	l := &WSLink{
		conn:     conn,
		mtu:      mtu,
		stopChan: make(chan struct{}),
		prefix:   prefix + " Link",
	}

	l.wg.Add(1)
	go l.readLoop()
	return l
}

// readLoop reads binary messages until the connection closes
func (l *WSLink) readLoop() {
	defer l.wg.Done()

	for {
		msgType, item, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.stopChan:
			default:
				logger.Trace(l.prefix, "Read error: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(item) == 0 {
			continue
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

// writeItem sends one binary message. Gorilla connections allow a single
// concurrent writer, so writes are serialized here.
func (l *WSLink) writeItem(kind byte, data []byte) error {
	item := make([]byte, 1+len(data))
	item[0] = kind
	copy(item[1:], data)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.WriteMessage(websocket.BinaryMessage, item); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

// Broadcast repeats the discovery payload until StopBroadcast
func (l *WSLink) Broadcast(payload []byte) error {
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
func (l *WSLink) StopBroadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.advStop != nil {
		close(l.advStop)
		l.advStop = nil
	}
}

// Send transmits one frame to the peer
func (l *WSLink) Send(frame []byte) error {
	if len(frame) > l.mtu-wire.TransportOverhead {
		return fmt.Errorf("frame of %d bytes exceeds transport unit %d", len(frame), l.mtu)
	}
	logger.Trace(l.prefix, "📤 TX frame (%d bytes)", len(frame))
	return l.writeItem(kindFrame, frame)
}

// SetFrameHandler registers the inbound frame callback
func (l *WSLink) SetFrameHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

// SetDiscoveryHandler registers the inbound broadcast callback
func (l *WSLink) SetDiscoveryHandler(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onScan = fn
}

// MTU returns the transport unit
func (l *WSLink) MTU() int {
	return l.mtu
}

// Close shuts the link down
func (l *WSLink) Close() error {
	l.closeOnce.Do(func() {
		l.StopBroadcast()
		close(l.stopChan)
		l.conn.Close()
		l.wg.Wait()
		logger.Debug(l.prefix, "🧹 Link closed")
	})
	return nil
}
