package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/auralink/advertise"
	"github.com/user/auralink/logger"
	"github.com/user/auralink/session"
	"github.com/user/auralink/transport"
	"github.com/user/auralink/util"
	"github.com/user/auralink/wire"
)

// Device binds one identity to one link: outbound messages are split into
// frames sized to the link's transport unit, inbound frames are reassembled
// and interpreted, and the advertising controller drives the link's
// discovery broadcast.
type Device struct {
	instanceID  string
	localHash   wire.IdentityHash
	localGender byte

	link        transport.Link
	splitter    *wire.Splitter
	reassembler *wire.Reassembler
	session     *session.Engine
	controller  *advertise.Controller
	peers       *session.IdentityCache

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	prefix   string
}

// NewDevice wires a device onto a link. Nothing runs until Start.
func NewDevice(identityToken string, genderTag byte, link transport.Link) *Device {
	localHash := wire.HashIdentity(identityToken)

	d := &Device{
		instanceID:  uuid.New().String(),
		localHash:   localHash,
		localGender: genderTag,
		link:        link,
		splitter:    wire.NewSplitter(link.MTU()),
		reassembler: wire.NewReassembler(localHash.Short() + " Reassembly"),
		peers:       session.NewIdentityCache(localHash, util.GetDeviceCacheDir(localHash.String())),
		prefix:      localHash.Short() + " Device",
	}
	d.session = session.NewEngine(identityToken, genderTag, d)
	d.controller = advertise.NewController(identityToken, &linkBroadcaster{link: link})

	link.SetFrameHandler(d.onFrame)
	link.SetDiscoveryHandler(d.onScan)

	// Blocked peers are dropped from the persisted cache
	d.session.AddListener(session.Callbacks{
		OnBlockReceived: func(peer wire.IdentityHash) { d.peers.Forget(peer) },
	})

	return d
}

// Start loads persisted peer state and begins housekeeping
func (d *Device) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.stopChan = make(chan struct{})
	d.mu.Unlock()

	if err := d.peers.LoadFromDisk(); err != nil {
		logger.Warn(d.prefix, "⚠️  Failed to load peer cache: %v", err)
	}

	d.wg.Add(1)
	go d.sweepLoop()

	logger.Info(d.prefix, "✅ Device started (instance %s)", d.instanceID[:8])
	logger.DebugJSON(d.prefix, "Device configuration", d.configSnapshot())
	return nil
}

// configSnapshot renders the device's effective configuration as a proto
// struct so it logs through the protojson path like other structured dumps.
func (d *Device) configSnapshot() *structpb.Struct {
	snapshot, err := structpb.NewStruct(map[string]interface{}{
		"instanceId":    d.instanceID,
		"identityHash":  d.localHash.String(),
		"genderTag":     int(d.localGender),
		"transportUnit": d.link.MTU(),
		"chunkPayload":  d.splitter.ChunkPayload(),
		"knownPeers":    d.peers.Count(),
	})
	if err != nil {
		return &structpb.Struct{}
	}
	return snapshot
}

// Stop ends advertising, stops housekeeping, persists peer state, and closes
// the link.
func (d *Device) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	stopChan := d.stopChan
	d.mu.Unlock()

	d.controller.Stop()
	close(stopChan)
	d.wg.Wait()

	if err := d.peers.SaveToDisk(); err != nil {
		logger.Warn(d.prefix, "⚠️  Failed to save peer cache: %v", err)
	}
	d.link.Close()

	logger.Info(d.prefix, "Device stopped")
}

// sweepLoop evicts reassembly buffers that stopped receiving chunks
func (d *Device) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(wire.ReassemblySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			if evicted := d.reassembler.EvictIdle(wire.ReassemblyIdleTimeout); evicted > 0 {
				logger.Debug(d.prefix, "Evicted %d stalled reassembly buffers", evicted)
			}
		}
	}
}

// onFrame handles one raw frame off the link
func (d *Device) onFrame(raw []byte) {
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		logger.Warn(d.prefix, "⚠️  Dropping undecodable frame: %v", err)
		return
	}

	completed, err := d.reassembler.Ingest(frame)
	if err != nil {
		logger.Warn(d.prefix, "⚠️  Reassembly error for message id=%d: %v", frame.MessageID, err)
		return
	}
	if completed != nil {
		d.session.HandleMessage(completed)
	}
}

// onScan handles one discovery broadcast off the link
func (d *Device) onScan(raw []byte) {
	payload, ok := wire.DecodeDiscoveryPayload(raw)
	if !ok {
		return // unrelated broadcast traffic
	}
	if payload.IdentityHash == d.localHash {
		return
	}

	if d.peers.MarkSeen(payload.IdentityHash, payload.GenderTag) {
		logger.Debug(d.prefix, "👀 First sighting of %s", payload.IdentityHash.Short())
	}
	d.session.HandleDiscovery(payload)
}

// SendMessage splits a message into frames and pushes them onto the link.
// This is the session engine's outbound path as well as the device's own.
func (d *Device) SendMessage(m wire.Message) error {
	frames, err := d.splitter.Split(m.Type(), m.EncodePayload())
	if err != nil {
		return fmt.Errorf("failed to split %s message: %w", wire.MessageTypeName(m.Type()), err)
	}

	for _, frame := range frames {
		if err := d.link.Send(frame.Encode()); err != nil {
			return fmt.Errorf("failed to send frame %d of message id=%d: %w",
				frame.ChunkOffset, frame.MessageID, err)
		}
	}

	logger.Trace(d.prefix, "📤 Sent %s message in %d frames",
		wire.MessageTypeName(m.Type()), len(frames))
	return nil
}

// StartAdvertising asks the controller to begin broadcasting, subject to its
// policy preconditions.
func (d *Device) StartAdvertising(policy advertise.Policy) error {
	return d.controller.Start(policy)
}

// StopAdvertising ends the broadcast
func (d *Device) StopAdvertising() {
	d.controller.Stop()
}

// Advertising exposes the controller for state queries and listeners
func (d *Device) Advertising() *advertise.Controller {
	return d.controller
}

// AddListener registers a session event listener
func (d *Device) AddListener(cb session.Callbacks) {
	d.session.AddListener(cb)
}

// LocalHash returns the device's identity hash
func (d *Device) LocalHash() wire.IdentityHash {
	return d.localHash
}

// Peers exposes the persisted peer cache
func (d *Device) Peers() *session.IdentityCache {
	return d.peers
}

// PendingRequests returns the match requests awaiting a decision
func (d *Device) PendingRequests() []*session.PendingRequest {
	return d.session.PendingRequests()
}

// SendMatchRequest asks the connected peer for a match
func (d *Device) SendMatchRequest() error {
	logger.Info(d.prefix, "💌 Sending match request")
	return d.SendMessage(&wire.MatchRequest{
		IdentityHash: d.localHash,
		GenderTag:    d.localGender,
	})
}

// AcceptRequest accepts a pending match request by id
func (d *Device) AcceptRequest(requestID string) (*session.Match, bool) {
	return d.session.AcceptRequest(requestID)
}

// RejectRequest rejects a pending match request by id
func (d *Device) RejectRequest(requestID string) bool {
	return d.session.RejectRequest(requestID)
}

// SendChat sends a chat message to the connected peer
func (d *Device) SendChat(text string) error {
	return d.SendMessage(&wire.Chat{
		IdentityHash: d.localHash,
		Text:         text,
	})
}

// SendUnmatch tells the peer the relationship is over. Callers typically send
// this more than once; the receiver deduplicates.
func (d *Device) SendUnmatch() error {
	return d.SendMessage(&wire.Unmatch{IdentityHash: d.localHash})
}

// SendBlock tells the peer it is blocked and forgets it locally
func (d *Device) SendBlock(peer wire.IdentityHash) error {
	d.peers.Forget(peer)
	return d.SendMessage(&wire.Block{IdentityHash: d.localHash})
}

// SendSyncPlayAt schedules synchronized playback at the given instant
func (d *Device) SendSyncPlayAt(playAt time.Time) error {
	return d.SendMessage(&wire.SyncPlayAt{
		IdentityHash: d.localHash,
		PlayAtMillis: playAt.UnixMilli(),
	})
}

// SendSyncReady signals readiness for synchronized playback
func (d *Device) SendSyncReady() error {
	return d.SendMessage(&wire.SyncReady{IdentityHash: d.localHash})
}

// SendPlayAtData ships the opaque payload for synchronized playback
func (d *Device) SendPlayAtData(data []byte) error {
	return d.SendMessage(&wire.PlayAtData{IdentityHash: d.localHash, Data: data})
}

// linkBroadcaster adapts a transport link to the controller's hardware
// interface. Real radio stacks confirm asynchronously, so the outcome is
// reported from a goroutine.
type linkBroadcaster struct {
	link transport.Link
}

func (b *linkBroadcaster) StartBroadcast(payload []byte, callback advertise.StartCallback) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := b.link.Broadcast(payload); err != nil {
			callback.OnStartFailure(advertise.BroadcastFailedInternalError)
			return
		}
		callback.OnStartSuccess()
	}()
}

func (b *linkBroadcaster) StopBroadcast() {
	b.link.StopBroadcast()
}
