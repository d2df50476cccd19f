package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/auralink/logger"
	"github.com/user/auralink/wire"
)

// PendingRequest is an incoming match request waiting for a local decision.
// Requests are keyed by the peer's identity hash; a repeat from the same peer
// replaces the previous one (last-arrival-wins).
type PendingRequest struct {
	ID         string
	PeerHash   wire.IdentityHash
	GenderTag  byte
	ReceivedAt time.Time
}

// Match is an established relationship with a peer. Both sides compute the
// same ID independently from the sorted identity hashes.
type Match struct {
	ID        string
	PeerHash  wire.IdentityHash
	GenderTag byte
	CreatedAt time.Time
}

// Sender is the outbound half of the framed channel: it splits a message
// into frames and pushes them to the transport.
type Sender interface {
	SendMessage(m wire.Message) error
}

// Callbacks is the upward event interface. Any field may be nil; events fan
// out to every registered listener with per-listener failure isolation.
type Callbacks struct {
	OnPeerDiscovered       func(peer wire.IdentityHash, genderTag byte)
	OnIncomingMatchRequest func(req *PendingRequest)
	OnMatchAccepted        func(match *Match)
	OnMatchRejected        func(peer wire.IdentityHash)
	OnChatMessage          func(peer wire.IdentityHash, text string)
	OnAckReceived          func(messageID uint16)
	OnUnmatchReceived      func(peer wire.IdentityHash)
	OnBlockReceived        func(peer wire.IdentityHash)
	OnSyncPlayAt           func(peer wire.IdentityHash, playAt time.Time)
	OnSyncReady            func(peer wire.IdentityHash)
	OnPlayAtData           func(peer wire.IdentityHash, data []byte)
}

// Engine interprets reassembled messages into application events: pending
// requests, matches, chat, relationship-ending notices. Inbound events are
// deduplicated against the transport's at-least-once delivery.
type Engine struct {
	mu            sync.Mutex
	localHash     wire.IdentityHash
	localGender   byte
	pendingByPeer map[wire.IdentityHash]*PendingRequest
	pendingByID   map[string]*PendingRequest
	history       *recentHistory
	listeners     []Callbacks
	sender        Sender
	prefix        string
}

// NewEngine creates a session engine for the local identity
func NewEngine(identityToken string, genderTag byte, sender Sender) *Engine {
	localHash := wire.HashIdentity(identityToken)
	return &Engine{
		localHash:     localHash,
		localGender:   genderTag,
		pendingByPeer: make(map[wire.IdentityHash]*PendingRequest),
		pendingByID:   make(map[string]*PendingRequest),
		history:       newRecentHistory(dedupHistorySize, dedupTimeBucket),
		sender:        sender,
		prefix:        localHash.Short() + " Session",
	}
}

// LocalHash returns the local identity hash
func (e *Engine) LocalHash() wire.IdentityHash {
	return e.localHash
}

// AddListener registers an event listener
func (e *Engine) AddListener(cb Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, cb)
}

// HandleDiscovery consumes a decoded discovery payload scanned off the air
// and surfaces it as a passive discovery event. Repeated sightings of the
// same broadcast are collapsed by the dedup history.
func (e *Engine) HandleDiscovery(p *wire.DiscoveryPayload) {
	if p == nil {
		return
	}
	if p.IdentityHash == e.localHash {
		return // our own broadcast reflected back
	}

	e.mu.Lock()
	dup := e.history.Observe(p.IdentityHash, fmt.Sprintf("discovered:%d", p.GenderTag), time.Now())
	e.mu.Unlock()
	if dup {
		return
	}

	logger.Debug(e.prefix, "👀 Discovered peer %s (gender %d)", p.IdentityHash.Short(), p.GenderTag)
	e.emit(func(cb Callbacks) {
		if cb.OnPeerDiscovered != nil {
			cb.OnPeerDiscovered(p.IdentityHash, p.GenderTag)
		}
	})
}

// HandleMessage consumes one reassembled message. Malformed payloads and
// unknown types are logged and discarded; they never crash the engine or
// disturb other in-flight messages.
func (e *Engine) HandleMessage(cm *wire.CompletedMessage) {
	if cm == nil {
		return
	}

	msg, err := wire.DecodeMessage(cm.MessageType, cm.Payload)
	if err != nil {
		logger.Warn(e.prefix, "⚠️  Discarding malformed %s message id=%d: %v",
			wire.MessageTypeName(cm.MessageType), cm.MessageID, err)
		return
	}

	switch m := msg.(type) {
	case *wire.MatchRequest:
		e.handleMatchRequest(m)
	case *wire.MatchResponse:
		e.handleMatchResponse(m)
	case *wire.Chat:
		e.handleChat(cm.MessageID, m)
	case *wire.Ack:
		e.handleAck(m)
	case *wire.Unmatch:
		e.handleFarewell(m.IdentityHash, "unmatch", func(cb Callbacks) {
			if cb.OnUnmatchReceived != nil {
				cb.OnUnmatchReceived(m.IdentityHash)
			}
		})
	case *wire.Block:
		e.handleFarewell(m.IdentityHash, "block", func(cb Callbacks) {
			if cb.OnBlockReceived != nil {
				cb.OnBlockReceived(m.IdentityHash)
			}
		})
	case *wire.SyncPlayAt:
		playAt := time.UnixMilli(m.PlayAtMillis)
		e.dedupAndEmit(m.IdentityHash, fmt.Sprintf("syncplayat:%d", m.PlayAtMillis), func(cb Callbacks) {
			if cb.OnSyncPlayAt != nil {
				cb.OnSyncPlayAt(m.IdentityHash, playAt)
			}
		})
	case *wire.SyncReady:
		e.dedupAndEmit(m.IdentityHash, "syncready", func(cb Callbacks) {
			if cb.OnSyncReady != nil {
				cb.OnSyncReady(m.IdentityHash)
			}
		})
	case *wire.PlayAtData:
		e.dedupAndEmit(m.IdentityHash, "playatdata:"+digest8(m.Data), func(cb Callbacks) {
			if cb.OnPlayAtData != nil {
				cb.OnPlayAtData(m.IdentityHash, m.Data)
			}
		})
	}
}

func (e *Engine) handleMatchRequest(m *wire.MatchRequest) {
	now := time.Now()

	e.mu.Lock()
	if e.history.Observe(m.IdentityHash, fmt.Sprintf("request:%d", m.GenderTag), now) {
		e.mu.Unlock()
		logger.Debug(e.prefix, "Duplicate match request from %s suppressed", m.IdentityHash.Short())
		return
	}

	// Last-arrival-wins: a newer request from the same peer replaces any
	// pending one instead of accumulating.
	if prev, exists := e.pendingByPeer[m.IdentityHash]; exists {
		delete(e.pendingByID, prev.ID)
		logger.Debug(e.prefix, "Replacing pending request %s from %s", prev.ID[:8], m.IdentityHash.Short())
	}

	req := &PendingRequest{
		ID:         uuid.New().String(),
		PeerHash:   m.IdentityHash,
		GenderTag:  m.GenderTag,
		ReceivedAt: now,
	}
	e.pendingByPeer[m.IdentityHash] = req
	e.pendingByID[req.ID] = req
	e.mu.Unlock()

	logger.Info(e.prefix, "💌 Incoming match request from %s", m.IdentityHash.Short())
	e.emit(func(cb Callbacks) {
		if cb.OnIncomingMatchRequest != nil {
			cb.OnIncomingMatchRequest(req)
		}
	})
}

func (e *Engine) handleMatchResponse(m *wire.MatchResponse) {
	if m.Accepted {
		match := &Match{
			ID:        ComputeMatchID(e.localHash, m.IdentityHash),
			PeerHash:  m.IdentityHash,
			GenderTag: m.GenderTag,
			CreatedAt: time.Now(),
		}
		e.dedupAndEmit(m.IdentityHash, "response:accepted", func(cb Callbacks) {
			if cb.OnMatchAccepted != nil {
				cb.OnMatchAccepted(match)
			}
		})
		return
	}

	e.dedupAndEmit(m.IdentityHash, "response:rejected", func(cb Callbacks) {
		if cb.OnMatchRejected != nil {
			cb.OnMatchRejected(m.IdentityHash)
		}
	})
}

func (e *Engine) handleChat(messageID uint16, m *wire.Chat) {
	// Transport-level retransmissions replay the same message id, so the id
	// is part of the content identity; the user sending the same text twice
	// arrives under fresh ids and is not suppressed.
	fingerprint := fmt.Sprintf("chat:%d:%s", messageID, digest8([]byte(m.Text)))

	e.mu.Lock()
	dup := e.history.Observe(m.IdentityHash, fingerprint, time.Now())
	e.mu.Unlock()
	if dup {
		logger.Debug(e.prefix, "Duplicate chat id=%d from %s suppressed", messageID, m.IdentityHash.Short())
		return
	}

	logger.Debug(e.prefix, "💬 Chat from %s (%d bytes)", m.IdentityHash.Short(), len(m.Text))
	e.emit(func(cb Callbacks) {
		if cb.OnChatMessage != nil {
			cb.OnChatMessage(m.IdentityHash, m.Text)
		}
	})

	// Delivery confirmation back through the same path. Best effort; the
	// protocol guarantees nothing beyond it.
	if e.sender != nil {
		if err := e.sender.SendMessage(&wire.Ack{MessageID: messageID}); err != nil {
			logger.Warn(e.prefix, "⚠️  Failed to send ack for message id=%d: %v", messageID, err)
		}
	}
}

func (e *Engine) handleAck(m *wire.Ack) {
	logger.Trace(e.prefix, "Ack received for message id=%d", m.MessageID)
	e.emit(func(cb Callbacks) {
		if cb.OnAckReceived != nil {
			cb.OnAckReceived(m.MessageID)
		}
	})
}

// handleFarewell processes unmatch/block, which peers send several times for
// reliability. Any pending request from that peer is dropped too.
func (e *Engine) handleFarewell(peer wire.IdentityHash, kind string, deliver func(Callbacks)) {
	e.mu.Lock()
	dup := e.history.Observe(peer, kind, time.Now())
	if !dup {
		if prev, exists := e.pendingByPeer[peer]; exists {
			delete(e.pendingByPeer, peer)
			delete(e.pendingByID, prev.ID)
		}
	}
	e.mu.Unlock()

	if dup {
		logger.Debug(e.prefix, "Duplicate %s from %s suppressed", kind, peer.Short())
		return
	}

	logger.Info(e.prefix, "👋 Received %s from %s", kind, peer.Short())
	e.emit(deliver)
}

// AcceptRequest removes the pending request, establishes the match, and
// notifies the peer. Returns ok=false when the request id is unknown, which
// is a benign no-op: the request may already have been handled or expired.
func (e *Engine) AcceptRequest(requestID string) (*Match, bool) {
	e.mu.Lock()
	req, exists := e.pendingByID[requestID]
	if !exists {
		e.mu.Unlock()
		logger.Debug(e.prefix, "Accept of unknown request %s ignored", requestID)
		return nil, false
	}
	delete(e.pendingByID, requestID)
	delete(e.pendingByPeer, req.PeerHash)
	e.mu.Unlock()

	match := &Match{
		ID:        ComputeMatchID(e.localHash, req.PeerHash),
		PeerHash:  req.PeerHash,
		GenderTag: req.GenderTag,
		CreatedAt: time.Now(),
	}

	if e.sender != nil {
		response := &wire.MatchResponse{
			Accepted:     true,
			IdentityHash: e.localHash,
			GenderTag:    e.localGender,
		}
		if err := e.sender.SendMessage(response); err != nil {
			logger.Warn(e.prefix, "⚠️  Failed to send match accept to %s: %v", req.PeerHash.Short(), err)
		}
	}

	logger.Info(e.prefix, "💚 Matched with %s (match %s)", req.PeerHash.Short(), match.ID[:8])
	e.emit(func(cb Callbacks) {
		if cb.OnMatchAccepted != nil {
			cb.OnMatchAccepted(match)
		}
	})
	return match, true
}

// RejectRequest removes the pending request and notifies the peer. Returns
// false when the request id is unknown.
func (e *Engine) RejectRequest(requestID string) bool {
	e.mu.Lock()
	req, exists := e.pendingByID[requestID]
	if !exists {
		e.mu.Unlock()
		logger.Debug(e.prefix, "Reject of unknown request %s ignored", requestID)
		return false
	}
	delete(e.pendingByID, requestID)
	delete(e.pendingByPeer, req.PeerHash)
	e.mu.Unlock()

	if e.sender != nil {
		response := &wire.MatchResponse{
			Accepted:     false,
			IdentityHash: e.localHash,
			GenderTag:    e.localGender,
		}
		if err := e.sender.SendMessage(response); err != nil {
			logger.Warn(e.prefix, "⚠️  Failed to send match reject to %s: %v", req.PeerHash.Short(), err)
		}
	}

	logger.Info(e.prefix, "💔 Rejected request from %s", req.PeerHash.Short())
	e.emit(func(cb Callbacks) {
		if cb.OnMatchRejected != nil {
			cb.OnMatchRejected(req.PeerHash)
		}
	})
	return true
}

// PendingRequests returns a snapshot of the requests awaiting a decision
func (e *Engine) PendingRequests() []*PendingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	requests := make([]*PendingRequest, 0, len(e.pendingByID))
	for _, req := range e.pendingByID {
		requests = append(requests, req)
	}
	return requests
}

// dedupAndEmit suppresses repeats of the same event and fans the first
// occurrence out to listeners.
func (e *Engine) dedupAndEmit(peer wire.IdentityHash, fingerprint string, deliver func(Callbacks)) {
	e.mu.Lock()
	dup := e.history.Observe(peer, fingerprint, time.Now())
	e.mu.Unlock()
	if dup {
		logger.Debug(e.prefix, "Duplicate event %q from %s suppressed", fingerprint, peer.Short())
		return
	}
	e.emit(deliver)
}

// emit fans one event out to all listeners, isolating per-listener panics so
// one broken listener cannot starve the rest.
func (e *Engine) emit(deliver func(Callbacks)) {
	e.mu.Lock()
	listeners := make([]Callbacks, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, cb := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn(e.prefix, "⚠️  Event listener panicked: %v", r)
				}
			}()
			deliver(cb)
		}()
	}
}

// digest8 is a short content fingerprint for dedup keys
func digest8(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
