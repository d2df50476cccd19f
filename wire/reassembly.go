package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/auralink/logger"
)

// CompletedMessage is a fully reassembled message handed up to the session
// layer. Created only by successful reassembly; consumed exactly once.
type CompletedMessage struct {
	MessageType byte
	MessageID   uint16
	Payload     []byte
}

// reassemblyBuffer accumulates chunks for one message id.
type reassemblyBuffer struct {
	messageType    byte
	totalLength    uint16
	chunks         map[uint16][]byte // chunkOffset -> payload bytes
	receivedLength int               // sum of distinct chunk sizes recorded so far
	lastActivity   time.Time
}

// Reassembler joins wire frames back into complete messages. Buffers are
// keyed by message id and live only until completion, a protocol violation,
// or the idle timeout. Chunk application for a single id is serialized under
// the mutex; ids are independent.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[uint16]*reassemblyBuffer

	// Ring of recently completed ids so late duplicate chunks are ignored
	// instead of opening a fresh buffer.
	completedOrder []uint16
	completedSet   map[uint16]struct{}

	prefix string
}

// NewReassembler creates an empty reassembler. The prefix tags log lines the
// same way the rest of the device does.
func NewReassembler(prefix string) *Reassembler {
	return &Reassembler{
		buffers:      make(map[uint16]*reassemblyBuffer),
		completedSet: make(map[uint16]struct{}),
		prefix:       prefix,
	}
}

// Ingest applies one frame. It returns a completed message when the frame
// finishes its buffer, nil when more chunks are needed, and an error on a
// protocol violation (the offending buffer is dropped, other in-flight
// messages are untouched).
func (r *Reassembler) Ingest(f *Frame) (*CompletedMessage, error) {
	if f == nil {
		return nil, fmt.Errorf("nil frame")
	}

	if int(f.ChunkOffset)+len(f.Payload) > int(f.TotalLength) {
		return nil, fmt.Errorf("chunk exceeds declared length: offset=%d size=%d total=%d",
			f.ChunkOffset, len(f.Payload), f.TotalLength)
	}

	// An empty chunk inside a non-empty message carries no bytes and would
	// stall the reconstruction cursor, which advances by chunk size. Only a
	// zero-length message legitimately has an empty frame.
	if len(f.Payload) == 0 && f.TotalLength > 0 {
		return nil, fmt.Errorf("empty chunk for non-empty message: offset=%d total=%d",
			f.ChunkOffset, f.TotalLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Late chunk for a message that already completed
	if _, done := r.completedSet[f.MessageID]; done {
		logger.Trace(r.prefix, "Ignoring chunk for completed message id=%d", f.MessageID)
		return nil, nil
	}

	buf, exists := r.buffers[f.MessageID]
	if !exists {
		buf = &reassemblyBuffer{
			messageType: f.MessageType,
			totalLength: f.TotalLength,
			chunks:      make(map[uint16][]byte),
		}
		r.buffers[f.MessageID] = buf
	} else if buf.messageType != f.MessageType || buf.totalLength != f.TotalLength {
		// All frames of one id must agree on type and length. A mismatch
		// means the sender is broken or the id was reused; the buffer is
		// dropped, not merged.
		delete(r.buffers, f.MessageID)
		return nil, fmt.Errorf("type/length mismatch for message id=%d: had type=%d len=%d, got type=%d len=%d",
			f.MessageID, buf.messageType, buf.totalLength, f.MessageType, f.TotalLength)
	}

	// Last write at a given offset wins, which makes simple retransmission
	// idempotent.
	if prev, dup := buf.chunks[f.ChunkOffset]; dup {
		buf.receivedLength -= len(prev)
	}
	buf.chunks[f.ChunkOffset] = f.Payload
	buf.receivedLength += len(f.Payload)
	buf.lastActivity = time.Now()

	logger.Trace(r.prefix, "Chunk id=%d offset=%d size=%d (%d/%d bytes)",
		f.MessageID, f.ChunkOffset, len(f.Payload), buf.receivedLength, buf.totalLength)

	if buf.receivedLength < int(buf.totalLength) {
		return nil, nil
	}

	// Reconstruct by walking a write cursor through the chunks in ascending
	// offset order. Only a chunk whose offset equals the cursor contributes;
	// a gap here means the sender produced overlapping chunks, which this
	// policy does not merge.
	payload := make([]byte, 0, buf.totalLength)
	cursor := 0
	for cursor < int(buf.totalLength) {
		chunk, ok := buf.chunks[uint16(cursor)]
		if !ok {
			delete(r.buffers, f.MessageID)
			return nil, fmt.Errorf("cannot reconstruct message id=%d: no chunk at offset %d", f.MessageID, cursor)
		}
		payload = append(payload, chunk...)
		cursor += len(chunk)
	}

	delete(r.buffers, f.MessageID)
	r.markCompleted(f.MessageID)

	logger.Trace(r.prefix, "Reassembled %s message id=%d (%d bytes)",
		MessageTypeName(buf.messageType), f.MessageID, len(payload))

	return &CompletedMessage{
		MessageType: buf.messageType,
		MessageID:   f.MessageID,
		Payload:     payload,
	}, nil
}

// markCompleted records a finished id, evicting the oldest entry once the
// ring is full. Must be called with the lock held.
func (r *Reassembler) markCompleted(messageID uint16) {
	if _, ok := r.completedSet[messageID]; ok {
		return
	}
	r.completedSet[messageID] = struct{}{}
	r.completedOrder = append(r.completedOrder, messageID)
	if len(r.completedOrder) > completedHistorySize {
		oldest := r.completedOrder[0]
		r.completedOrder = r.completedOrder[1:]
		delete(r.completedSet, oldest)
	}
}

// EvictIdle drops buffers that have not seen a chunk for at least idleFor.
// Returns the number of buffers evicted. Abandoned transfers would otherwise
// hold memory forever.
func (r *Reassembler) EvictIdle(idleFor time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	evicted := 0
	for id, buf := range r.buffers {
		if buf.lastActivity.Before(cutoff) {
			delete(r.buffers, id)
			evicted++
			logger.Debug(r.prefix, "Evicted idle reassembly buffer id=%d (%d/%d bytes received)",
				id, buf.receivedLength, buf.totalLength)
		}
	}
	return evicted
}

// PendingCount returns the number of in-flight reassembly buffers
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
