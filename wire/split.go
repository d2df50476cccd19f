package wire

import (
	"fmt"
	"sync"
)

// Splitter turns arbitrary-length message payloads into bounded wire frames.
// Message ids come from a monotonically increasing 16-bit counter that wraps;
// reassembly buffers are short-lived, so a wrapped id colliding with a live
// buffer needs roughly 65536 in-flight messages on one link.
type Splitter struct {
	mu            sync.Mutex
	nextMessageID uint16
	chunkPayload  int
}

// NewSplitter creates a splitter sized for the given negotiated transport unit
func NewSplitter(transportUnit int) *Splitter {
	return &Splitter{
		chunkPayload: MaxChunkPayload(transportUnit),
	}
}

// SetTransportUnit resizes chunks after a new unit is negotiated
func (s *Splitter) SetTransportUnit(transportUnit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkPayload = MaxChunkPayload(transportUnit)
}

// ChunkPayload returns the current per-frame payload capacity
func (s *Splitter) ChunkPayload() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkPayload
}

// Split allocates a fresh message id and cuts payload into frames in strictly
// increasing offset order. A zero-length payload still produces one frame so
// the receiver sees the message.
func (s *Splitter) Split(messageType byte, payload []byte) ([]*Frame, error) {
	if len(payload) > MaxMessageLength {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxMessageLength)
	}

	s.mu.Lock()
	messageID := s.nextMessageID
	s.nextMessageID++ // wraps at 16 bits
	chunkPayload := s.chunkPayload
	s.mu.Unlock()

	totalLength := uint16(len(payload))

	if len(payload) == 0 {
		return []*Frame{{
			MessageType: messageType,
			MessageID:   messageID,
			TotalLength: 0,
			ChunkOffset: 0,
		}}, nil
	}

	var frames []*Frame
	for offset := 0; offset < len(payload); offset += chunkPayload {
		end := offset + chunkPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, payload[offset:end])

		frames = append(frames, &Frame{
			MessageType: messageType,
			MessageID:   messageID,
			TotalLength: totalLength,
			ChunkOffset: uint16(offset),
			Payload:     chunk,
		})
	}

	return frames, nil
}
