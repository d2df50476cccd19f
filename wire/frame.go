package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame is one chunk of an in-flight message on the connection-oriented
// channel. Header layout (little-endian):
//
//	[0]    messageType
//	[1..3) messageId (u16)
//	[3..5) totalLength (u16)
//	[5..7) chunkOffset (u16)
//
// followed by up to MaxChunkPayload(unit) payload bytes.
type Frame struct {
	MessageType byte
	MessageID   uint16
	TotalLength uint16
	ChunkOffset uint16
	Payload     []byte
}

// Encode serializes the frame to wire format
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = f.MessageType
	binary.LittleEndian.PutUint16(buf[1:3], f.MessageID)
	binary.LittleEndian.PutUint16(buf[3:5], f.TotalLength)
	binary.LittleEndian.PutUint16(buf[5:7], f.ChunkOffset)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// DecodeFrame parses a wire frame. Frames below the minimum header size are
// rejected; semantic validation (offset bounds, type/length consistency) is
// the reassembler's job.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (header is %d)", len(data), FrameHeaderSize)
	}

	f := &Frame{
		MessageType: data[0],
		MessageID:   binary.LittleEndian.Uint16(data[1:3]),
		TotalLength: binary.LittleEndian.Uint16(data[3:5]),
		ChunkOffset: binary.LittleEndian.Uint16(data[5:7]),
	}

	if len(data) > FrameHeaderSize {
		f.Payload = make([]byte, len(data)-FrameHeaderSize)
		copy(f.Payload, data[FrameHeaderSize:])
	}

	return f, nil
}
