package wire

import (
	"encoding/binary"
	"fmt"
)

// Message is the closed set of application messages carried over the framed
// channel. Each value knows its message type byte and its payload encoding;
// DecodeMessage is the single place the type byte is dispatched on.
type Message interface {
	Type() byte
	EncodePayload() []byte
}

// MatchRequest asks the peer to match. Payload: identityHash(8) | gender(1).
type MatchRequest struct {
	IdentityHash IdentityHash
	GenderTag    byte
}

func (m *MatchRequest) Type() byte { return MessageTypeMatchRequest }

func (m *MatchRequest) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize+1)
	copy(buf[0:8], m.IdentityHash[:])
	buf[8] = m.GenderTag
	return buf
}

// MatchResponse answers a MatchRequest. The acceptance is encoded twice on
// the wire: in the message type byte (MatchAccept vs MatchReject) and in the
// leading payload byte. Payload: accepted(1) | identityHash(8) | gender(1).
type MatchResponse struct {
	Accepted     bool
	IdentityHash IdentityHash
	GenderTag    byte
}

func (m *MatchResponse) Type() byte {
	if m.Accepted {
		return MessageTypeMatchAccept
	}
	return MessageTypeMatchReject
}

func (m *MatchResponse) EncodePayload() []byte {
	buf := make([]byte, 1+IdentityHashSize+1)
	if m.Accepted {
		buf[0] = 1
	}
	copy(buf[1:9], m.IdentityHash[:])
	buf[9] = m.GenderTag
	return buf
}

// Chat carries one text message. Payload: identityHash(8) | utf8Text(variable).
type Chat struct {
	IdentityHash IdentityHash
	Text         string
}

func (m *Chat) Type() byte { return MessageTypeChat }

func (m *Chat) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize+len(m.Text))
	copy(buf[0:8], m.IdentityHash[:])
	copy(buf[8:], m.Text)
	return buf
}

// Ack confirms delivery of a completed message. Payload: messageId(2).
type Ack struct {
	MessageID uint16
}

func (m *Ack) Type() byte { return MessageTypeAck }

func (m *Ack) EncodePayload() []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, m.MessageID)
	return buf
}

// Unmatch ends the relationship. Payload: identityHash(8).
type Unmatch struct {
	IdentityHash IdentityHash
}

func (m *Unmatch) Type() byte { return MessageTypeUnmatch }

func (m *Unmatch) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize)
	copy(buf, m.IdentityHash[:])
	return buf
}

// Block ends the relationship and asks the peer to stay away.
// Payload: identityHash(8).
type Block struct {
	IdentityHash IdentityHash
}

func (m *Block) Type() byte { return MessageTypeBlock }

func (m *Block) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize)
	copy(buf, m.IdentityHash[:])
	return buf
}

// SyncPlayAt schedules a synchronized tone on both devices.
// Payload: identityHash(8) | playAtUnixMillis(8).
type SyncPlayAt struct {
	IdentityHash IdentityHash
	PlayAtMillis int64
}

func (m *SyncPlayAt) Type() byte { return MessageTypeSyncPlayAt }

func (m *SyncPlayAt) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize+8)
	copy(buf[0:8], m.IdentityHash[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.PlayAtMillis))
	return buf
}

// SyncReady signals the peer is ready for a scheduled play.
// Payload: identityHash(8).
type SyncReady struct {
	IdentityHash IdentityHash
}

func (m *SyncReady) Type() byte { return MessageTypeSyncReady }

func (m *SyncReady) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize)
	copy(buf, m.IdentityHash[:])
	return buf
}

// PlayAtData carries opaque tone parameters alongside a scheduled play.
// Payload: identityHash(8) | data(variable). The engine does not interpret
// the data; tone synthesis lives outside the core.
type PlayAtData struct {
	IdentityHash IdentityHash
	Data         []byte
}

func (m *PlayAtData) Type() byte { return MessageTypePlayAtData }

func (m *PlayAtData) EncodePayload() []byte {
	buf := make([]byte, IdentityHashSize+len(m.Data))
	copy(buf[0:8], m.IdentityHash[:])
	copy(buf[8:], m.Data)
	return buf
}

// DecodeMessage parses a reassembled payload according to its message type.
// Wrong fixed sizes and unknown types come back as errors; the caller logs
// and discards, it never crashes.
func DecodeMessage(messageType byte, payload []byte) (Message, error) {
	switch messageType {
	case MessageTypeMatchRequest:
		if len(payload) != IdentityHashSize+1 {
			return nil, fmt.Errorf("MatchRequest payload must be %d bytes, got %d", IdentityHashSize+1, len(payload))
		}
		m := &MatchRequest{GenderTag: payload[8]}
		copy(m.IdentityHash[:], payload[0:8])
		return m, nil

	case MessageTypeMatchAccept, MessageTypeMatchReject:
		if len(payload) != 1+IdentityHashSize+1 {
			return nil, fmt.Errorf("MatchResponse payload must be %d bytes, got %d", 1+IdentityHashSize+1, len(payload))
		}
		accepted := payload[0] != 0
		if accepted != (messageType == MessageTypeMatchAccept) {
			return nil, fmt.Errorf("MatchResponse accepted byte %d contradicts message type %s",
				payload[0], MessageTypeName(messageType))
		}
		m := &MatchResponse{Accepted: accepted, GenderTag: payload[9]}
		copy(m.IdentityHash[:], payload[1:9])
		return m, nil

	case MessageTypeChat:
		if len(payload) < IdentityHashSize {
			return nil, fmt.Errorf("Chat payload must be at least %d bytes, got %d", IdentityHashSize, len(payload))
		}
		m := &Chat{Text: string(payload[8:])}
		copy(m.IdentityHash[:], payload[0:8])
		return m, nil

	case MessageTypeAck:
		if len(payload) != 2 {
			return nil, fmt.Errorf("Ack payload must be 2 bytes, got %d", len(payload))
		}
		return &Ack{MessageID: binary.LittleEndian.Uint16(payload)}, nil

	case MessageTypeUnmatch:
		if len(payload) != IdentityHashSize {
			return nil, fmt.Errorf("Unmatch payload must be %d bytes, got %d", IdentityHashSize, len(payload))
		}
		m := &Unmatch{}
		copy(m.IdentityHash[:], payload)
		return m, nil

	case MessageTypeBlock:
		if len(payload) != IdentityHashSize {
			return nil, fmt.Errorf("Block payload must be %d bytes, got %d", IdentityHashSize, len(payload))
		}
		m := &Block{}
		copy(m.IdentityHash[:], payload)
		return m, nil

	case MessageTypeSyncPlayAt:
		if len(payload) != IdentityHashSize+8 {
			return nil, fmt.Errorf("SyncPlayAt payload must be %d bytes, got %d", IdentityHashSize+8, len(payload))
		}
		m := &SyncPlayAt{PlayAtMillis: int64(binary.LittleEndian.Uint64(payload[8:16]))}
		copy(m.IdentityHash[:], payload[0:8])
		return m, nil

	case MessageTypeSyncReady:
		if len(payload) != IdentityHashSize {
			return nil, fmt.Errorf("SyncReady payload must be %d bytes, got %d", IdentityHashSize, len(payload))
		}
		m := &SyncReady{}
		copy(m.IdentityHash[:], payload)
		return m, nil

	case MessageTypePlayAtData:
		if len(payload) < IdentityHashSize {
			return nil, fmt.Errorf("PlayAtData payload must be at least %d bytes, got %d", IdentityHashSize, len(payload))
		}
		m := &PlayAtData{}
		copy(m.IdentityHash[:], payload[0:8])
		if len(payload) > IdentityHashSize {
			m.Data = make([]byte, len(payload)-IdentityHashSize)
			copy(m.Data, payload[8:])
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown message type %d", messageType)
	}
}
