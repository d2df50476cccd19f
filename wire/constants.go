package wire

import "time"

// DiscoveryMagic is the 3-byte sentinel on every discovery payload.
// Broadcast traffic without it is noise from unrelated devices.
var DiscoveryMagic = [3]byte{'A', 'U', 'R'}

// ProtocolVersion is the current wire protocol version byte.
const ProtocolVersion = 1

// Gender tags carried in the discovery payload and match messages
const (
	GenderMale    byte = 1
	GenderFemale  byte = 2
	GenderUnknown byte = 3
)

// Message types for the connection-oriented channel
const (
	MessageTypeMatchRequest byte = 1
	MessageTypeMatchAccept  byte = 2
	MessageTypeMatchReject  byte = 3
	MessageTypeSyncPlayAt   byte = 4
	MessageTypeSyncReady    byte = 5
	MessageTypePlayAtData   byte = 6
	MessageTypeChat         byte = 7
	MessageTypeAck          byte = 8
	MessageTypeUnmatch      byte = 9
	MessageTypeBlock        byte = 10
)

// Wire layout sizes
const (
	DiscoveryPayloadSize = 13 // magic(3) + version(1) + gender(1) + identityHash(8)
	IdentityHashSize     = 8
	FrameHeaderSize      = 7 // messageType(1) + messageId(2) + totalLength(2) + chunkOffset(2)

	// TransportOverhead is the per-PDU overhead the link layer keeps for
	// itself out of the negotiated transport unit (ATT header on real BLE).
	TransportOverhead = 3

	// DefaultTransportUnit matches the BLE 4.0 default MTU of 23 bytes.
	// Larger units can be negotiated up to MaxTransportUnit.
	DefaultTransportUnit = 23
	MaxTransportUnit     = 512

	// MaxMessageLength is the largest payload a single message can carry,
	// bounded by the 16-bit totalLength field in the frame header.
	MaxMessageLength = 0xFFFF
)

// Reassembly housekeeping
const (
	// ReassemblyIdleTimeout is how long an incomplete buffer may sit with no
	// new chunks before it is evicted.
	ReassemblyIdleTimeout = 30 * time.Second

	// ReassemblySweepInterval is how often the eviction sweep runs.
	ReassemblySweepInterval = 5 * time.Second

	// completedHistorySize bounds the set of recently completed message ids
	// used to ignore late duplicate chunks.
	completedHistorySize = 256
)

// MaxChunkPayload returns how many payload bytes fit in one frame for the
// given negotiated transport unit.
func MaxChunkPayload(transportUnit int) int {
	if transportUnit <= 0 {
		transportUnit = DefaultTransportUnit
	}
	if transportUnit > MaxTransportUnit {
		transportUnit = MaxTransportUnit
	}
	n := transportUnit - TransportOverhead - FrameHeaderSize
	if n < 1 {
		n = 1
	}
	return n
}

// MessageTypeName returns a human-readable name for a message type byte
func MessageTypeName(messageType byte) string {
	switch messageType {
	case MessageTypeMatchRequest:
		return "MatchRequest"
	case MessageTypeMatchAccept:
		return "MatchAccept"
	case MessageTypeMatchReject:
		return "MatchReject"
	case MessageTypeSyncPlayAt:
		return "SyncPlayAt"
	case MessageTypeSyncReady:
		return "SyncReady"
	case MessageTypePlayAtData:
		return "PlayAtData"
	case MessageTypeChat:
		return "Chat"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeUnmatch:
		return "Unmatch"
	case MessageTypeBlock:
		return "Block"
	default:
		return "Unknown"
	}
}
