package wire

// DiscoveryPayload is the decoded form of the fixed 13-byte broadcast record.
// It is derived on demand from the local identity and gender tag and has no
// persistence of its own.
type DiscoveryPayload struct {
	GenderTag    byte
	IdentityHash IdentityHash
}

// EncodeDiscoveryPayload builds the 13-byte out-of-band broadcast payload:
// magic(3) | version(1) | gender(1) | identityHash(8)
func EncodeDiscoveryPayload(identityHash IdentityHash, genderTag byte) []byte {
	payload := make([]byte, DiscoveryPayloadSize)
	copy(payload[0:3], DiscoveryMagic[:])
	payload[3] = ProtocolVersion
	payload[4] = genderTag
	copy(payload[5:13], identityHash[:])
	return payload
}

// DecodeDiscoveryPayload parses a broadcast payload. It returns ok=false for
// anything that is not a well-formed payload of the current protocol version:
// wrong length, wrong magic, or an unrecognized version byte. Unrelated
// devices broadcast arbitrary bytes on the same medium, so rejection here is
// routine, not an error.
func DecodeDiscoveryPayload(data []byte) (*DiscoveryPayload, bool) {
	if len(data) != DiscoveryPayloadSize {
		return nil, false
	}
	if data[0] != DiscoveryMagic[0] || data[1] != DiscoveryMagic[1] || data[2] != DiscoveryMagic[2] {
		return nil, false
	}
	if data[3] != ProtocolVersion {
		return nil, false
	}

	p := &DiscoveryPayload{
		GenderTag: data[4],
	}
	copy(p.IdentityHash[:], data[5:13])
	return p, true
}
