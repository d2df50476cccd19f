package wire

import (
	"bytes"
	"testing"
)

func TestMatchRequestCodec(t *testing.T) {
	hash := HashIdentity("requester")
	m := &MatchRequest{IdentityHash: hash, GenderTag: GenderFemale}

	payload := m.EncodePayload()
	if len(payload) != 9 {
		t.Fatalf("Expected 9-byte MatchRequest payload, got %d", len(payload))
	}

	decoded, err := DecodeMessage(MessageTypeMatchRequest, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	req, ok := decoded.(*MatchRequest)
	if !ok {
		t.Fatalf("Expected *MatchRequest, got %T", decoded)
	}
	if req.IdentityHash != hash || req.GenderTag != GenderFemale {
		t.Error("MatchRequest fields corrupted in round-trip")
	}
}

func TestMatchResponseCodec(t *testing.T) {
	hash := HashIdentity("responder")

	accept := &MatchResponse{Accepted: true, IdentityHash: hash, GenderTag: GenderMale}
	if accept.Type() != MessageTypeMatchAccept {
		t.Errorf("Expected accept type %d, got %d", MessageTypeMatchAccept, accept.Type())
	}
	payload := accept.EncodePayload()
	if len(payload) != 10 {
		t.Fatalf("Expected 10-byte MatchResponse payload, got %d", len(payload))
	}

	decoded, err := DecodeMessage(MessageTypeMatchAccept, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp := decoded.(*MatchResponse)
	if !resp.Accepted || resp.IdentityHash != hash || resp.GenderTag != GenderMale {
		t.Error("MatchResponse fields corrupted in round-trip")
	}

	reject := &MatchResponse{Accepted: false, IdentityHash: hash, GenderTag: GenderMale}
	if reject.Type() != MessageTypeMatchReject {
		t.Errorf("Expected reject type %d, got %d", MessageTypeMatchReject, reject.Type())
	}
	decoded, err = DecodeMessage(MessageTypeMatchReject, reject.EncodePayload())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.(*MatchResponse).Accepted {
		t.Error("Expected rejected response")
	}
}

func TestMatchResponseTypeContradiction(t *testing.T) {
	hash := HashIdentity("liar")
	accept := &MatchResponse{Accepted: true, IdentityHash: hash, GenderTag: GenderMale}

	// Accept payload under the reject type byte is a protocol violation
	if _, err := DecodeMessage(MessageTypeMatchReject, accept.EncodePayload()); err == nil {
		t.Fatal("Expected error when accepted byte contradicts message type")
	}
}

func TestChatCodec(t *testing.T) {
	hash := HashIdentity("chatter")

	for _, text := range []string{"", "hi", "多字节のテキスト 🎉", string(makePayload(5000))} {
		m := &Chat{IdentityHash: hash, Text: text}
		decoded, err := DecodeMessage(MessageTypeChat, m.EncodePayload())
		if err != nil {
			t.Fatalf("Decode failed for %d-byte text: %v", len(text), err)
		}
		chat := decoded.(*Chat)
		if chat.IdentityHash != hash || chat.Text != text {
			t.Errorf("Chat round-trip corrupted %d-byte text", len(text))
		}
	}
}

func TestAckCodec(t *testing.T) {
	m := &Ack{MessageID: 0xBEEF}
	payload := m.EncodePayload()
	if len(payload) != 2 {
		t.Fatalf("Expected 2-byte Ack payload, got %d", len(payload))
	}

	decoded, err := DecodeMessage(MessageTypeAck, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.(*Ack).MessageID != 0xBEEF {
		t.Error("Ack message id corrupted in round-trip")
	}
}

func TestUnmatchAndBlockCodec(t *testing.T) {
	hash := HashIdentity("leaver")

	decoded, err := DecodeMessage(MessageTypeUnmatch, (&Unmatch{IdentityHash: hash}).EncodePayload())
	if err != nil {
		t.Fatalf("Unmatch decode failed: %v", err)
	}
	if decoded.(*Unmatch).IdentityHash != hash {
		t.Error("Unmatch hash corrupted")
	}

	decoded, err = DecodeMessage(MessageTypeBlock, (&Block{IdentityHash: hash}).EncodePayload())
	if err != nil {
		t.Fatalf("Block decode failed: %v", err)
	}
	if decoded.(*Block).IdentityHash != hash {
		t.Error("Block hash corrupted")
	}
}

func TestSyncMessageCodecs(t *testing.T) {
	hash := HashIdentity("syncer")

	playAt := &SyncPlayAt{IdentityHash: hash, PlayAtMillis: 1724457600123}
	decoded, err := DecodeMessage(MessageTypeSyncPlayAt, playAt.EncodePayload())
	if err != nil {
		t.Fatalf("SyncPlayAt decode failed: %v", err)
	}
	if decoded.(*SyncPlayAt).PlayAtMillis != 1724457600123 {
		t.Error("SyncPlayAt timestamp corrupted")
	}

	decoded, err = DecodeMessage(MessageTypeSyncReady, (&SyncReady{IdentityHash: hash}).EncodePayload())
	if err != nil {
		t.Fatalf("SyncReady decode failed: %v", err)
	}
	if decoded.(*SyncReady).IdentityHash != hash {
		t.Error("SyncReady hash corrupted")
	}

	data := []byte{0x01, 0x02, 0x03}
	decoded, err = DecodeMessage(MessageTypePlayAtData, (&PlayAtData{IdentityHash: hash, Data: data}).EncodePayload())
	if err != nil {
		t.Fatalf("PlayAtData decode failed: %v", err)
	}
	if !bytes.Equal(decoded.(*PlayAtData).Data, data) {
		t.Error("PlayAtData payload corrupted")
	}
}

func TestDecodeMessageRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name        string
		messageType byte
		payload     []byte
	}{
		{"short MatchRequest", MessageTypeMatchRequest, make([]byte, 8)},
		{"long MatchRequest", MessageTypeMatchRequest, make([]byte, 10)},
		{"short MatchResponse", MessageTypeMatchAccept, make([]byte, 9)},
		{"short Chat", MessageTypeChat, make([]byte, 7)},
		{"short Ack", MessageTypeAck, make([]byte, 1)},
		{"long Ack", MessageTypeAck, make([]byte, 3)},
		{"short Unmatch", MessageTypeUnmatch, make([]byte, 7)},
		{"long Block", MessageTypeBlock, make([]byte, 9)},
		{"short SyncPlayAt", MessageTypeSyncPlayAt, make([]byte, 15)},
		{"unknown type", 42, make([]byte, 8)},
		{"zero type", 0, nil},
	}

	for _, c := range cases {
		if _, err := DecodeMessage(c.messageType, c.payload); err == nil {
			t.Errorf("%s: expected decode error", c.name)
		}
	}
}
