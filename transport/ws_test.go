package transport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/auralink/wire"
)

// wsPair serves one websocket endpoint and dials it
func wsPair(t *testing.T, mtu int) (*WSLink, *WSLink) {
	t.Helper()

	accepted := make(chan *WSLink, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		link, err := AcceptWS(w, r, mtu)
		if err != nil {
			t.Errorf("AcceptWS failed: %v", err)
			return
		}
		accepted <- link
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := DialWS(url, mtu)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	serverLink := <-accepted
	t.Cleanup(func() { serverLink.Close() })
	return serverLink, client
}

func TestWSLinkFrameRoundTrip(t *testing.T) {
	server, client := wsPair(t, 0)

	toServer := make(chan []byte, 1)
	toClient := make(chan []byte, 1)
	server.SetFrameHandler(func(frame []byte) { toServer <- frame })
	client.SetFrameHandler(func(frame []byte) { toClient <- frame })

	frame := []byte{0xCA, 0xFE}
	if err := client.Send(frame); err != nil {
		t.Fatalf("Client send failed: %v", err)
	}
	if got := waitFor(t, toServer, "frame at server"); !bytes.Equal(got, frame) {
		t.Errorf("Frame corrupted client to server: %x", got)
	}

	reply := []byte{0x42}
	if err := server.Send(reply); err != nil {
		t.Fatalf("Server send failed: %v", err)
	}
	if got := waitFor(t, toClient, "frame at client"); !bytes.Equal(got, reply) {
		t.Errorf("Frame corrupted server to client: %x", got)
	}
}

func TestWSLinkDiscoveryBroadcast(t *testing.T) {
	server, client := wsPair(t, 0)

	scans := make(chan []byte, 32)
	server.SetDiscoveryHandler(func(payload []byte) { scans <- payload })

	payload := wire.EncodeDiscoveryPayload(wire.HashIdentity("remote-beacon"), wire.GenderUnknown)
	if err := client.Broadcast(payload); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	got := waitFor(t, scans, "discovery payload")
	if !bytes.Equal(got, payload) {
		t.Errorf("Discovery payload corrupted: %x", got)
	}
	client.StopBroadcast()
}

func TestWSLinkEnforcesTransportUnit(t *testing.T) {
	_, client := wsPair(t, wire.DefaultTransportUnit)

	oversized := make([]byte, wire.DefaultTransportUnit-wire.TransportOverhead+1)
	if err := client.Send(oversized); err == nil {
		t.Fatal("Expected oversized frame to be rejected")
	}
}
