package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/user/auralink/advertise"
	"github.com/user/auralink/engine"
	"github.com/user/auralink/logger"
	"github.com/user/auralink/session"
	"github.com/user/auralink/transport"
	"github.com/user/auralink/wire"
)

func main() {
	fmt.Println("=== Proximity Match Demo ===")
	fmt.Println()

	logger.SetLevel(logger.ParseLevel(os.Getenv("AURALINK_LOG")))

	// Two devices joined by an in-process link
	linkA, linkB := transport.NewLoopbackPair(wire.DefaultTransportUnit)
	alice := engine.NewDevice("alice-demo-identity", wire.GenderFemale, linkA)
	bob := engine.NewDevice("bob-demo-identity", wire.GenderMale, linkB)

	if err := alice.Start(); err != nil {
		panic(err)
	}
	if err := bob.Start(); err != nil {
		panic(err)
	}

	incoming := make(chan *session.PendingRequest, 1)
	alice.AddListener(session.Callbacks{
		OnChatMessage: func(peer wire.IdentityHash, text string) {
			fmt.Printf("[alice] 📩 chat from %s: %q\n", peer.Short(), text)
		},
		OnIncomingMatchRequest: func(req *session.PendingRequest) {
			fmt.Printf("[alice] 💌 match request from %s\n", req.PeerHash.Short())
			incoming <- req
		},
	})

	matched := make(chan *session.Match, 1)
	bob.AddListener(session.Callbacks{
		OnPeerDiscovered: func(peer wire.IdentityHash, genderTag byte) {
			fmt.Printf("[bob] 👀 discovered %s (gender %d)\n", peer.Short(), genderTag)
		},
		OnMatchAccepted: func(m *session.Match) {
			fmt.Printf("[bob] 💚 matched! id=%s\n", m.ID[:8])
			matched <- m
		},
		OnAckReceived: func(messageID uint16) {
			fmt.Printf("[bob] ✅ chat %d delivered\n", messageID)
		},
	})

	// Alice goes visible
	policy := &advertise.StaticPolicy{
		Visibility:  true,
		Permissions: true,
		Radio:       true,
		Location:    true,
		Gender:      wire.GenderFemale,
	}
	if err := alice.StartAdvertising(policy); err != nil {
		panic(err)
	}
	fmt.Println("[alice] 📡 advertising")

	// Give discovery a moment, then bob makes his move
	time.Sleep(300 * time.Millisecond)
	if err := bob.SendMatchRequest(); err != nil {
		panic(err)
	}

	req := <-incoming
	match, ok := alice.AcceptRequest(req.ID)
	if !ok {
		panic("accept failed")
	}
	fmt.Printf("[alice] 💚 accepted, match id=%s\n", match.ID[:8])
	<-matched

	// A chat long enough to cross several frames at the default unit
	if err := bob.SendChat(strings.Repeat("want to grab coffee? ", 10)); err != nil {
		panic(err)
	}

	time.Sleep(500 * time.Millisecond)

	alice.Stop()
	bob.Stop()

	fmt.Println()
	fmt.Println("=== Done ===")
}
