package session

import (
	"testing"

	"github.com/user/auralink/wire"
)

func TestIdentityCacheMarkSeen(t *testing.T) {
	cache := NewIdentityCache(wire.HashIdentity("me"), t.TempDir())
	peer := wire.HashIdentity("stranger")

	if !cache.MarkSeen(peer, wire.GenderMale) {
		t.Fatal("First sighting should report new")
	}
	if cache.MarkSeen(peer, wire.GenderMale) {
		t.Fatal("Second sighting should not report new")
	}
	if !cache.Known(peer) {
		t.Error("Peer should be known after MarkSeen")
	}
	if cache.Count() != 1 {
		t.Errorf("Expected 1 peer, got %d", cache.Count())
	}

	cache.Forget(peer)
	if cache.Known(peer) {
		t.Error("Forgotten peer should not be known")
	}
}

func TestIdentityCachePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	me := wire.HashIdentity("me")

	cache := NewIdentityCache(me, dir)
	cache.MarkSeen(wire.HashIdentity("peer-one"), wire.GenderFemale)
	cache.MarkSeen(wire.HashIdentity("peer-two"), wire.GenderMale)
	if err := cache.SaveToDisk(); err != nil {
		t.Fatalf("SaveToDisk failed: %v", err)
	}

	restored := NewIdentityCache(me, dir)
	if err := restored.LoadFromDisk(); err != nil {
		t.Fatalf("LoadFromDisk failed: %v", err)
	}
	if restored.Count() != 2 {
		t.Fatalf("Expected 2 peers after reload, got %d", restored.Count())
	}
	if !restored.Known(wire.HashIdentity("peer-one")) || !restored.Known(wire.HashIdentity("peer-two")) {
		t.Error("Reloaded cache lost peers")
	}
}

func TestIdentityCacheLoadWithoutFile(t *testing.T) {
	cache := NewIdentityCache(wire.HashIdentity("me"), t.TempDir())
	if err := cache.LoadFromDisk(); err != nil {
		t.Fatalf("Missing cache file should not be an error: %v", err)
	}
	if cache.Count() != 0 {
		t.Errorf("Expected empty cache, got %d peers", cache.Count())
	}
}
