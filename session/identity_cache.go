package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/auralink/logger"
	"github.com/user/auralink/wire"
)

// PeerRecord is one remembered peer, keyed by its identity hash in hex.
type PeerRecord struct {
	IdentityHash string `json:"identity_hash"`
	GenderTag    byte   `json:"gender_tag"`
	FirstSeen    int64  `json:"first_seen"`
	LastSeen     int64  `json:"last_seen"`
}

// identityCacheState is the JSON structure for persistence
type identityCacheState struct {
	Peers []PeerRecord `json:"peers"`
}

// IdentityCache remembers peers seen across restarts so a device that was
// already discovered yesterday does not come back as a brand-new sighting.
// Only identity hashes are stored, never raw identity tokens.
type IdentityCache struct {
	mu        sync.RWMutex
	peers     map[string]*PeerRecord
	statePath string
	prefix    string
}

// NewIdentityCache creates a cache persisted under dataDir
func NewIdentityCache(localHash wire.IdentityHash, dataDir string) *IdentityCache {
	return &IdentityCache{
		peers:     make(map[string]*PeerRecord),
		statePath: filepath.Join(dataDir, "peer_identities.json"),
		prefix:    localHash.Short() + " Peers",
	}
}

// MarkSeen records a sighting of a peer and reports whether it was new
func (c *IdentityCache) MarkSeen(peer wire.IdentityHash, genderTag byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := peer.String()
	now := time.Now().Unix()

	if rec, exists := c.peers[key]; exists {
		rec.LastSeen = now
		rec.GenderTag = genderTag
		return false
	}

	c.peers[key] = &PeerRecord{
		IdentityHash: key,
		GenderTag:    genderTag,
		FirstSeen:    now,
		LastSeen:     now,
	}
	return true
}

// Known reports whether the peer has been seen before
func (c *IdentityCache) Known(peer wire.IdentityHash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.peers[peer.String()]
	return exists
}

// Forget removes a peer, used after a block
func (c *IdentityCache) Forget(peer wire.IdentityHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, peer.String())
}

// Count returns the number of remembered peers
func (c *IdentityCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// SaveToDisk persists the cache atomically (temp file + rename)
func (c *IdentityCache) SaveToDisk() error {
	c.mu.RLock()
	state := identityCacheState{Peers: make([]PeerRecord, 0, len(c.peers))}
	for _, rec := range c.peers {
		state.Peers = append(state.Peers, *rec)
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal peer cache: %w", err)
	}

	dir := filepath.Dir(c.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create peer cache directory: %w", err)
	}

	tempPath := c.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write peer cache temp file: %w", err)
	}
	if err := os.Rename(tempPath, c.statePath); err != nil {
		return fmt.Errorf("failed to rename peer cache file: %w", err)
	}

	logger.Debug(c.prefix, "Peer cache saved: %d peers", len(state.Peers))
	return nil
}

// LoadFromDisk restores the cache; a missing file is not an error
func (c *IdentityCache) LoadFromDisk() error {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug(c.prefix, "No peer cache found, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to read peer cache: %w", err)
	}

	var state identityCacheState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal peer cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make(map[string]*PeerRecord, len(state.Peers))
	for i := range state.Peers {
		rec := state.Peers[i]
		if rec.IdentityHash == "" {
			continue
		}
		c.peers[rec.IdentityHash] = &rec
	}

	logger.Debug(c.prefix, "Peer cache loaded: %d peers", len(c.peers))
	return nil
}
