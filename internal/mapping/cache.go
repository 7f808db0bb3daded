package mapping

import "sync"

type localKey struct {
	module     string
	entityType string
	localID    int64
}

type remoteKey struct {
	module     string
	entityType string
	remoteID   int64
}

type cachedEntry struct {
	remoteID int64
	syncHash string
}

// cache is the in-process read cache over entity mappings. Both lookup
// directions are kept in step under one mutex so a save or remove is atomic
// from the caller's perspective.
type cache struct {
	mu       sync.Mutex
	byLocal  map[localKey]cachedEntry
	byRemote map[remoteKey]int64
}

func newCache() *cache {
	return &cache{
		byLocal:  make(map[localKey]cachedEntry),
		byRemote: make(map[remoteKey]int64),
	}
}

func (c *cache) getRemote(key localKey) (cachedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byLocal[key]
	return entry, ok
}

func (c *cache) getLocal(key remoteKey) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	localID, ok := c.byRemote[key]
	return localID, ok
}

func (c *cache) put(module, entityType string, localID, remoteID int64, syncHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(module, entityType, localID, remoteID, syncHash)
}

func (c *cache) putLocked(module, entityType string, localID, remoteID int64, syncHash string) {
	lk := localKey{module: module, entityType: entityType, localID: localID}
	// Drop a stale reverse entry when the remote id changed.
	if prev, ok := c.byLocal[lk]; ok && prev.remoteID != remoteID {
		delete(c.byRemote, remoteKey{module: module, entityType: entityType, remoteID: prev.remoteID})
	}
	c.byLocal[lk] = cachedEntry{remoteID: remoteID, syncHash: syncHash}
	c.byRemote[remoteKey{module: module, entityType: entityType, remoteID: remoteID}] = localID
}

func (c *cache) putMany(module, entityType string, entries map[int64]cachedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for localID, entry := range entries {
		c.putLocked(module, entityType, localID, entry.remoteID, entry.syncHash)
	}
}

func (c *cache) remove(module, entityType string, localID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lk := localKey{module: module, entityType: entityType, localID: localID}
	if entry, ok := c.byLocal[lk]; ok {
		delete(c.byRemote, remoteKey{module: module, entityType: entityType, remoteID: entry.remoteID})
	}
	delete(c.byLocal, lk)
}

func (c *cache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLocal = make(map[localKey]cachedEntry)
	c.byRemote = make(map[remoteKey]int64)
}
