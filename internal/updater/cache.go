package updater

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
)

// InterfaceLifespan and PathsCacheCap are spec.md §4.2.1's
// INTERFACE_LIFESPAN/PATHS_CACHE_CAP constants.
const (
	InterfaceLifespan = 10 * time.Minute
	PathsCacheCap     = 32
)

// interfaceEntry is one loaded interface row plus the expiry it was loaded
// with, kept in monotonic insertion order so the head of interfacesByExpiry
// is always the next to expire (spec.md's own description of the cache).
type interfaceEntry struct {
	name      string
	expiresAt time.Time
}

// interfaceCache is the actor-local "interfaces" map of spec.md §4.2.3 step
// 2: loaded interface rows, evicted INTERFACE_LIFESPAN after the message
// that loaded them (put runs only on a cache miss, so later hits do not
// extend the expiry).
type interfaceCache struct {
	byName  map[string]*queries.InterfaceRow
	byExpiry []interfaceEntry
}

func newInterfaceCache() *interfaceCache {
	return &interfaceCache{byName: make(map[string]*queries.InterfaceRow)}
}

func (c *interfaceCache) get(name string) (*queries.InterfaceRow, bool) {
	row, ok := c.byName[name]
	return row, ok
}

// put inserts or refreshes name's expiry, keeping byExpiry in insertion
// order (a freshly touched interface is appended, never reordered in
// place — the sweep below only ever pops a stale prefix).
func (c *interfaceCache) put(name string, row *queries.InterfaceRow, now time.Time) {
	c.byName[name] = row
	c.byExpiry = append(c.byExpiry, interfaceEntry{name: name, expiresAt: now.Add(InterfaceLifespan)})
}

// expireStale evicts every interface whose expiry has passed, returning the
// evicted names so the caller can forget their compiled triggers too.
func (c *interfaceCache) expireStale(now time.Time) []string {
	var expired []string
	i := 0
	for ; i < len(c.byExpiry); i++ {
		if c.byExpiry[i].expiresAt.After(now) {
			break
		}
		name := c.byExpiry[i].name
		if _, stillLoaded := c.byName[name]; stillLoaded {
			expired = append(expired, name)
			delete(c.byName, name)
		}
	}
	c.byExpiry = c.byExpiry[i:]
	return expired
}

func (c *interfaceCache) forget(name string) {
	delete(c.byName, name)
}

// pathCacheKey identifies one (interface, path) pair whose path-registry
// row is known fresh.
type pathCacheKey struct {
	interfaceName string
	path          string
}

type pathCacheEntry struct {
	expiresAt time.Time
	forever   bool
}

// pathsCache mirrors spec.md's "paths_cache", an LRU of cap PathsCacheCap
// recording which (interface, path) pairs have a known-fresh path-registry
// row, so step 10 of handle_data can skip the re-insert/TTL check. Entries
// for a nil realm_ttl never expire — Open Question (b) in SPEC_FULL.md §5.
type pathsCache struct {
	lru *lru.Cache[pathCacheKey, pathCacheEntry]
}

func newPathsCache() *pathsCache {
	c, _ := lru.New[pathCacheKey, pathCacheEntry](PathsCacheCap)
	return &pathsCache{lru: c}
}

// fresh reports whether (interfaceName, path) is cached and not expired.
func (p *pathsCache) fresh(interfaceName, path string, now time.Time) bool {
	entry, ok := p.lru.Get(pathCacheKey{interfaceName, path})
	if !ok {
		return false
	}
	return entry.forever || entry.expiresAt.After(now)
}

// put records a freshly-validated path. realmTTLSeconds<=0 means "never
// expires" per the Open Question decision.
func (p *pathsCache) put(interfaceName, path string, now time.Time, realmTTLSeconds int) {
	if realmTTLSeconds <= 0 {
		p.lru.Add(pathCacheKey{interfaceName, path}, pathCacheEntry{forever: true})
		return
	}
	p.lru.Add(pathCacheKey{interfaceName, path}, pathCacheEntry{expiresAt: now.Add(time.Duration(realmTTLSeconds) * time.Second)})
}

func (p *pathsCache) reset() {
	p.lru.Purge()
}
