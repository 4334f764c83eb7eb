package queue

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
)

// CacheFallback is the ephemeral, best-effort store the Proxy writes
// to when the QueueStore backend itself is unreachable (spec.md
// §4.3). It holds the message under its id until the TTL expires; the
// Worker never drains it (spec.md §4.3, §9) and the admin surface does
// not report it.
type CacheFallback struct {
	c *gocache.Cache
}

// NewCacheFallback builds a fallback store with the given entry TTL
// (default: 1 hour per spec.md §4.3).
func NewCacheFallback(ttl time.Duration) *CacheFallback {
	return &CacheFallback{c: gocache.New(ttl, ttl/2)}
}

// Put records msg under its own id.
func (f *CacheFallback) Put(msg gatewaymsg.Message) {
	f.c.SetDefault(msg.ID, msg)
}

// Get returns a previously cached message, if it hasn't expired.
func (f *CacheFallback) Get(id string) (gatewaymsg.Message, bool) {
	v, ok := f.c.Get(id)
	if !ok {
		return gatewaymsg.Message{}, false
	}
	msg, ok := v.(gatewaymsg.Message)
	return msg, ok
}

// Len reports how many entries are currently cached.
func (f *CacheFallback) Len() int {
	return f.c.ItemCount()
}

// ForensicsStore is the 24-hour cache keyed "failed_request_<id>"
// written on dead-lettering for operator forensics (spec.md §4.5.2).
// It reuses the same underlying cache mechanics as CacheFallback but
// is a logically separate store since the keys and TTL differ.
type ForensicsStore struct {
	c *gocache.Cache
}

// NewForensicsStore builds a forensics cache with the given TTL
// (default: 24 hours per spec.md §4.5.2).
func NewForensicsStore(ttl time.Duration) *ForensicsStore {
	return &ForensicsStore{c: gocache.New(ttl, ttl/2)}
}

func forensicsKey(id string) string {
	return "failed_request_" + id
}

// Record stores msg's dead-lettered state for forensic lookup.
func (f *ForensicsStore) Record(msg gatewaymsg.Message) {
	f.c.SetDefault(forensicsKey(msg.ID), msg)
}

// Lookup returns the forensics entry for a dead-lettered message id.
func (f *ForensicsStore) Lookup(id string) (gatewaymsg.Message, bool) {
	v, ok := f.c.Get(forensicsKey(id))
	if !ok {
		return gatewaymsg.Message{}, false
	}
	msg, ok := v.(gatewaymsg.Message)
	return msg, ok
}
