package approval

import "sync"

// markerSet tracks in-flight approval requests. A marker blocks a
// second request for the same target while one is pending, and the
// resolve handshake guarantees a request's effect applies exactly once
// even when the feed delivers more than one terminal event.
type markerSet struct {
	mu      sync.Mutex
	pending map[string]string
}

func newMarkerSet() *markerSet {
	return &markerSet{pending: make(map[string]string)}
}

// acquire claims the marker for the request. It fails when another
// request already holds it.
func (m *markerSet) acquire(key, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.pending[key]; held {
		return false
	}
	m.pending[key] = requestID
	return true
}

// resolve releases the marker if the given request still holds it and
// reports whether this caller won the release. Losers must not apply
// the request's effect.
func (m *markerSet) resolve(key, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, held := m.pending[key]; !held || holder != requestID {
		return false
	}
	delete(m.pending, key)
	return true
}

// has reports whether any request holds the marker.
func (m *markerSet) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.pending[key]
	return held
}
