package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/whip"
)

// session is one publisher. rev starts at 1 and grows with every accepted
// trickle update; the entity tag is derived from it.
type session struct {
	id     string
	stream string
	target whip.Target
	pc     *webrtc.PeerConnection

	remoteUfrag string
	// mids are the offer's media section ids, by m-line index.
	mids    []string
	created time.Time

	mu     sync.Mutex
	rev    uint64
	closed bool

	connected atomic.Bool
	timer     *time.Timer
	closeOnce sync.Once
}

func (s *session) etag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entityTag(s.id, s.rev)
}

func streamKey(t whip.Target) string {
	return t.Tenant.Key() + "/" + t.Stream
}
