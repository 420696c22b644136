package metrics

import "sync"

// Signaling events, one per observable outcome of a WHIP request.
const (
	WHIPOptions        = "whip_options"
	WHIPOfferCreated   = "whip_offer_created"
	WHIPOfferRejected  = "whip_offer_rejected"
	WHIPDeleteOK       = "whip_delete_ok"
	WHIPDeleteNotFound = "whip_delete_not_found"
	WHIPPatchOK        = "whip_patch_ok"
	WHIPPatchRejected  = "whip_patch_rejected"
	WHIPBadRequest     = "whip_bad_request"
	WHIPTenantNotFound = "whip_tenant_not_found"
	WHIPNoObserver     = "whip_no_observer"
)

// Ingest session events.
const (
	SessionOpened        = "session_opened"
	SessionClosed        = "session_closed"
	SessionConnected     = "session_connected"
	SessionConnectExpire = "session_connect_timeout"
	SessionLimitReached  = "session_limit_reached"
	SessionRateLimited   = "session_rate_limited"
	IngestRTPBytes       = "ingest_rtp_bytes"
)

// HTTP listener events.
const (
	HTTPPanic           = "http_panic"
	HTTPWorkerWaitAbort = "http_worker_wait_aborted"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
