// Package ingest accepts WHIP publishers as pion PeerConnections. It is the
// session owner behind the signaling handler: it negotiates offers, applies
// trickled candidates under the entity tag contract and tears sessions down.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/metrics"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/ratelimit"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/sdpfrag"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/whip"
)

var errClosed = errors.New("ingest: observer closed")

type Options struct {
	// API builds the PeerConnections. Nil uses a default pion API.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	// GatheringTimeout bounds how long an offer waits for local candidates
	// before the answer is sent with what has been gathered.
	GatheringTimeout time.Duration
	// ConnectTimeout closes sessions that have not connected in time. Zero
	// disables the check.
	ConnectTimeout time.Duration
	// MaxSessions <= 0 means unlimited.
	MaxSessions int
	// Offers throttles negotiations; nil allows all.
	Offers *ratelimit.TokenBucket

	RequireIfMatch bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// OptionsFromConfig maps the process configuration onto Options. API and
// Logger are left to the caller.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ICEServers:       ICEServers(cfg.StunServer),
		GatheringTimeout: cfg.ICEGatheringTimeout,
		ConnectTimeout:   cfg.SessionConnectTimeout,
		MaxSessions:      cfg.MaxSessions,
		Offers:           ratelimit.PerSecond(cfg.OffersPerSecond),
		RequireIfMatch:   cfg.RequireIfMatch,
	}
}

// Observer implements whip.Observer.
type Observer struct {
	log  *slog.Logger
	api  *webrtc.API
	opts Options
	m    *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	// streams maps a stream key to its session id; "" marks a stream whose
	// offer is still being negotiated.
	streams map[string]string
	closed  bool
}

var _ whip.Observer = (*Observer)(nil)

func New(opts Options) *Observer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := opts.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	if opts.GatheringTimeout <= 0 {
		opts.GatheringTimeout = config.DefaultICEGatheringTimeout
	}
	return &Observer{
		log:      logger.With("component", "ingest"),
		api:      api,
		opts:     opts,
		m:        opts.Metrics,
		sessions: make(map[string]*session),
		streams:  make(map[string]string),
	}
}

func targetOf(r *http.Request) whip.Target {
	if t, ok := whip.TargetFromContext(r.Context()); ok {
		return t
	}
	return whip.Target{Stream: r.URL.Path}
}

func offerUfrag(offer *sdp.SessionDescription) string {
	if v, ok := offer.Attribute("ice-ufrag"); ok && v != "" {
		return v
	}
	for _, md := range offer.MediaDescriptions {
		if v, ok := md.Attribute("ice-ufrag"); ok && v != "" {
			return v
		}
	}
	return ""
}

// offerMids returns the a=mid of every media section in order; sections
// without one get "".
func offerMids(offer *sdp.SessionDescription) []string {
	mids := make([]string, len(offer.MediaDescriptions))
	for i, md := range offer.MediaDescriptions {
		mids[i], _ = md.Attribute("mid")
	}
	return mids
}

// candidateInits converts every candidate of frag, failing on the first one
// that is malformed or addresses a media section the offer does not have.
func candidateInits(frag *sdpfrag.Fragment, mids []string) ([]webrtc.ICECandidateInit, error) {
	var inits []webrtc.ICECandidateInit
	for i, m := range frag.Media {
		if len(m.Candidates) == 0 {
			continue
		}
		init := webrtc.ICECandidateInit{}
		if m.Mid != "" {
			if !slices.Contains(mids, m.Mid) {
				return nil, fmt.Errorf("unknown media section mid %q", m.Mid)
			}
			mid := m.Mid
			init.SDPMid = &mid
		} else {
			if i >= len(mids) {
				return nil, fmt.Errorf("media section %d does not exist", i)
			}
			idx := uint16(i)
			init.SDPMLineIndex = &idx
		}
		for _, c := range m.Candidates {
			if _, err := ice.UnmarshalCandidate(c); err != nil {
				return nil, fmt.Errorf("invalid candidate %q: %w", c, err)
			}
			init.Candidate = "candidate:" + c
			inits = append(inits, init)
		}
	}
	return inits, nil
}

func rejectOffer(status int, format string, args ...any) whip.OfferResult {
	return whip.OfferResult{Status: status, Error: fmt.Sprintf(format, args...)}
}

// reserve claims the stream for a negotiation in progress.
func (o *Observer) reserve(key string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return http.StatusServiceUnavailable, errClosed
	}
	if _, busy := o.streams[key]; busy {
		return http.StatusConflict, fmt.Errorf("stream %s is already being published", key)
	}
	if o.opts.MaxSessions > 0 && len(o.streams) >= o.opts.MaxSessions {
		o.m.Inc(metrics.SessionLimitReached)
		return http.StatusServiceUnavailable, fmt.Errorf("session limit of %d reached", o.opts.MaxSessions)
	}
	o.streams[key] = ""
	return 0, nil
}

func (o *Observer) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.streams[key]; ok && id == "" {
		delete(o.streams, key)
	}
}

// OnSdpOffer negotiates a receive-only PeerConnection for the offer.
func (o *Observer) OnSdpOffer(r *http.Request, offer *sdp.SessionDescription) whip.OfferResult {
	target := targetOf(r)
	key := streamKey(target)
	logger := o.log.With("vhost", target.Tenant.VHost, "app", target.Tenant.App, "stream", target.Stream)

	if len(offer.MediaDescriptions) == 0 {
		return rejectOffer(http.StatusUnprocessableEntity, "offer has no media sections")
	}
	ufrag := offerUfrag(offer)
	if ufrag == "" {
		return rejectOffer(http.StatusUnprocessableEntity, "offer has no ICE credentials")
	}
	if !o.opts.Offers.Allow(1) {
		o.m.Inc(metrics.SessionRateLimited)
		return rejectOffer(http.StatusTooManyRequests, "too many offers, retry later")
	}

	if status, err := o.reserve(key); err != nil {
		logger.Info("offer refused", "status", status, "err", err)
		return rejectOffer(status, "%v", err)
	}

	s, res := o.negotiate(r, offer, target, ufrag, logger)
	if s == nil {
		o.release(key)
		return res
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = s.pc.Close()
		return rejectOffer(http.StatusServiceUnavailable, "%v", errClosed)
	}
	o.sessions[s.id] = s
	o.streams[key] = s.id
	o.mu.Unlock()

	o.watch(s, logger)
	o.m.Inc(metrics.SessionOpened)
	logger.Info("ingest session opened", "session_id", s.id)
	return res
}

// negotiate returns the new session and the 201 result, or a nil session and
// the failure result.
func (o *Observer) negotiate(r *http.Request, offer *sdp.SessionDescription, target whip.Target, ufrag string, logger *slog.Logger) (*session, whip.OfferResult) {
	raw, err := offer.Marshal()
	if err != nil {
		return nil, rejectOffer(http.StatusBadRequest, "serialize offer: %v", err)
	}

	pc, err := o.api.NewPeerConnection(webrtc.Configuration{ICEServers: o.opts.ICEServers})
	if err != nil {
		logger.Error("create peer connection", "err", err)
		return nil, rejectOffer(http.StatusInternalServerError, "create peer connection")
	}

	s := &session{
		id:          uuid.NewString(),
		stream:      streamKey(target),
		target:      target,
		pc:          pc,
		remoteUfrag: ufrag,
		mids:        offerMids(offer),
		created:     time.Now(),
		rev:         1,
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("ingest track", "session_id", s.id, "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				return
			}
			o.m.Add(metrics.IngestRTPBytes, uint64(n))
		}
	})

	fail := func(status int, format string, args ...any) (*session, whip.OfferResult) {
		_ = pc.Close()
		return nil, rejectOffer(status, format, args...)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(raw)}); err != nil {
		logger.Info("offer not acceptable", "err", err)
		return fail(http.StatusUnprocessableEntity, "offer not acceptable: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		logger.Info("create answer", "err", err)
		return fail(http.StatusUnprocessableEntity, "cannot answer offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		logger.Error("set local description", "err", err)
		return fail(http.StatusInternalServerError, "set local description")
	}

	timer := time.NewTimer(o.opts.GatheringTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		logger.Debug("ice gathering timed out; answering with partial candidates", "timeout", o.opts.GatheringTimeout)
	case <-r.Context().Done():
		return fail(http.StatusServiceUnavailable, "request canceled")
	}

	local := pc.LocalDescription()
	if local == nil {
		return fail(http.StatusInternalServerError, "no local description")
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(local.SDP)); err != nil {
		logger.Error("parse local answer", "err", err)
		return fail(http.StatusInternalServerError, "parse answer")
	}

	return s, whip.OfferResult{
		Status:    http.StatusCreated,
		SessionID: s.id,
		ETag:      s.etag(),
		Answer:    &parsed,
	}
}

// watch ties the session lifetime to its PeerConnection and the connect
// deadline.
func (o *Observer) watch(s *session, logger *slog.Logger) {
	onState := func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if s.connected.CompareAndSwap(false, true) {
				o.m.Inc(metrics.SessionConnected)
				logger.Info("ingest session connected", "session_id", s.id, "after", time.Since(s.created).Round(time.Millisecond))
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			o.closeSession(s, state.String())
		}
	}
	s.pc.OnConnectionStateChange(onState)
	// Catch a transition that happened before the callback was attached.
	onState(s.pc.ConnectionState())

	if o.opts.ConnectTimeout > 0 {
		s.mu.Lock()
		if !s.closed {
			s.timer = time.AfterFunc(o.opts.ConnectTimeout, func() {
				if s.connected.Load() {
					return
				}
				if o.closeSession(s, "connect timeout") {
					o.m.Inc(metrics.SessionConnectExpire)
				}
			})
		}
		s.mu.Unlock()
	}
}

// closeSession reports whether this call closed s.
func (o *Observer) closeSession(s *session, reason string) bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()

		o.mu.Lock()
		if o.sessions[s.id] == s {
			delete(o.sessions, s.id)
		}
		if o.streams[s.stream] == s.id {
			delete(o.streams, s.stream)
		}
		o.mu.Unlock()

		if err := s.pc.Close(); err != nil {
			o.log.Debug("close peer connection", "session_id", s.id, "err", err)
		}
		o.m.Inc(metrics.SessionClosed)
		o.log.Info("ingest session closed", "session_id", s.id, "stream", s.stream, "reason", reason)
	})
	return closed
}

// lookup returns the session id addresses, provided the request targets the
// stream the session publishes.
func (o *Observer) lookup(r *http.Request, id string) *session {
	o.mu.Lock()
	s := o.sessions[id]
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	if t, ok := whip.TargetFromContext(r.Context()); ok && streamKey(t) != s.stream {
		return nil
	}
	return s
}

func (o *Observer) OnSessionDelete(r *http.Request, sessionKey string) bool {
	s := o.lookup(r, sessionKey)
	if s == nil {
		return false
	}
	o.closeSession(s, "deleted")
	return true
}

// OnTrickleCandidate applies the candidates of frag to the session. A
// non-empty ifMatch must select the current entity tag; "*" matches any.
func (o *Observer) OnTrickleCandidate(r *http.Request, sessionID, ifMatch string, frag *sdpfrag.Fragment) whip.TrickleResult {
	s := o.lookup(r, sessionID)
	if s == nil {
		return whip.TrickleResult{Status: http.StatusNotFound, Error: "unknown session"}
	}
	if ifMatch == "" && o.opts.RequireIfMatch {
		return whip.TrickleResult{Status: http.StatusPreconditionRequired, Error: "If-Match is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := entityTag(s.id, s.rev)
	if ifMatch != "" && !ifMatchSatisfied(ifMatch, current) {
		return whip.TrickleResult{Status: http.StatusPreconditionFailed, ETag: current, Error: "entity tag does not match"}
	}
	if ufrag := frag.Ufrag(); ufrag != "" && ufrag != s.remoteUfrag {
		return whip.TrickleResult{Status: http.StatusUnprocessableEntity, ETag: current, Error: "ICE restart is not supported"}
	}

	inits, err := candidateInits(frag, s.mids)
	if err != nil {
		o.log.Info("rejecting trickled candidates", "session_id", s.id, "err", err)
		return whip.TrickleResult{Status: http.StatusBadRequest, ETag: current, Error: err.Error()}
	}
	// Every candidate has been validated; pion only fails here when the
	// connection is closing, so earlier candidates may stay applied.
	for _, init := range inits {
		if err := s.pc.AddICECandidate(init); err != nil {
			o.log.Info("rejecting trickled candidate", "session_id", s.id, "candidate", init.Candidate, "err", err)
			return whip.TrickleResult{Status: http.StatusBadRequest, ETag: current, Error: fmt.Sprintf("candidate not accepted: %v", err)}
		}
	}

	s.rev++
	next := entityTag(s.id, s.rev)
	o.log.Debug("trickle applied", "session_id", s.id, "candidates", len(inits), "etag", next)
	return whip.TrickleResult{Status: http.StatusNoContent, ETag: next}
}

// Len returns the number of established sessions.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Close closes every session and refuses new offers.
func (o *Observer) Close() {
	o.mu.Lock()
	o.closed = true
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, s := range sessions {
		o.closeSession(s, "shutdown")
	}
}
