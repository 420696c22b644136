package whip

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/pion/sdp/v3"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/cors"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/metrics"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/sdpfrag"
)

const (
	allowMethods = "POST, DELETE, PATCH, OPTIONS"

	DefaultMaxBodyBytes = int64(1 << 20)
)

type HandlerOptions struct {
	Orchestrator Orchestrator
	Cors         *cors.Store
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// RequireIfMatch answers 428 to a PATCH without If-Match instead of
	// passing the empty token to the Observer.
	RequireIfMatch bool
	// StrictContentType answers 415 to a POST or PATCH with an unexpected
	// Content-Type instead of only logging it.
	StrictContentType bool
	// MaxBodyBytes caps SDP bodies. Values <= 0 use DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler serves the four WHIP methods on a catch-all path.
type Handler struct {
	log      *slog.Logger
	observer Observer
	orch     Orchestrator
	cors     *cors.Store
	m        *metrics.Metrics

	requireIfMatch    bool
	strictContentType bool
	maxBodyBytes      int64

	links atomic.Pointer[[]string]
}

// NewHandler returns a Handler delegating session decisions to observer. A
// nil observer is accepted; every session request then fails with 500.
func NewHandler(observer Observer, opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Cors
	if store == nil {
		store = cors.NewStore(logger)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	h := &Handler{
		log:               logger,
		observer:          observer,
		orch:              opts.Orchestrator,
		cors:              store,
		m:                 opts.Metrics,
		requireIfMatch:    opts.RequireIfMatch,
		strictContentType: opts.StrictContentType,
		maxBodyBytes:      maxBody,
	}
	h.links.Store(&[]string{})
	return h
}

// SetAdvertisements replaces the Link header values sent with every created
// session.
func (h *Handler) SetAdvertisements(links []string) {
	cp := append([]string(nil), links...)
	h.links.Store(&cp)
}

func (h *Handler) Advertisements() []string {
	return append([]string(nil), (*h.links.Load())...)
}

// Register binds the WHIP methods on the catch-all pattern of mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", h.ServeOptions)
	mux.HandleFunc("POST /", h.ServeOffer)
	mux.HandleFunc("DELETE /", h.ServeDelete)
	mux.HandleFunc("PATCH /", h.ServePatch)
}

// target is the addressing part of a WHIP URL: /{app}/{stream}[/{session}].
type target struct {
	host       string
	app        string
	stream     string
	sessionKey string
	query      url.Values
}

var errMalformedURL = errors.New("malformed WHIP url")

// parseTarget splits the escaped path so that an encoded '/' stays inside its
// segment. POST, DELETE and PATCH need /{app}/{stream}[/{session}]; a
// preflight only needs the application.
func parseTarget(r *http.Request) (target, error) {
	if r.URL == nil || !strings.HasPrefix(r.URL.EscapedPath(), "/") {
		return target{}, errMalformedURL
	}
	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", errMalformedURL, err)
	}

	raw := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
	parts := make([]string, len(raw))
	for i, seg := range raw {
		if parts[i], err = url.PathUnescape(seg); err != nil {
			return target{}, fmt.Errorf("%w: %v", errMalformedURL, err)
		}
	}

	if r.Method == http.MethodOptions {
		if parts[0] == "" {
			return target{}, errMalformedURL
		}
		parts = append(parts, "", "")
	} else if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return target{}, errMalformedURL
	}

	t := target{
		host:   r.Host,
		app:    parts[0],
		stream: parts[1],
		query:  query,
	}
	if len(parts) >= 3 {
		t.sessionKey = parts[2]
	}
	return t, nil
}

// preamble parses the URL, resolves the tenant and applies its CORS policy.
// It writes the failure response itself and reports whether to continue. The
// returned request carries the resolved Target.
func (h *Handler) preamble(w http.ResponseWriter, r *http.Request) (target, Tenant, *http.Request, bool) {
	t, err := parseTarget(r)
	if err != nil {
		h.log.Warn("whip: could not parse request url", "method", r.Method, "url", r.URL.String(), "err", err)
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return target{}, Tenant{}, r, false
	}

	var (
		tenant Tenant
		ok     bool
	)
	if h.orch != nil {
		tenant, ok = h.orch.ResolveTenant(t.host, t.app)
	}
	if !ok {
		h.log.Warn("whip: could not resolve application", "host", t.host, "app", t.app)
		h.m.Inc(metrics.WHIPTenantNotFound)
		w.WriteHeader(http.StatusNotFound)
		return target{}, Tenant{}, r, false
	}

	h.cors.Apply(tenant.Key(), r, w)
	r = r.WithContext(ContextWithTarget(r.Context(), Target{Tenant: tenant, Stream: t.stream}))
	return t, tenant, r, true
}

func (h *Handler) requireObserver(w http.ResponseWriter, r *http.Request) bool {
	if h.observer != nil {
		return true
	}
	h.log.Error("whip: no observer attached", "method", r.Method)
	h.m.Inc(metrics.WHIPNoObserver)
	w.WriteHeader(http.StatusInternalServerError)
	return false
}

// checkContentType logs an unexpected Content-Type, and rejects it with 415
// in strict mode.
func (h *Handler) checkContentType(w http.ResponseWriter, r *http.Request, want string) bool {
	raw := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(raw)
	if err == nil && strings.EqualFold(mediaType, want) {
		return true
	}
	if !h.strictContentType {
		h.log.Warn("whip: unexpected content type", "method", r.Method, "content_type", raw, "want", want)
		return true
	}
	h.m.Inc(metrics.WHIPBadRequest)
	writeText(w, http.StatusUnsupportedMediaType, "Content-Type must be "+want)
	return false
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.m.Inc(metrics.WHIPBadRequest)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		h.log.Warn("whip: could not read request body", "method", r.Method, "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// ServeOptions answers the CORS preflight. It never consults the Observer.
func (h *Handler) ServeOptions(w http.ResponseWriter, r *http.Request) {
	if _, _, _, ok := h.preamble(w, r); !ok {
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", allowMethods)
	w.Header().Set("Access-Control-Allow-Private-Network", "true")
	h.m.Inc(metrics.WHIPOptions)
	w.WriteHeader(http.StatusOK)
}

// ServeOffer creates a session from the SDP offer in the body.
func (h *Handler) ServeOffer(w http.ResponseWriter, r *http.Request) {
	if !h.requireObserver(w, r) {
		return
	}
	t, tenant, r, ok := h.preamble(w, r)
	if !ok {
		return
	}
	if !h.checkContentType(w, r, ContentTypeSDP) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var offer sdp.SessionDescription
	if len(body) == 0 {
		h.log.Warn("whip: empty offer", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream)
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := offer.Unmarshal(body); err != nil {
		h.log.Warn("whip: could not parse offer", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream, "err", err)
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.log.Debug("whip: offer", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream, "sdp", string(body))

	res := h.observer.OnSdpOffer(r, &offer)
	if !validStatus(res.Status) {
		h.log.Error("whip: observer returned invalid status", "status", res.Status)
		h.m.Inc(metrics.WHIPOfferRejected)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if res.Status != http.StatusCreated {
		h.m.Inc(metrics.WHIPOfferRejected)
		h.log.Info("whip: offer rejected", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream, "status", res.Status, "error", res.Error)
		writeError(w, res.Status, res.Error)
		return
	}

	var answer []byte
	if res.Answer != nil {
		b, err := res.Answer.Marshal()
		if err != nil {
			h.log.Error("whip: could not serialize answer", "session_id", res.SessionID, "err", err)
			h.m.Inc(metrics.WHIPOfferRejected)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		answer = b
	}

	hdr := w.Header()
	hdr.Set("Content-Type", ContentTypeSDP)
	hdr.Set("ETag", res.ETag)
	hdr.Set("Location", "/"+url.PathEscape(t.app)+"/"+url.PathEscape(t.stream)+"/"+url.PathEscape(res.SessionID))
	// Multiple Link headers are allowed.
	for _, link := range *h.links.Load() {
		hdr.Add("Link", link)
	}
	h.m.Inc(metrics.WHIPOfferCreated)
	h.log.Info("whip: session created", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream, "session_id", res.SessionID)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(answer)
}

// ServeDelete terminates the session named by the last path segment.
func (h *Handler) ServeDelete(w http.ResponseWriter, r *http.Request) {
	if !h.requireObserver(w, r) {
		return
	}
	t, tenant, r, ok := h.preamble(w, r)
	if !ok {
		return
	}
	if t.sessionKey == "" {
		h.log.Warn("whip: delete without session key", "url", r.URL.String())
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.observer.OnSessionDelete(r, t.sessionKey) {
		h.m.Inc(metrics.WHIPDeleteOK)
		h.log.Info("whip: session deleted", "vhost", tenant.VHost, "app", tenant.App, "stream", t.stream, "session_key", t.sessionKey)
		w.WriteHeader(http.StatusOK)
		return
	}
	h.m.Inc(metrics.WHIPDeleteNotFound)
	w.WriteHeader(http.StatusNotFound)
}

// ServePatch forwards trickled candidates for the session named by the
// session query parameter.
func (h *Handler) ServePatch(w http.ResponseWriter, r *http.Request) {
	if !h.requireObserver(w, r) {
		return
	}
	t, tenant, r, ok := h.preamble(w, r)
	if !ok {
		return
	}

	sessionID := t.query.Get("session")
	if sessionID == "" {
		h.log.Warn("whip: patch without session id", "url", r.URL.String())
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" && h.requireIfMatch {
		h.m.Inc(metrics.WHIPPatchRejected)
		writeText(w, http.StatusPreconditionRequired, "If-Match is required")
		return
	}

	if !h.checkContentType(w, r, ContentTypeSDPFrag) {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	frag, err := sdpfrag.Parse(body)
	if err != nil {
		h.log.Warn("whip: could not parse sdp fragment", "session_id", sessionID, "err", err)
		h.m.Inc(metrics.WHIPBadRequest)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res := h.observer.OnTrickleCandidate(r, sessionID, ifMatch, frag)
	if !validStatus(res.Status) {
		h.log.Error("whip: observer returned invalid status", "status", res.Status)
		h.m.Inc(metrics.WHIPPatchRejected)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", ContentTypeSDPFrag)
	if res.ETag != "" {
		hdr.Set("ETag", res.ETag)
	}

	if res.Status >= 200 && res.Status < 300 {
		h.m.Inc(metrics.WHIPPatchOK)
	} else {
		h.m.Inc(metrics.WHIPPatchRejected)
		h.log.Info("whip: patch rejected", "vhost", tenant.VHost, "app", tenant.App, "session_id", sessionID, "status", res.Status, "error", res.Error)
	}

	if res.Status == http.StatusOK {
		w.WriteHeader(http.StatusOK)
		if res.Fragment != nil {
			_, _ = io.WriteString(w, res.Fragment.String())
		}
		return
	}
	writeError(w, res.Status, res.Error)
}

func validStatus(status int) bool {
	return status >= 100 && status <= 999
}

// writeError writes status with msg as a text/plain body, or no body when msg
// is empty.
func writeError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		w.WriteHeader(status)
		return
	}
	writeText(w, status, msg)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", contentTypeTextPlain)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
