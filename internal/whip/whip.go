// Package whip implements the signaling side of the WebRTC-HTTP Ingestion
// Protocol: it maps OPTIONS, POST, PATCH and DELETE requests onto session
// operations of an Observer and decorates the responses with CORS headers and
// TURN server advertisements.
//
// The package holds no session state. Whether an offer is accepted, which
// version token a session carries and whether a trickle update is current are
// all decided by the Observer.
package whip

import (
	"context"
	"net/http"

	"github.com/pion/sdp/v3"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/sdpfrag"
)

const (
	ContentTypeSDP       = "application/sdp"
	ContentTypeSDPFrag   = sdpfrag.ContentType
	contentTypeTextPlain = "text/plain"
)

// Tenant is the virtual host and application a request was resolved to.
type Tenant struct {
	VHost string
	App   string
}

// Key identifies the tenant in per-tenant tables such as the CORS policies.
func (t Tenant) Key() string {
	return "#" + t.VHost + "#" + t.App
}

// Target is what a request addresses once its tenant is resolved.
type Target struct {
	Tenant Tenant
	Stream string
}

type targetKey struct{}

// ContextWithTarget returns a copy of ctx carrying t. The Handler attaches
// the target to every request it hands to the Observer.
func ContextWithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

func TargetFromContext(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}

// Orchestrator maps a request host and application path segment to a
// tenant.
type Orchestrator interface {
	ResolveTenant(host, app string) (Tenant, bool)
}

// OfferResult is the Observer's decision on a POSTed offer. SessionID, ETag
// and Answer are only used when Status is 201.
type OfferResult struct {
	Status    int
	SessionID string
	ETag      string
	Answer    *sdp.SessionDescription
	// Error is returned as a text/plain body on failure statuses.
	Error string
}

// TrickleResult is the Observer's decision on a PATCH. Fragment is only sent
// when Status is 200.
type TrickleResult struct {
	Status   int
	ETag     string
	Fragment *sdpfrag.Fragment
	Error    string
}

// Observer owns the sessions. Implementations are called concurrently from
// every listener worker and must enforce the If-Match contract themselves.
type Observer interface {
	OnSdpOffer(r *http.Request, offer *sdp.SessionDescription) OfferResult
	OnSessionDelete(r *http.Request, sessionKey string) bool
	OnTrickleCandidate(r *http.Request, sessionID, ifMatch string, frag *sdpfrag.Fragment) TrickleResult
}
