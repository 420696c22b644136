package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(WHIPOfferCreated)
	m.Add(WHIPBadRequest, 2)
	m.Inc(`quote"back\slash`)
	m.Add(IngestRTPBytes, 1200)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE ome_whip_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `ome_whip_events_total{event="whip_bad_request"} 2`) {
		t.Fatalf("missing whip_bad_request counter: %s", body)
	}
	if !strings.Contains(body, `ome_whip_events_total{event="whip_offer_created"} 1`) {
		t.Fatalf("missing whip_offer_created counter: %s", body)
	}
	if !strings.Contains(body, `ome_whip_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
	if !strings.Contains(body, "# TYPE ome_whip_ingest_rtp_bytes_total counter\nome_whip_ingest_rtp_bytes_total 1200\n") {
		t.Fatalf("missing rtp bytes counter: %s", body)
	}
	if strings.Contains(body, `event="ingest_rtp_bytes"`) {
		t.Fatalf("rtp bytes exposed as an event: %s", body)
	}
	if strings.Index(body, "whip_bad_request") > strings.Index(body, "whip_offer_created") {
		t.Fatalf("events not sorted: %s", body)
	}
}

func TestPrometheusHandler_EmptyRegistry(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(New()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "ome_whip_ingest_rtp_bytes_total 0\n") {
		t.Fatalf("rtp bytes counter missing from empty registry: %s", rr.Body.String())
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
