package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	promEventsTotal   = "ome_whip_events_total"
	promRTPBytesTotal = "ome_whip_ingest_rtp_bytes_total"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler serves the signaling and session counters as
// ome_whip_events_total{event="..."} and the received media volume as
// ome_whip_ingest_rtp_bytes_total.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		rtpBytes := snap[IngestRTPBytes]
		delete(snap, IngestRTPBytes)

		events := make([]string, 0, len(snap))
		for k := range snap {
			events = append(events, k)
		}
		sort.Strings(events)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeFamily(w, promEventsTotal, "WHIP requests and ingest session transitions.")
		for _, event := range events {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", promEventsTotal, labelEscaper.Replace(event), snap[event])
		}
		writeFamily(w, promRTPBytesTotal, "RTP payload bytes read from published tracks.")
		_, _ = fmt.Fprintf(w, "%s %d\n", promRTPBytesTotal, rtpBytes)
	})
}

func writeFamily(w io.Writer, name, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", name)
}
