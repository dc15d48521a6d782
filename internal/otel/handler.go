package otel

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves the most recent buffered events as a JSON array.
// Query parameters: n limits the count (default 100), partition and kind
// keep only matching events.
func Handler(buf *RingBuffer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		n := 100
		if s := q.Get("n"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = v
		}

		partition, kind := q.Get("partition"), EventKind(q.Get("kind"))
		var match func(Event) bool
		if partition != "" || kind != "" {
			match = func(e Event) bool {
				return (partition == "" || e.Partition == partition) && (kind == "" || e.Kind == kind)
			}
		}

		events := buf.Recent(n, match)
		if events == nil {
			events = []Event{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	})
}
