package trace

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// IngestHandler returns an HTTP handler that receives attempt batches from
// a RemoteStore on an extractor node and records them into the local sink.
//
// Expected request: POST with application/json body containing []Attempt.
// Returns 204 on success, 405 for wrong method, 400 for bad payload.
//
// Mount on the collector:
//
//	mux.Handle("/v1/traces", trace.IngestHandler(store))
func IngestHandler(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		var attempts []Attempt
		if err := json.Unmarshal(body, &attempts); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		for _, a := range attempts {
			rec.Record(a)
		}

		slog.Debug("trace ingest", "attempts", len(attempts))
		w.WriteHeader(http.StatusNoContent)
	}
}
