package ledrails

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// networkRouter serves one network's board payloads and inspection
// endpoints under /<id-lower>-ltm/.
func networkRouter(n *Network) http.Handler {
	r := chi.NewRouter()

	for _, api := range n.apis {
		api := api
		r.Get(api.URL, func(w http.ResponseWriter, req *http.Request) {
			out := api.Output()
			if out == nil {
				writeUnavailable(w, n)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})
	}

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, n.Status())
	})
	r.Get("/api/vehicles", func(w http.ResponseWriter, req *http.Request) {
		if ok := requireReady(w, n); !ok {
			return
		}
		writeJSON(w, http.StatusOK, n.store.Entities())
	})
	r.Get("/api/vehicles/trains", func(w http.ResponseWriter, req *http.Request) {
		if ok := requireReady(w, n); !ok {
			return
		}
		writeJSON(w, http.StatusOK, n.store.FilterTrains(n.Cfg.TrainFilter))
	})
	r.Get("/api/trackedtrains", func(w http.ResponseWriter, req *http.Request) {
		if ok := requireReady(w, n); !ok {
			return
		}
		writeJSON(w, http.StatusOK, n.tracker.Trains())
	})
	r.Get("/api/stops", func(w http.ResponseWriter, req *http.Request) {
		if n.stops == nil {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, n.stops)
	})
	return r
}

type unavailableResponse struct {
	Error       string `json:"error"`
	LastAttempt int64  `json:"lastAttempt,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func requireReady(w http.ResponseWriter, n *Network) bool {
	if ready, _, _ := n.Ready(); ready {
		return true
	}
	writeUnavailable(w, n)
	return false
}

func writeUnavailable(w http.ResponseWriter, n *Network) {
	_, attempt, reason := n.Ready()
	writeJSON(w, http.StatusServiceUnavailable, unavailableResponse{
		Error:       "no successful update cycle yet",
		LastAttempt: attempt,
		Reason:      reason,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
