package httpcache

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/rs/zerolog"
)

// StatusFunc reports the state of the cache.
type StatusFunc func(ctx context.Context) (any, error)

// StatusHandler serves the result of status as JSON.
func StatusHandler(status StatusFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
}

type revalidateRequest struct {
	Keys  []string `json:"keys"`
	Async bool     `json:"async"`
}

type revalidateResponse struct {
	Keys        []string `json:"keys"`
	Subscribers int      `json:"subscribers"`
}

// RevalidateHandler publishes revalidation keys on bus. Keys come from
// repeated ?key= parameters and from a JSON body {"keys": [...]}.
func RevalidateHandler(bus *revalidation.Bus, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		var req revalidateRequest
		if r.ContentLength != 0 && r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
				return
			}
		}
		req.Keys = append(r.URL.Query()["key"], req.Keys...)
		if len(req.Keys) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no revalidation keys"})
			return
		}

		subscribers := bus.SubscriberCount()
		if req.Async {
			keys := req.Keys
			ctx := context.WithoutCancel(r.Context())
			go func() {
				if err := bus.RevalidateAsync(ctx, keys...); err != nil {
					logger.Warn().Err(err).Strs("keys", keys).Msg("revalidation failed")
				}
			}()
		} else if err := bus.Revalidate(r.Context(), req.Keys...); err != nil {
			logger.Warn().Err(err).Strs("keys", req.Keys).Msg("revalidation failed")
		}

		writeJSON(w, http.StatusAccepted, revalidateResponse{Keys: req.Keys, Subscribers: subscribers})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
