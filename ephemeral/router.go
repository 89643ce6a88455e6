package ephemeral

import (
	"context"
	"net/http"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SecretSource is satisfied by *Minter.
type SecretSource interface {
	Mint(ctx context.Context) (*Secret, error)
}

// Router serves POST /session and answers CORS preflight on any path.
func Router(logger shared.LoggerAdapter, source SecretSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Options("/session", preflight)
	r.Options("/*", preflight)
	r.Post("/session", func(w http.ResponseWriter, req *http.Request) {
		secret, err := source.Mint(req.Context())
		if err != nil {
			logger.Error("minting ephemeral secret", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed_to_create_ephemeral"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"apiKey": secret.Value})
	})
	return r
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
