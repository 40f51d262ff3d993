package middleware

import (
	"net/http"
	"os"

	"golang.org/x/crypto/bcrypt"
)

var allowed = map[string]struct{}{
	"http://localhost:5173":          {},
	"http://localhost:5174":          {},
	"https://trailtally.github.io":   {},
	"https://app.trailtally.dev":     {},
	"https://app-dev.trailtally.dev": {},
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin back only if it’s on our allow-list
		if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin") // important for caches
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods",
				"GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Authorization, X-Operator-Key")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OperatorMiddleware guards maintenance endpoints. Operators present the
// shared key in X-Operator-Key; the server only ever holds its bcrypt hash
// (OPERATOR_KEY_HASH). Maintenance is unreachable when the hash is unset.
func OperatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := os.Getenv("OPERATOR_KEY_HASH")
		if hash == "" {
			http.Error(w, "Operator access not configured", http.StatusServiceUnavailable)
			return
		}

		key := r.Header.Get("X-Operator-Key")
		if key == "" {
			http.Error(w, "Missing operator key", http.StatusUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			http.Error(w, "Invalid operator key", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
