package health

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gorilla/mux"
)

// mountDebug exposes net/http/pprof under /debug/pprof/ behind a bearer
// token. Nothing is mounted without a token.
func mountDebug(r *mux.Router, token string) {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return
	}
	sub := r.PathPrefix("/debug/pprof").Subrouter()
	sub.Use(requireToken(tok))
	sub.HandleFunc("/cmdline", hpprof.Cmdline)
	sub.HandleFunc("/profile", hpprof.Profile)
	sub.HandleFunc("/symbol", hpprof.Symbol)
	sub.HandleFunc("/trace", hpprof.Trace)
	sub.PathPrefix("/").HandlerFunc(hpprof.Index)
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
func requireToken(tok string) mux.MiddlewareFunc {
	want := []byte(tok)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				const p = "Bearer "
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
					got = strings.TrimSpace(strings.TrimPrefix(ah, p))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
