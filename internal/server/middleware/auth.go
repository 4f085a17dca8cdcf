package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-collab/pkg/identity"
)

// NewAuthMiddleware resolves the connect-time credential into an identity.
//
// The credential is read from the "session-token" cookie, falling back to the
// "token" query parameter for clients that cannot set cookies. A missing or
// invalid credential is NOT a rejection: the request continues without an
// identity and the upgrade handler assigns a guest one. The only
// authorization decision made per room happens at join time, not here.
func NewAuthMiddleware(logger *slog.Logger, resolver *identity.Resolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			var tokenString string
			if cookie, err := r.Cookie("session-token"); err == nil {
				tokenString = cookie.Value
			}
			if tokenString == "" {
				tokenString = r.URL.Query().Get("token")
			}
			reqMeta.Credential = tokenString

			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := resolver.ResolveToken(tokenString)
			if err != nil {
				logger.Warn("Invalid credential presented; continuing as guest",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			}

			reqMeta.Identity = &id
			next.ServeHTTP(w, r)
		})
	}
}
