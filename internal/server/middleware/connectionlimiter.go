package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-collab/pkg/config"
)

type IdentityConnectionCounter func(identityID string) int
type IdentityConnectionCycler func(identityID string)

// NewConnectionLimiter caps how many live connections a single identity may
// hold. Guests are never limited: each guest tab is its own identity, so the
// cap would be meaningless for them.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IdentityConnectionCounter,
	cycler IdentityConnectionCycler,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if reqMeta.Identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			count := counter(reqMeta.Identity.ID)
			if count < config.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Identity connection limit reached",
				slog.String("identity", reqMeta.Identity.ID),
				slog.Int("count", count),
			)
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(reqMeta.Identity.ID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
