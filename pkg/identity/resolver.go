package identity

import (
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns a connect-time credential into an Identity. A missing or
// invalid credential downgrades to an anonymous guest instead of rejecting
// the connection.
type Resolver struct {
	secret []byte
	logger *slog.Logger
}

func NewResolver(jwtSecret string, logger *slog.Logger) *Resolver {
	return &Resolver{
		secret: []byte(jwtSecret),
		logger: logger.With(slog.String("component", "identity_resolver")),
	}
}

// ResolveToken verifies the credential and returns the authenticated
// identity it names.
func (r *Resolver) ResolveToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, errors.New("no credential presented")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token missing 'sub' claim")
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{
		ID:          claims.Subject,
		DisplayName: name,
		AvatarRef:   claims.Avatar,
	}, nil
}

// Resolve is ResolveToken with the guest fallback applied: verification
// failure yields an anonymous identity derived from the connection id.
func (r *Resolver) Resolve(tokenString string, connID uuid.UUID) Identity {
	id, err := r.ResolveToken(tokenString)
	if err != nil {
		r.logger.Debug("Resolving connection as guest", slog.Any("reason", err))
		return GuestIdentity(connID)
	}
	return id
}

// GuestIdentity builds the anonymous identity for an unauthenticated
// connection. Stable for the connection's lifetime, distinct across tabs.
func GuestIdentity(connID uuid.UUID) Identity {
	short := connID.String()[:5]
	return Identity{
		ID:          "guest-" + connID.String(),
		DisplayName: "Guest-" + short,
		IsGuest:     true,
	}
}
