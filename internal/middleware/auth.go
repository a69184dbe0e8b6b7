package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/agentledger/internal/services"
)

type contextKey string

const actorKey contextKey = "actorID"

// Authenticator validates HS256 bearer tokens and stores the caller's
// account id on the request context. Roles are not trusted from the token;
// services read them from the account store.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		actorID, err := a.validateToken(parts[1])
		if err != nil {
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actorID)))
	})
}

func (a *Authenticator) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}

	// user_id is the legacy claim; sub is preferred.
	for _, key := range []string{"sub", "user_id"} {
		if id, ok := claimID(claims[key]); ok {
			return id, nil
		}
	}
	return "", errors.New("token carries no subject")
}

// claimID accepts string ids and whole-number ids; JSON numbers decode as
// float64 and must not be rendered in exponent form.
func claimID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		if id < 0 || id != math.Trunc(id) {
			return "", false
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		if _, err := id.Int64(); err != nil {
			return "", false
		}
		return id.String(), true
	}
	return "", false
}

func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorID returns the authenticated account id, if any.
func ActorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey).(string)
	return id, ok && id != ""
}
