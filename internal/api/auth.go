package api

import (
	"context"
	"net/http"
	"strings"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
)

type authConfig struct {
	issuer *auth.Issuer
	users  auth.UserStore
}

func (a authConfig) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := parseToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing token")
			return
		}
		actor, err := a.issuer.Verify(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		if status, code, msg := a.checkUser(r.Context(), actor); status != 0 {
			respondError(w, status, code, msg)
			return
		}
		ctx := context.WithValue(r.Context(), actorCtxKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkUser requires client and driver tokens to name a known user with the
// same role. Admin tokens are operator credentials signed with the server
// secret and need no user row.
func (a authConfig) checkUser(ctx context.Context, actor dispatch.Actor) (int, string, string) {
	if actor.Role == dispatch.RoleAdmin || a.users == nil {
		return 0, "", ""
	}
	user, ok, err := a.users.GetUser(ctx, actor.ID)
	if err != nil {
		return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error"
	}
	if !ok || user.Role != actor.Role {
		return http.StatusUnauthorized, "USER_NOT_FOUND", "user not found"
	}
	return 0, "", ""
}

// requireRole rejects callers whose token carries none of the allowed roles.
func requireRole(allowed ...dispatch.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
				return
			}
			for _, role := range allowed {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, "ACCESS_DENIED", "forbidden")
		})
	}
}

type actorCtxKey struct{}

func actorFromContext(ctx context.Context) (dispatch.Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(dispatch.Actor)
	return a, ok
}

func parseToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}
