package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lessongate/lessongate/internal/httputil"
)

type contextKey string

const learnerIDKey contextKey = "learnerID"

// Authenticator validates bearer tokens and puts the learner id on the
// request context.
type Authenticator struct {
	jwtSecret string
}

func NewAuthenticator(jwtSecret string) *Authenticator {
	return &Authenticator{jwtSecret: jwtSecret}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := ValidateToken(a.jwtSecret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if claims.TokenType != tokenTypeAccess {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		if _, err := uuid.Parse(claims.LearnerID); err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid learner id")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithLearnerID(r.Context(), claims.LearnerID)))
	})
}

func WithLearnerID(ctx context.Context, learnerID string) context.Context {
	return context.WithValue(ctx, learnerIDKey, learnerID)
}

func LearnerIDFromContext(ctx context.Context) string {
	learnerID, _ := ctx.Value(learnerIDKey).(string)
	return learnerID
}
