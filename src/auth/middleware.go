package auth

import (
	"context"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcintoshjames-sketch/MRM3-sub005/src/model"
)

type userLookup interface {
	GetUserByUserName(ctx context.Context, userName string) (*model.User, error)
}

// Middleware resolves the acting user from the X-Actor header and verifies
// the bearer token against the stored bcrypt hash. Role management lives in
// the external user domain; this only authenticates the caller and puts the
// user on the request context for handlers to authorize.
func Middleware(users userLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userName := r.Header.Get("X-Actor")
			token := bearerToken(r)

			if userName == "" || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByUserName(r.Context(), userName)
			if err != nil {
				logger.WithField("actor", userName).WithError(err).Warn("Unknown actor")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(user.APITokenHash), []byte(token)) != nil {
				logger.WithField("actor", userName).Warn("API token mismatch")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(after)
	}
	return ""
}
