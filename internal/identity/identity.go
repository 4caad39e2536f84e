// Package identity resolves a request to a user identity. The real
// membership system lives upstream; this core consumes identity as an
// opaque cookie-backed collaborator so the pipeline stays testable without
// the auth provider.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const (
	// UserCookieName carries the device-scoped user identity.
	UserCookieName = "vsched_uid"

	userCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^u_[a-f0-9]{32}$`)

// UserIDFromContext extracts the user ID from the request context, or ""
// when no identity was established.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying the given user ID. Used by tests
// and by callers that authenticate out of band.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func generateUserID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate user id: %w", err)
	}
	return "u_" + hex.EncodeToString(buf), nil
}

func isValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func getOrCreateUserID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(UserCookieName); err == nil && isValidUserID(c.Value) {
		setUserCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateUserID()
	if err != nil {
		return "", err
	}
	setUserCookie(w, id, isDev)
	return id, nil
}

func setUserCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(userCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(userCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects the user identity into the request context. A request
// without a valid identity cookie gets a fresh one; ownership checks
// downstream then scope every session and command to it.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateUserID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
