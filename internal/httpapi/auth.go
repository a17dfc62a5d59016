package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"qme/internal/models"
	"qme/internal/store"
)

type authContextKey struct{}

type access int

const (
	accessPublic access = iota
	accessGuest
	accessStaff
)

// AuthMiddleware requires a guest session on guest routes and the staff token
// on staff routes. An empty staff token leaves staff routes open.
func AuthMiddleware(sessions store.SessionStore, staffToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch routeAccess(r) {
		case accessStaff:
			if staffToken != "" && !validStaffToken(r, staffToken) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "staff token required")
				return
			}
			next.ServeHTTP(w, r)
		case accessGuest:
			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
				return
			}
			session, err := sessions.GetSession(r.Context(), sessionID)
			if err != nil {
				if errors.Is(err, store.ErrSessionNotFound) {
					writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
					return
				}
				writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
				return
			}
			ctx := context.WithValue(r.Context(), authContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func sessionFromContext(ctx context.Context) (models.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(models.Session)
	return session, ok
}

func validStaffToken(r *http.Request, staffToken string) bool {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Staff-Token"))
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(staffToken)) == 1
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func routeAccess(r *http.Request) access {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		if len(parts) == 3 && parts[1] == "checkin" {
			return accessStaff
		}
		return accessPublic
	}
	if r.Method != http.MethodPost {
		return accessPublic
	}
	switch {
	case path == "api/queues":
		return accessStaff
	case len(parts) == 5 && parts[1] == "queues" && parts[3] == "actions":
		return accessStaff
	case len(parts) == 4 && parts[1] == "queues" && parts[3] == "enqueue":
		return accessGuest
	case len(parts) == 3 && parts[1] == "checkin":
		return accessGuest
	default:
		return accessPublic
	}
}
