package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/panelgate/session"
)

type contextKey int

const sessionKey contextKey = iota

const (
	sessionCookieName = "panelgate_session"
	bindCookieName    = "panelgate_bind"
)

// MAC purpose prefixes; a bind cookie never verifies as a session cookie.
const (
	sessionPurpose = "session:"
	bindPurpose    = "bind:"
)

// AuthMiddleware resolves the signed session cookie and stores the session
// on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.sessionFromCookie(r)
		if err != nil {
			if errors.Is(err, errTokenExpired) || errors.Is(err, errInvalidToken) {
				clearCookie(w, r, sessionCookieName, a.secureCookies)
			}
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) sessionFromCookie(r *http.Request) (session.Session, error) {
	id, err := a.readSignedCookie(r, sessionCookieName, sessionPurpose)
	if err != nil {
		return session.Session{}, err
	}
	sess, err := a.sessions.Get(id)
	if err != nil {
		return session.Session{}, errTokenExpired
	}
	return sess, nil
}

func (a *API) readSignedCookie(r *http.Request, name, purpose string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", errAuthRequired
	}
	value, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || value == "" || !a.crypto.VerifyValue(purpose+value, sig) {
		return "", errInvalidToken
	}
	return value, nil
}

func (a *API) writeSignedCookie(w http.ResponseWriter, r *http.Request, name, purpose, value string, expiresAt time.Time) error {
	sig, err := a.crypto.SignValue(purpose + value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value + "." + sig,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(a.now()).Seconds()),
	})
	return nil
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string, forceSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   forceSecure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func sessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(session.Session)
	return sess, ok
}
