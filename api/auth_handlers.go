package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/panelgate/session"
	"github.com/jmcleod/panelgate/storage"
	"github.com/jmcleod/panelgate/totp"
)

const (
	bindIDBytes    = 16
	sessionIDBytes = 32
)

// Bind handles GET /auth/bind. It issues a fresh TOTP secret held as a
// pending bind until a code for it is verified.
func (a *API) Bind(w http.ResponseWriter, r *http.Request) {
	secret, err := totp.GenerateSecret()
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	bindID, err := a.crypto.SecureToken(bindIDBytes)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	now := a.now()
	pending := session.PendingBind{
		ID:        bindID,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(a.bindTTL),
	}
	a.sessions.PutPending(pending)
	if err := a.writeSignedCookie(w, r, bindCookieName, bindPurpose, bindID, pending.ExpiresAt); err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	a.audit.log(AuditBindIssued, r)
	writeJSON(w, http.StatusOK, BindResponse{
		ProvisioningURI: totp.ProvisioningURI(secret, a.issuer, a.issuer+"-"+bindID[:8]),
		Secret:          secret,
		ExpiresAt:       pending.ExpiresAt,
	})
}

// Verify handles POST /auth/verify.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	ip := a.extractClientIP(r)
	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.audit.logFailure(AuditVerifyRateLimited, r, "ip locked out")
		writeRateLimited(w, retryAfter)
		return
	}

	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.mapError(w, r, err)
		return
	}

	accountID, usedBind, err := a.verifyCode(r, req)
	if err != nil {
		if usedBind {
			// The pending bind is gone either way; a stale cookie would
			// shadow later attempts.
			clearCookie(w, r, bindCookieName, a.secureCookies)
		}
		if errors.Is(err, errInvalidCode) {
			a.limiter.recordFailure(ip)
			a.audit.logFailure(AuditVerifyFailure, r, err.Error(),
				slog.Bool("pending_bind", usedBind))
			writeError(w, http.StatusUnauthorized, errInvalidCode.Error())
			return
		}
		a.mapError(w, r, err)
		return
	}
	a.limiter.recordSuccess(ip)

	sessionID, err := a.crypto.SecureToken(sessionIDBytes)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	now := a.now()
	sess := session.Session{
		ID:        sessionID,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	a.sessions.Put(sess)
	if err := a.writeSignedCookie(w, r, sessionCookieName, sessionPurpose, sessionID, sess.ExpiresAt); err != nil {
		a.sessions.Delete(sessionID)
		a.writeInternalError(w, r, err)
		return
	}
	if usedBind {
		clearCookie(w, r, bindCookieName, a.secureCookies)
	}

	a.audit.logEvent(AuditVerifySuccess, r, accountID)
	writeJSON(w, http.StatusOK, VerifyResponse{AccountID: accountID, ExpiresAt: sess.ExpiresAt})
}

// verifyCode checks req.Token against the stored secret of req.AccountID
// when one is named, otherwise against the pending bind named by the bind
// cookie. Every rejection is reported as errInvalidCode.
func (a *API) verifyCode(r *http.Request, req VerifyRequest) (accountID string, usedBind bool, err error) {
	now := a.now()
	if req.AccountID != "" {
		return a.verifyStored(req.AccountID, req.Token, now)
	}

	bindID, cookieErr := a.readSignedCookie(r, bindCookieName, bindPurpose)
	if cookieErr == nil {
		// A pending bind is consumed by any attempt, right or wrong.
		pending, err := a.sessions.TakePending(bindID)
		if err != nil {
			return "", true, errInvalidCode
		}
		if !totp.Verify(pending.Secret, req.Token, now) {
			return "", true, errInvalidCode
		}
		acct, err := a.createAccount(r, pending.Secret)
		if err != nil {
			return "", true, err
		}
		return acct.ID, true, nil
	}
	if errors.Is(cookieErr, errInvalidToken) {
		return "", true, errInvalidCode
	}
	return "", false, errInvalidCode
}

// verifyStored checks code against an already bound account's secret.
func (a *API) verifyStored(accountID, code string, now time.Time) (string, bool, error) {
	acct, err := a.repo.GetAccount(accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, errInvalidCode
		}
		return "", false, err
	}
	secret, err := a.crypto.Decrypt(acct.TOTPSecret)
	if err != nil {
		return "", false, err
	}
	if !totp.Verify(secret, code, now) {
		return "", false, errInvalidCode
	}
	return acct.ID, false, nil
}

func (a *API) createAccount(r *http.Request, secret string) (*storage.Account, error) {
	enc, err := a.crypto.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypting totp secret: %w", err)
	}
	acct := &storage.Account{
		ID:         uuid.NewString(),
		TOTPSecret: enc,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.repo.PutAccount(acct); err != nil {
		return nil, fmt.Errorf("storing account: %w", err)
	}
	a.audit.logEvent(AuditAccountCreated, r, acct.ID)
	return acct, nil
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var accountID string
	if sess, err := a.sessionFromCookie(r); err == nil {
		accountID = sess.AccountID
		a.sessions.Delete(sess.ID)
	}
	clearCookie(w, r, sessionCookieName, a.secureCookies)
	clearCookie(w, r, bindCookieName, a.secureCookies)
	a.audit.logEvent(AuditLogout, r, accountID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// Status handles GET /auth/status.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errAuthRequired.Error())
		return
	}
	bound := make([]string, 0, len(sess.PanelBindings))
	for _, t := range sess.Types() {
		bound = append(bound, string(t))
	}
	sort.Strings(bound)
	writeJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		AccountID:     sess.AccountID,
		ExpiresAt:     sess.ExpiresAt,
		BoundPanels:   bound,
	})
}
