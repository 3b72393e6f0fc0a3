// Package session holds authenticated sessions, their in-memory panel
// credential bindings, and pending TOTP binding attempts.
//
// Sessions live in a single process. There is no cross-process
// replication; a restart logs every client out.
package session

import (
	"errors"
	"time"

	"github.com/jmcleod/panelgate/panel"
)

const (
	// DefaultTTL is the lifetime of a session created by TOTP verification.
	DefaultTTL = 4 * time.Hour
	// DefaultPendingTTL is the lifetime of an unconfirmed TOTP binding.
	DefaultPendingTTL = 10 * time.Minute
)

var (
	// ErrNotFound is returned for missing and expired entries alike.
	ErrNotFound = errors.New("session not found")
)

// Binding is a panel endpoint and its raw API key, held in memory for the
// lifetime of the session.
type Binding struct {
	ConfigID  string
	URL       string
	Key       string
	TLSVerify bool
}

// Session is an authenticated client session.
type Session struct {
	ID            string
	AccountID     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	PanelBindings map[panel.Type]Binding
}

// Valid reports whether s has not expired at now.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Types returns the panel types bound to the session.
func (s Session) Types() []panel.Type {
	types := make([]panel.Type, 0, len(s.PanelBindings))
	for t := range s.PanelBindings {
		types = append(types, t)
	}
	return types
}

func (s Session) clone() Session {
	c := s
	c.PanelBindings = make(map[panel.Type]Binding, len(s.PanelBindings))
	for k, v := range s.PanelBindings {
		c.PanelBindings[k] = v
	}
	return c
}

// PendingBind is a TOTP secret issued by a bind request but not yet
// confirmed with a code.
type PendingBind struct {
	ID        string
	Secret    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store abstracts session and pending-bind storage.
type Store interface {
	// Get returns the session for id. Expired sessions are removed and
	// reported as ErrNotFound.
	Get(id string) (Session, error)
	// Put creates or replaces a session.
	Put(s Session)
	// Delete removes a session. Deleting a missing id is not an error.
	Delete(id string)
	// BindPanel sets the binding for t on session id.
	BindPanel(id string, t panel.Type, b Binding) error
	// UnbindPanel removes every binding on the account's sessions that
	// references configID.
	UnbindPanel(accountID, configID string)

	// PutPending stores a pending bind.
	PutPending(p PendingBind)
	// TakePending atomically returns and deletes the pending bind for id.
	TakePending(id string) (PendingBind, error)

	// SweepExpired removes expired sessions and pending binds and returns
	// how many entries were removed.
	SweepExpired() int
}
