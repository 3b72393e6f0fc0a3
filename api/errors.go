package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
	"github.com/jmcleod/panelgate/storage"
)

const maxRequestBody = 1 << 20

var (
	errAuthRequired = errors.New("authentication required")
	errInvalidToken = errors.New("invalid session token")
	errTokenExpired = errors.New("session expired")
	errInvalidCode  = errors.New("invalid one-time code")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env proxy.Envelope) {
	writeJSON(w, status, env)
}

// writeInternalError logs err and sends a generic 500 so internals never
// reach the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.LogAttrs(r.Context(), slog.LevelError, "request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// mapError writes the JSON error for failures outside the proxy envelope.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *proxy.ValidationError
	switch {
	case errors.Is(err, errAuthRequired), errors.Is(err, errInvalidToken),
		errors.Is(err, errTokenExpired), errors.Is(err, errInvalidCode):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Error())
	case errors.Is(err, panel.ErrUnknownPanelType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, proxy.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, "panel config not found")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusUnauthorized, errTokenExpired.Error())
	case errors.Is(err, crypto.ErrDecryption):
		a.logger.LogAttrs(r.Context(), slog.LevelError, "stored secret could not be decrypted",
			slog.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "stored credential could not be decrypted")
	default:
		a.writeInternalError(w, r, err)
	}
}

// decodeJSON reads a size-limited JSON body into v. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &proxy.ValidationError{Field: "body", Message: "request body is required"}
		}
		return &proxy.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}
