package identity

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
)

// Handler exposes the login endpoint: basic auth returns the token envelope
// for the session, a valid bearer token is acknowledged, anything else is a
// 401 challenge.
type Handler struct {
	basic  *BasicAuth
	bearer *BearerAuth
	log    *zap.SugaredLogger
}

func NewHandler(basic *BasicAuth, bearer *BearerAuth, log *zap.SugaredLogger) *Handler {
	return &Handler{basic: basic, bearer: bearer, log: log}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	user, result, err := h.basic.AuthResult(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user != nil {
		h.writeJSON(w, http.StatusOK, result.Raw)
		return
	}

	user, err = h.bearer.TryAuthenticate(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if user != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.unauthorized(w)
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
	http.Error(w,
		"Could not verify your access level for that URL.\n"+
			"You have to login with proper credentials",
		http.StatusUnauthorized)
}

// writeError maps an authentication error kind to a response. Definitive
// IdP rejections are relayed with their original status and body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rejected *idp.RejectedError
	switch {
	case errors.As(err, &rejected):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rejected.StatusCode)
		_, _ = w.Write(rejected.Body)
	case errors.Is(err, idp.ErrReauthRequired),
		errors.Is(err, idp.ErrInvalidCredentials),
		errors.Is(err, idp.ErrTokenExpired),
		errors.Is(err, idp.ErrInvalidClaims),
		errors.Is(err, idp.ErrKeyNotFound),
		errors.Is(err, idp.ErrMalformedToken):
		h.unauthorized(w)
	case errors.Is(err, idp.ErrUnavailable):
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "identity provider unavailable"})
	default:
		h.log.Errorw("login failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
