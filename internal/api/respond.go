package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/auth"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.Unauthorized:       http.StatusUnauthorized,
	apperr.Validation:         http.StatusBadRequest,
	apperr.UsernameTaken:      http.StatusConflict,
	apperr.InvalidCredentials: http.StatusUnauthorized,
	apperr.NotFound:           http.StatusNotFound,
	apperr.Conflict:           http.StatusConflict,
	apperr.Internal:           http.StatusInternalServerError,
}

func statusOf(kind apperr.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error":{"kind","message"}}.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, statusOf(kind), map[string]errorBody{
		"error": {Kind: kind, Message: apperr.MessageOf(err)},
	})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.E(apperr.Validation, "invalid request body")
	}
	return nil
}

func pathID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.E(apperr.Validation, "invalid id")
	}
	return id, nil
}

func setSessionCookie(w http.ResponseWriter, sess auth.Session, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
