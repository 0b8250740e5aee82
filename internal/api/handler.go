package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ayush/station-chat/backend/internal/auth"
	"github.com/ayush/station-chat/backend/internal/gate"
	"github.com/ayush/station-chat/backend/internal/middleware"
	"github.com/ayush/station-chat/backend/internal/models"
)

// Handler holds the HTTP handlers. Every handler goes through the gate;
// none of them reads an acting username from the request.
type Handler struct {
	gate       *gate.Gate
	sessionTTL time.Duration
}

func NewHandler(g *gate.Gate, sessionTTL time.Duration) *Handler {
	if sessionTTL <= 0 {
		sessionTTL = auth.DefaultSessionTTL
	}
	return &Handler{gate: g, sessionTTL: sessionTTL}
}

// tokenResponse is returned by register and login so non-browser clients can
// use the bearer header instead of the cookie.
type tokenResponse struct {
	Token string          `json:"token"`
	User  models.UserView `json:"user"`
}

// Register creates an account and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, view, err := h.gate.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	setSessionCookie(w, sess, h.sessionTTL)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: sess.Token, User: view})
}

// Login authenticates a user and creates a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, view, err := h.gate.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	setSessionCookie(w, sess, h.sessionTTL)
	writeJSON(w, http.StatusOK, tokenResponse{Token: sess.Token, User: view})
}

// Logout destroys the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Logout(r.Context(), middleware.TokenFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the currently authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	view, err := h.gate.Profile(r.Context(), middleware.Token(r.Context()))
	h.respondUser(w, view, err)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.gate.UpdatePhone(r.Context(), middleware.Token(r.Context()), req.Phone)
	h.respondUser(w, view, err)
}

func (h *Handler) AssignStation(w http.ResponseWriter, r *http.Request) {
	var req models.StationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.gate.AssignStation(r.Context(), middleware.Token(r.Context()), req.StationID, req.Title)
	h.respondUser(w, view, err)
}

func (h *Handler) RenameStation(w http.ResponseWriter, r *http.Request) {
	var req models.StationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.gate.SetStationTitle(r.Context(), middleware.Token(r.Context()), chi.URLParam(r, "stationID"), req.Title)
	h.respondUser(w, view, err)
}

func (h *Handler) UnassignStation(w http.ResponseWriter, r *http.Request) {
	view, err := h.gate.UnassignStation(r.Context(), middleware.Token(r.Context()), chi.URLParam(r, "stationID"))
	h.respondUser(w, view, err)
}

// ListUsers returns every user except the caller.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	others, err := h.gate.Others(r.Context(), middleware.Token(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, others)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.gate.RemoveUser(r.Context(), middleware.Token(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send stores a message from the caller.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.gate.Send(r.Context(), middleware.Token(r.Context()), req.Recipient, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// History returns the conversation between the caller and {username}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.gate.History(r.Context(), middleware.Token(r.Context()), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := h.gate.Message(r.Context(), middleware.Token(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) respondUser(w http.ResponseWriter, view models.UserView, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
