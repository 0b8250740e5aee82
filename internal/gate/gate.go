package gate

import (
	"context"
	"errors"
	"strings"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/auth"
	"github.com/ayush/station-chat/backend/internal/logging"
	"github.com/ayush/station-chat/backend/internal/messages"
	"github.com/ayush/station-chat/backend/internal/models"
	"github.com/ayush/station-chat/backend/internal/users"
)

var errUnauthorized = apperr.E(apperr.Unauthorized, "not authenticated")

// Gate is the only entry point to the directory and the message log.
// Operations other than Register and Login take a session token and act as
// the user the token resolves to; none accept a username for the actor.
// Any authenticated session may call any operation, RemoveUser included.
type Gate struct {
	sessions auth.SessionStore
	users    *users.Directory
	messages *messages.Store
}

func New(sessions auth.SessionStore, dir *users.Directory, msgs *messages.Store) *Gate {
	return &Gate{sessions: sessions, users: dir, messages: msgs}
}

// Resolve returns the username a token is logged in as. A session whose
// account was removed is destroyed and reported as Unauthorized, also when
// a new account has since taken the same username.
func (g *Gate) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errUnauthorized
	}
	sess, err := g.sessions.Get(ctx, token)
	if errors.Is(err, auth.ErrNoSession) {
		return "", errUnauthorized
	}
	if err != nil {
		logging.Errorf("resolve session: %v", err)
		return "", apperr.Wrap(apperr.Internal, "session lookup failed", err)
	}

	id, ok, err := g.users.Lookup(ctx, sess.Username)
	if err != nil {
		return "", err
	}
	if !ok || id != sess.UserID {
		_ = g.sessions.Delete(ctx, token)
		return "", errUnauthorized
	}
	return sess.Username, nil
}

// Register creates an account and logs it in.
func (g *Gate) Register(ctx context.Context, req models.RegisterRequest) (auth.Session, models.UserView, error) {
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Phone) == "" || req.Password == "" || req.PasswordConfirmation == "" {
		return auth.Session{}, models.UserView{}, apperr.E(apperr.Validation, "username, phone, password and password_confirmation are required")
	}
	if req.Password != req.PasswordConfirmation {
		return auth.Session{}, models.UserView{}, apperr.E(apperr.Validation, "passwords do not match")
	}
	u, err := g.users.Register(ctx, req.Username, req.Phone, req.Password)
	if err != nil {
		return auth.Session{}, models.UserView{}, err
	}
	sess, err := g.openSession(ctx, u.ID, u.Username)
	if err != nil {
		return auth.Session{}, models.UserView{}, err
	}
	return sess, u.View(), nil
}

// Login checks credentials and opens a new session. Existing sessions of the
// same user stay valid.
func (g *Gate) Login(ctx context.Context, req models.LoginRequest) (auth.Session, models.UserView, error) {
	username, err := g.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return auth.Session{}, models.UserView{}, err
	}
	view, err := g.users.Profile(ctx, username)
	if err != nil {
		return auth.Session{}, models.UserView{}, err
	}
	sess, err := g.openSession(ctx, view.ID, username)
	if err != nil {
		return auth.Session{}, models.UserView{}, err
	}
	return sess, view, nil
}

// Logout destroys the session. Unknown tokens are not an error.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := g.sessions.Delete(ctx, token); err != nil {
		logging.Errorf("delete session: %v", err)
		return apperr.Wrap(apperr.Internal, "logout failed", err)
	}
	return nil
}

func (g *Gate) Profile(ctx context.Context, token string) (models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.UserView{}, err
	}
	return g.users.Profile(ctx, me)
}

func (g *Gate) Others(ctx context.Context, token string) ([]models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.users.Others(ctx, me)
}

func (g *Gate) UpdatePhone(ctx context.Context, token, phone string) (models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.UserView{}, err
	}
	return g.users.UpdatePhone(ctx, me, phone)
}

func (g *Gate) AssignStation(ctx context.Context, token, stationID, title string) (models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.UserView{}, err
	}
	return g.users.AssignStation(ctx, me, stationID, title)
}

func (g *Gate) UnassignStation(ctx context.Context, token, stationID string) (models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.UserView{}, err
	}
	return g.users.UnassignStation(ctx, me, stationID)
}

func (g *Gate) SetStationTitle(ctx context.Context, token, stationID, title string) (models.UserView, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.UserView{}, err
	}
	return g.users.SetStationTitle(ctx, me, stationID, title)
}

func (g *Gate) Send(ctx context.Context, token, recipient, text string) (models.Message, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.Message{}, err
	}
	return g.messages.Send(ctx, me, recipient, text)
}

func (g *Gate) History(ctx context.Context, token, other string) ([]models.Message, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.messages.History(ctx, me, other)
}

func (g *Gate) Message(ctx context.Context, token string, id int64) (models.Message, error) {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return models.Message{}, err
	}
	return g.messages.Get(ctx, me, id)
}

// RemoveUser deletes any account by ID. There is no admin role; any
// logged-in user may call it.
func (g *Gate) RemoveUser(ctx context.Context, token string, id int64) error {
	me, err := g.Resolve(ctx, token)
	if err != nil {
		return err
	}
	logging.Warnf("user %q removes user id=%d", me, id)
	return g.users.Remove(ctx, id)
}

func (g *Gate) openSession(ctx context.Context, userID int64, username string) (auth.Session, error) {
	sess, err := g.sessions.Create(ctx, userID, username)
	if err != nil {
		logging.Errorf("create session: %v", err)
		return auth.Session{}, apperr.Wrap(apperr.Internal, "session creation failed", err)
	}
	return sess, nil
}
