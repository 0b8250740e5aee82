package store

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/logging"
	"github.com/ayush/station-chat/backend/internal/models"
)

var (
	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness conflict.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrConflict indicates a write that lost a race with another writer.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrInvalid indicates a record that fails the backend's own checks.
	ErrInvalid = errors.New("invalid record")
)

// Classify turns an unexpected backend failure into a caller-facing error.
// Lost updates become Conflict so the caller can retry; anything else is
// logged and reported as Internal.
func Classify(op string, err error) error {
	if errors.Is(err, ErrConflict) {
		return apperr.Wrap(apperr.Conflict, "concurrent modification, retry", err)
	}
	logging.Errorf("%s: %v", op, err)
	return apperr.Wrap(apperr.Internal, op+" failed", err)
}

// Backend is the persistence contract shared by every storage engine.
//
// After DeleteUser(u), GetHistory returns nothing for messages u took part
// in before the deletion, while GetMessage still returns each of them.
type Backend interface {
	GetUser(ctx context.Context, username string) (models.User, error)
	GetUserByID(ctx context.Context, id int64) (models.User, error)
	// PutUser creates a user, assigning ID and CreatedAt. It fails with
	// ErrAlreadyExists when the username is taken.
	PutUser(ctx context.Context, u models.User) (models.User, error)
	// UpdateUser overwrites phone, password hash and stations of an existing
	// user. ID, username and creation time never change.
	UpdateUser(ctx context.Context, u models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id int64) error

	AppendMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id int64) (models.Message, error)
	GetHistory(ctx context.Context, a, b string) ([]models.Message, error)

	Close() error
}

func validateMessage(m models.Message) error {
	if m.Sender == "" || m.Recipient == "" || m.Text == "" {
		return ErrInvalid
	}
	return nil
}

// stamp fills CreatedAt for a new message when the caller left it zero.
func stamp(m models.Message) models.Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}

func sortHistory(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

func samePair(m models.Message, a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// pairKey names a chat pair independent of argument order.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return url.QueryEscape(a) + ":" + url.QueryEscape(b)
}

func cloneUser(u models.User) models.User {
	if u.Stations != nil {
		u.Stations = append([]string(nil), u.Stations...)
	}
	if u.StationTitles != nil {
		titles := make(map[string]string, len(u.StationTitles))
		for k, v := range u.StationTitles {
			titles[k] = v
		}
		u.StationTitles = titles
	}
	return u
}
