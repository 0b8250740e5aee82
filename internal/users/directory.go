package users

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/hashing"
	"github.com/ayush/station-chat/backend/internal/logging"
	"github.com/ayush/station-chat/backend/internal/models"
	"github.com/ayush/station-chat/backend/internal/store"
)

var errInvalidCredentials = apperr.E(apperr.InvalidCredentials, "invalid username or password")

// Directory is the user account service.
type Directory struct {
	backend store.Backend
	hasher  hashing.Hasher
	// dummyHash is verified against when the username is unknown, so both
	// failure paths cost one hash comparison.
	dummyHash string
}

func NewDirectory(backend store.Backend, hasher hashing.Hasher) (*Directory, error) {
	dummy, err := hasher.Hash("no-such-user-placeholder")
	if err != nil {
		return nil, err
	}
	return &Directory{backend: backend, hasher: hasher, dummyHash: dummy}, nil
}

// Register creates an account. An existing username fails with
// UsernameTaken and leaves the existing record untouched.
func (d *Directory) Register(ctx context.Context, username, phone, password string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.User{}, apperr.E(apperr.Validation, "username and password are required")
	}
	if strings.Contains(username, "/") {
		return models.User{}, apperr.E(apperr.Validation, "username must not contain '/'")
	}

	hash, err := d.hasher.Hash(password)
	if err != nil {
		return models.User{}, apperr.Wrap(apperr.Internal, "could not hash password", err)
	}

	u, err := d.backend.PutUser(ctx, models.User{
		Username:     username,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: hash,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return models.User{}, apperr.Wrap(apperr.UsernameTaken, "username already taken", err)
	}
	if err != nil {
		return models.User{}, store.Classify("register", err)
	}
	logging.Infof("registered user %q (id=%d)", u.Username, u.ID)
	return u, nil
}

// Authenticate checks a username/password pair and returns the username.
// Unknown users and wrong passwords produce the same error.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	u, err := d.backend.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_ = d.hasher.Verify(d.dummyHash, password)
		return "", errInvalidCredentials
	}
	if err != nil {
		return "", store.Classify("authenticate", err)
	}
	if err := d.hasher.Verify(u.PasswordHash, password); err != nil {
		if !errors.Is(err, hashing.ErrMismatch) {
			logging.Warnf("verify hash for %q: %v", username, err)
		}
		return "", errInvalidCredentials
	}
	return u.Username, nil
}

// Profile returns the acting user's own record.
func (d *Directory) Profile(ctx context.Context, acting string) (models.UserView, error) {
	u, err := d.get(ctx, acting)
	if err != nil {
		return models.UserView{}, err
	}
	return u.View(), nil
}

// Others lists every user except the acting one, ordered by username.
func (d *Directory) Others(ctx context.Context, acting string) ([]models.UserView, error) {
	all, err := d.backend.ListUsers(ctx)
	if err != nil {
		return nil, store.Classify("list users", err)
	}
	out := make([]models.UserView, 0, len(all))
	for _, u := range all {
		if u.Username != acting {
			out = append(out, u.View())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Lookup returns the ID of the live account named username. ok is false
// when no such account exists.
func (d *Directory) Lookup(ctx context.Context, username string) (id int64, ok bool, err error) {
	u, err := d.backend.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Classify("lookup user", err)
	}
	return u.ID, true, nil
}

// Exists reports whether username belongs to a live account.
func (d *Directory) Exists(ctx context.Context, username string) (bool, error) {
	_, ok, err := d.Lookup(ctx, username)
	return ok, err
}

// Remove deletes the account with the given ID. Its messages are kept but
// no longer reachable through history.
func (d *Directory) Remove(ctx context.Context, id int64) error {
	err := d.backend.DeleteUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.E(apperr.NotFound, "user not found")
	}
	if err != nil {
		return store.Classify("remove user", err)
	}
	logging.Infof("removed user id=%d", id)
	return nil
}

func (d *Directory) UpdatePhone(ctx context.Context, acting, phone string) (models.UserView, error) {
	return d.update(ctx, acting, func(u *models.User) error {
		u.Phone = strings.TrimSpace(phone)
		return nil
	})
}

// AssignStation adds a station to the user. Assigning an already assigned
// station only updates its title when one is given.
func (d *Directory) AssignStation(ctx context.Context, acting, stationID, title string) (models.UserView, error) {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return models.UserView{}, apperr.E(apperr.Validation, "station_id is required")
	}
	return d.update(ctx, acting, func(u *models.User) error {
		if !u.HasStation(stationID) {
			u.Stations = append(u.Stations, stationID)
		}
		if title = strings.TrimSpace(title); title != "" {
			if u.StationTitles == nil {
				u.StationTitles = map[string]string{}
			}
			u.StationTitles[stationID] = title
		}
		return nil
	})
}

// UnassignStation removes a station and its title.
func (d *Directory) UnassignStation(ctx context.Context, acting, stationID string) (models.UserView, error) {
	return d.update(ctx, acting, func(u *models.User) error {
		if !u.HasStation(stationID) {
			return apperr.E(apperr.NotFound, "station not assigned")
		}
		kept := u.Stations[:0]
		for _, s := range u.Stations {
			if s != stationID {
				kept = append(kept, s)
			}
		}
		u.Stations = kept
		delete(u.StationTitles, stationID)
		return nil
	})
}

// SetStationTitle renames an assigned station. An empty title clears it.
func (d *Directory) SetStationTitle(ctx context.Context, acting, stationID, title string) (models.UserView, error) {
	return d.update(ctx, acting, func(u *models.User) error {
		if !u.HasStation(stationID) {
			return apperr.E(apperr.Validation, "station not assigned")
		}
		title = strings.TrimSpace(title)
		if title == "" {
			delete(u.StationTitles, stationID)
			return nil
		}
		if u.StationTitles == nil {
			u.StationTitles = map[string]string{}
		}
		u.StationTitles[stationID] = title
		return nil
	})
}

func (d *Directory) get(ctx context.Context, username string) (models.User, error) {
	u, err := d.backend.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.E(apperr.NotFound, "user not found")
	}
	if err != nil {
		return models.User{}, store.Classify("get user", err)
	}
	return u, nil
}

func (d *Directory) update(ctx context.Context, acting string, mutate func(*models.User) error) (models.UserView, error) {
	u, err := d.get(ctx, acting)
	if err != nil {
		return models.UserView{}, err
	}
	if err := mutate(&u); err != nil {
		return models.UserView{}, err
	}
	err = d.backend.UpdateUser(ctx, u)
	if errors.Is(err, store.ErrNotFound) {
		return models.UserView{}, apperr.E(apperr.NotFound, "user not found")
	}
	if err != nil {
		return models.UserView{}, store.Classify("update user", err)
	}
	return u.View(), nil
}
