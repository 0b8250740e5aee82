package models

import "time"

// User is an account as the backends store it.
type User struct {
	ID            int64             `json:"id"             bson:"_id"`
	Username      string            `json:"username"       bson:"username"`
	Phone         string            `json:"phone"          bson:"phone"`
	PasswordHash  string            `json:"-"              bson:"password_hash"` // never serialize
	Stations      []string          `json:"stations"       bson:"stations"`
	StationTitles map[string]string `json:"station_titles" bson:"station_titles"`
	CreatedAt     time.Time         `json:"created_at"     bson:"created_at"`
}

// HasStation reports whether stationID is assigned to the user.
func (u User) HasStation(stationID string) bool {
	for _, s := range u.Stations {
		if s == stationID {
			return true
		}
	}
	return false
}

// View returns the caller-safe projection of the user.
func (u User) View() UserView {
	stations := u.Stations
	if stations == nil {
		stations = []string{}
	}
	titles := u.StationTitles
	if titles == nil {
		titles = map[string]string{}
	}
	return UserView{
		ID:            u.ID,
		Username:      u.Username,
		Phone:         u.Phone,
		Stations:      stations,
		StationTitles: titles,
		CreatedAt:     u.CreatedAt,
	}
}

// UserView is what the API returns for a user. It has no password field at all.
type UserView struct {
	ID            int64             `json:"id"`
	Username      string            `json:"username"`
	Phone         string            `json:"phone"`
	Stations      []string          `json:"stations"`
	StationTitles map[string]string `json:"station_titles"`
	CreatedAt     time.Time         `json:"created_at"`
}

// RegisterRequest is the JSON body for POST /api/auth/register.
type RegisterRequest struct {
	Username             string `json:"username"`
	Phone                string `json:"phone"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateProfileRequest is the JSON body for PUT /api/auth/me.
type UpdateProfileRequest struct {
	Phone string `json:"phone"`
}

// StationRequest is the JSON body for station assignment and renaming.
type StationRequest struct {
	StationID string `json:"station_id"`
	Title     string `json:"title"`
}
