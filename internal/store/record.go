package store

import (
	"time"

	"github.com/ayush/station-chat/backend/internal/models"
)

// userRecord is the JSON shape of a user inside the file and Redis
// backends. Unlike models.User it persists the password hash.
type userRecord struct {
	ID            int64             `json:"id"`
	Username      string            `json:"username"`
	Phone         string            `json:"phone"`
	PasswordHash  string            `json:"password_hash"`
	Stations      []string          `json:"stations,omitempty"`
	StationTitles map[string]string `json:"station_titles,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toUserRecord(u models.User) userRecord {
	u = cloneUser(u)
	return userRecord{
		ID:            u.ID,
		Username:      u.Username,
		Phone:         u.Phone,
		PasswordHash:  u.PasswordHash,
		Stations:      u.Stations,
		StationTitles: u.StationTitles,
		CreatedAt:     u.CreatedAt,
	}
}

func (r userRecord) user() models.User {
	return cloneUser(models.User{
		ID:            r.ID,
		Username:      r.Username,
		Phone:         r.Phone,
		PasswordHash:  r.PasswordHash,
		Stations:      r.Stations,
		StationTitles: r.StationTitles,
		CreatedAt:     r.CreatedAt,
	})
}

// messageRecord is the JSON shape of a message. Unlinked marks a message
// whose chat pair was pruned by a user deletion; the message itself is kept.
type messageRecord struct {
	models.Message
	Unlinked bool `json:"unlinked,omitempty"`
}
