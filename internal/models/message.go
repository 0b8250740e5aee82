package models

import "time"

// Message is a direct message between two usernames. Immutable once stored.
type Message struct {
	ID        int64     `json:"id"         bson:"_id"`
	Sender    string    `json:"sender"     bson:"sender"`
	Recipient string    `json:"recipient"  bson:"recipient"`
	Text      string    `json:"text"       bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Involves reports whether username is the sender or the recipient.
func (m Message) Involves(username string) bool {
	return m.Sender == username || m.Recipient == username
}

// Before orders messages by creation time, then by ID.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// SendRequest is the JSON body for POST /api/messages.
type SendRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}
