package messages

import (
	"context"
	"errors"
	"strings"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/logging"
	"github.com/ayush/station-chat/backend/internal/models"
	"github.com/ayush/station-chat/backend/internal/store"
)

// Store is the append-only direct message log.
type Store struct {
	backend store.Backend
}

func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend}
}

// Send appends a message from acting to recipient. The recipient is not
// checked against the user directory.
func (s *Store) Send(ctx context.Context, acting, recipient, text string) (models.Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return models.Message{}, apperr.E(apperr.Validation, "recipient is required")
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, apperr.E(apperr.Validation, "text is required")
	}

	m, err := s.backend.AppendMessage(ctx, models.Message{
		Sender:    acting,
		Recipient: recipient,
		Text:      text,
	})
	if errors.Is(err, store.ErrInvalid) {
		return models.Message{}, apperr.Wrap(apperr.Validation, "invalid message", err)
	}
	if err != nil {
		return models.Message{}, store.Classify("send", err)
	}
	logging.Debugf("message %d %s -> %s", m.ID, m.Sender, m.Recipient)
	return m, nil
}

// History returns the conversation between acting and other, oldest first.
// It is the same whichever side asks.
func (s *Store) History(ctx context.Context, acting, other string) ([]models.Message, error) {
	other = strings.TrimSpace(other)
	if other == "" {
		return nil, apperr.E(apperr.Validation, "username is required")
	}
	msgs, err := s.backend.GetHistory(ctx, acting, other)
	if err != nil {
		return nil, store.Classify("history", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// Get returns one message by ID. Messages acting is not a party to are
// reported as not found.
func (s *Store) Get(ctx context.Context, acting string, id int64) (models.Message, error) {
	m, err := s.backend.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Message{}, apperr.E(apperr.NotFound, "message not found")
	}
	if err != nil {
		return models.Message{}, store.Classify("get message", err)
	}
	if !m.Involves(acting) {
		return models.Message{}, apperr.E(apperr.NotFound, "message not found")
	}
	return m, nil
}
