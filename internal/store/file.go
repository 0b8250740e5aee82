package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ayush/station-chat/backend/internal/models"
)

const (
	UsersBlobName    = "users.json"
	MessagesBlobName = "messages.json"
)

// FileBackend keeps each collection as one JSON document in a Blob. Every
// mutation reads the whole collection, changes it and writes it all back.
// Writers inside this process take turns on mu; a writer in another process
// that changed the blob in between makes the write fail with ErrConflict.
type FileBackend struct {
	mu       sync.Mutex
	users    Blob
	messages Blob
}

func NewFileBackend(users, messages Blob) *FileBackend {
	return &FileBackend{users: users, messages: messages}
}

// NewLocalFileBackend stores users.json and messages.json under dir.
func NewLocalFileBackend(dir string) (*FileBackend, error) {
	users, err := NewLocalBlob(dir, UsersBlobName)
	if err != nil {
		return nil, err
	}
	messages, err := NewLocalBlob(dir, MessagesBlobName)
	if err != nil {
		return nil, err
	}
	return NewFileBackend(users, messages), nil
}

func (s *FileBackend) Close() error { return nil }

// collection is the on-disk shape of a blob. LastID is the highest ID ever
// handed out, so IDs of deleted records are never reused.
type collection[T any] struct {
	LastID int64 `json:"last_id"`
	Items  []T   `json:"items"`
}

func (c *collection[T]) nextID() int64 {
	c.LastID++
	return c.LastID
}

func loadCollection[T any](ctx context.Context, b Blob) (*collection[T], Digest, error) {
	data, err := b.Read(ctx)
	if err != nil {
		return nil, Digest{}, err
	}
	d := digestOf(data)
	c := &collection[T]{}
	if len(data) == 0 {
		return c, d, nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, d, fmt.Errorf("decode collection: %w", err)
	}
	return c, d, nil
}

func saveCollection[T any](ctx context.Context, b Blob, c *collection[T], read Digest) error {
	if c.Items == nil {
		c.Items = []T{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	return b.Write(ctx, data, read)
}

func (s *FileBackend) GetUser(ctx context.Context, username string) (models.User, error) {
	c, _, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return models.User{}, err
	}
	for _, r := range c.Items {
		if r.Username == username {
			return r.user(), nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *FileBackend) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	c, _, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return models.User{}, err
	}
	for _, r := range c.Items {
		if r.ID == id {
			return r.user(), nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *FileBackend) PutUser(ctx context.Context, u models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, d, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return models.User{}, err
	}
	for _, r := range c.Items {
		if r.Username == u.Username {
			return models.User{}, fmt.Errorf("username %q: %w", u.Username, ErrAlreadyExists)
		}
	}
	u.ID = c.nextID()
	u.CreatedAt = time.Now().UTC()
	c.Items = append(c.Items, toUserRecord(u))
	if err := saveCollection(ctx, s.users, c, d); err != nil {
		return models.User{}, err
	}
	return cloneUser(u), nil
}

func (s *FileBackend) UpdateUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, d, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return err
	}
	for i, r := range c.Items {
		if r.Username != u.Username {
			continue
		}
		next := toUserRecord(u)
		next.ID = r.ID
		next.CreatedAt = r.CreatedAt
		c.Items[i] = next
		return saveCollection(ctx, s.users, c, d)
	}
	return ErrNotFound
}

func (s *FileBackend) ListUsers(ctx context.Context) ([]models.User, error) {
	c, _, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(c.Items))
	for _, r := range c.Items {
		out = append(out, r.user())
	}
	return out, nil
}

// DeleteUser removes the user, then unlinks every message the user took part
// in. The two collections are written separately; a failure between them
// leaves the user gone and its messages still linked.
func (s *FileBackend) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, d, err := loadCollection[userRecord](ctx, s.users)
	if err != nil {
		return err
	}
	idx := -1
	for i, r := range c.Items {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	username := c.Items[idx].Username
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	if err := saveCollection(ctx, s.users, c, d); err != nil {
		return err
	}

	msgs, md, err := loadCollection[messageRecord](ctx, s.messages)
	if err != nil {
		return err
	}
	changed := false
	for i := range msgs.Items {
		if !msgs.Items[i].Unlinked && msgs.Items[i].Involves(username) {
			msgs.Items[i].Unlinked = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return saveCollection(ctx, s.messages, msgs, md)
}

func (s *FileBackend) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if err := validateMessage(m); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, d, err := loadCollection[messageRecord](ctx, s.messages)
	if err != nil {
		return models.Message{}, err
	}
	m = stamp(m)
	m.ID = msgs.nextID()
	msgs.Items = append(msgs.Items, messageRecord{Message: m})
	if err := saveCollection(ctx, s.messages, msgs, d); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

func (s *FileBackend) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	msgs, _, err := loadCollection[messageRecord](ctx, s.messages)
	if err != nil {
		return models.Message{}, err
	}
	for _, r := range msgs.Items {
		if r.ID == id {
			return r.Message, nil
		}
	}
	return models.Message{}, ErrNotFound
}

// GetHistory scans the whole message collection; there is no pair index.
func (s *FileBackend) GetHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	msgs, _, err := loadCollection[messageRecord](ctx, s.messages)
	if err != nil {
		return nil, err
	}
	out := []models.Message{}
	for _, r := range msgs.Items {
		if !r.Unlinked && samePair(r.Message, a, b) {
			out = append(out, r.Message)
		}
	}
	sortHistory(out)
	return out, nil
}
