package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayush/station-chat/backend/internal/models"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Redis key layout.
const (
	keyUsers         = "users"
	keyUserSeq       = "seq:user"
	keyMessageSeq    = "seq:message"
	keyUserPrefix    = "user:"
	keyUserIDPrefix  = "userid:"
	keyMessagePrefix = "message:"
	keyChatPrefix    = "chat:"
	keyPeersPrefix   = "peers:"
)

func userKey(username string) string { return keyUserPrefix + username }
func userIDKey(id int64) string      { return keyUserIDPrefix + strconv.FormatInt(id, 10) }
func messageKey(id int64) string     { return keyMessagePrefix + strconv.FormatInt(id, 10) }
func chatKey(a, b string) string     { return keyChatPrefix + pairKey(a, b) }
func peersKey(username string) string {
	return keyPeersPrefix + username
}

// RedisBackend stores each user and message under its own key, with a set
// of all usernames and one list of message IDs per chat pair.
//
// Writes that touch several keys are pipelined, not transactional. A crash
// in the middle of DeleteUser can leave some pair lists behind.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (s *RedisBackend) Close() error { return s.rdb.Close() }

func (s *RedisBackend) GetUser(ctx context.Context, username string) (models.User, error) {
	raw, err := s.rdb.Get(ctx, userKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("redis get user: %w", err)
	}
	return decodeUser(raw)
}

func (s *RedisBackend) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	username, err := s.rdb.Get(ctx, userIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("redis get user id: %w", err)
	}
	return s.GetUser(ctx, username)
}

// PutUser claims user:<name> with SETNX, so two racing creations of the
// same username cannot both succeed.
func (s *RedisBackend) PutUser(ctx context.Context, u models.User) (models.User, error) {
	id, err := s.rdb.Incr(ctx, keyUserSeq).Result()
	if err != nil {
		return models.User{}, fmt.Errorf("redis user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = time.Now().UTC()

	raw, err := json.Marshal(toUserRecord(u))
	if err != nil {
		return models.User{}, fmt.Errorf("encode user: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, userKey(u.Username), raw, 0).Result()
	if err != nil {
		return models.User{}, fmt.Errorf("redis create user: %w", err)
	}
	if !ok {
		return models.User{}, fmt.Errorf("username %q: %w", u.Username, ErrAlreadyExists)
	}

	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, userIDKey(id), u.Username, 0)
		p.SAdd(ctx, keyUsers, u.Username)
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("redis index user: %w", err)
	}
	return cloneUser(u), nil
}

func (s *RedisBackend) UpdateUser(ctx context.Context, u models.User) error {
	cur, err := s.GetUser(ctx, u.Username)
	if err != nil {
		return err
	}
	u.ID = cur.ID
	u.CreatedAt = cur.CreatedAt

	raw, err := json.Marshal(toUserRecord(u))
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, userKey(u.Username), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis update user: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisBackend) ListUsers(ctx context.Context) ([]models.User, error) {
	names, err := s.rdb.SMembers(ctx, keyUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list users: %w", err)
	}
	out := make([]models.User, 0, len(names))
	if len(names) == 0 {
		return out, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = userKey(n)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load users: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // set member without a record, e.g. mid-delete
		}
		u, err := decodeUser([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// DeleteUser removes the user keys, then every chat list the user is part
// of, and the user from each peer's peer set. Message keys stay.
func (s *RedisBackend) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	peers, err := s.rdb.SMembers(ctx, peersKey(u.Username)).Result()
	if err != nil {
		return fmt.Errorf("redis load peers: %w", err)
	}

	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, userKey(u.Username), userIDKey(id))
		p.SRem(ctx, keyUsers, u.Username)
		for _, peer := range peers {
			p.Del(ctx, chatKey(u.Username, peer))
			p.SRem(ctx, peersKey(peer), u.Username)
		}
		p.Del(ctx, peersKey(u.Username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete user: %w", err)
	}
	return nil
}

func (s *RedisBackend) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if err := validateMessage(m); err != nil {
		return models.Message{}, err
	}
	id, err := s.rdb.Incr(ctx, keyMessageSeq).Result()
	if err != nil {
		return models.Message{}, fmt.Errorf("redis message id: %w", err)
	}
	m = stamp(m)
	m.ID = id

	raw, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode message: %w", err)
	}
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, messageKey(id), raw, 0)
		p.RPush(ctx, chatKey(m.Sender, m.Recipient), id)
		p.SAdd(ctx, peersKey(m.Sender), m.Recipient)
		p.SAdd(ctx, peersKey(m.Recipient), m.Sender)
		return nil
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("redis append message: %w", err)
	}
	return m, nil
}

func (s *RedisBackend) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	raw, err := s.rdb.Get(ctx, messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("redis get message: %w", err)
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func (s *RedisBackend) GetHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	ids, err := s.rdb.LRange(ctx, chatKey(a, b), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load chat: %w", err)
	}
	out := make([]models.Message, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyMessagePrefix + id
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load messages: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	sortHistory(out)
	return out, nil
}

func decodeUser(raw []byte) (models.User, error) {
	var r userRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.User{}, fmt.Errorf("decode user: %w", err)
	}
	return r.user(), nil
}
