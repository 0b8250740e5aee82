package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/station-chat/backend/internal/apperr"
	"github.com/ayush/station-chat/backend/internal/models"
)

// ---- backend factories ----

func newFileBackend(t *testing.T) Backend {
	t.Helper()
	b, err := NewLocalFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func newRedisBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackend(rdb)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newPostgresBackend(t *testing.T) Backend {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres backend tests")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	b := NewPostgresBackend(pool)
	require.NoError(t, b.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE users, messages RESTART IDENTITY`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newMongoBackend(t *testing.T) Backend {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set TEST_MONGO_URI to run mongo backend tests")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	db := client.Database(fmt.Sprintf("station_chat_test_%d", time.Now().UnixNano()))
	b := NewMongoBackend(db)
	require.NoError(t, b.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return b
}

var backends = map[string]func(t *testing.T) Backend{
	"file":     newFileBackend,
	"redis":    newRedisBackend,
	"postgres": newPostgresBackend,
	"mongo":    newMongoBackend,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func putUser(t *testing.T, b Backend, username, phone string) models.User {
	t.Helper()
	u, err := b.PutUser(context.Background(), models.User{
		Username:     username,
		Phone:        phone,
		PasswordHash: "hash-" + username,
	})
	require.NoError(t, err)
	return u
}

func send(t *testing.T, b Backend, from, to, text string) models.Message {
	t.Helper()
	m, err := b.AppendMessage(context.Background(), models.Message{Sender: from, Recipient: to, Text: text})
	require.NoError(t, err)
	return m
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func usernames(users []models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}

// ---- contract ----

func TestBackend_PutAndGetUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		alice := putUser(t, b, "alice", "+1")
		require.NotZero(t, alice.ID)
		require.False(t, alice.CreatedAt.IsZero())

		got, err := b.GetUser(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)
		require.Equal(t, "+1", got.Phone)
		require.Equal(t, "hash-alice", got.PasswordHash)

		byID, err := b.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, "alice", byID.Username)

		_, err = b.GetUser(ctx, "Alice")
		require.ErrorIs(t, err, ErrNotFound, "usernames are case-sensitive")
	})
}

func TestBackend_PutUserConflictKeepsOriginal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		orig := putUser(t, b, "alice", "+1")

		_, err := b.PutUser(ctx, models.User{Username: "alice", Phone: "+9", PasswordHash: "other"})
		require.ErrorIs(t, err, ErrAlreadyExists)

		got, err := b.GetUser(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, orig.ID, got.ID)
		require.Equal(t, "hash-alice", got.PasswordHash)
		require.Equal(t, "+1", got.Phone)
	})
}

func TestBackend_UserIDsAreUnique(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		a := putUser(t, b, "alice", "+1")
		c := putUser(t, b, "bob", "+2")
		require.NotEqual(t, a.ID, c.ID)
		require.Greater(t, c.ID, a.ID)
	})
}

func TestBackend_IDsNeverReused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		putUser(t, b, "bob", "+2")
		carol := putUser(t, b, "carol", "+3")
		require.NoError(t, b.DeleteUser(ctx, carol.ID))

		dave := putUser(t, b, "dave", "+4")
		require.Greater(t, dave.ID, carol.ID, "the deleted user's ID is not handed out again")

		_, err := b.GetUserByID(ctx, carol.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBackend_UpdateUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		alice := putUser(t, b, "alice", "+1")

		alice.Phone = "+44"
		alice.Stations = []string{"st-1"}
		alice.StationTitles = map[string]string{"st-1": "Garage"}
		alice.ID = 999
		require.NoError(t, b.UpdateUser(ctx, alice))

		got, err := b.GetUser(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, "+44", got.Phone)
		require.Equal(t, []string{"st-1"}, got.Stations)
		require.Equal(t, "Garage", got.StationTitles["st-1"])
		require.NotEqual(t, int64(999), got.ID, "update never changes the id")

		err = b.UpdateUser(ctx, models.User{Username: "ghost"})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBackend_ListUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		list, err := b.ListUsers(ctx)
		require.NoError(t, err)
		require.Empty(t, list)

		putUser(t, b, "alice", "+1")
		putUser(t, b, "bob", "+2")

		list, err = b.ListUsers(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"alice", "bob"}, usernames(list))
	})
}

func TestBackend_DeleteUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		alice := putUser(t, b, "alice", "+1")
		putUser(t, b, "bob", "+2")

		require.NoError(t, b.DeleteUser(ctx, alice.ID))

		_, err := b.GetUser(ctx, "alice")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = b.GetUserByID(ctx, alice.ID)
		require.ErrorIs(t, err, ErrNotFound)

		list, err := b.ListUsers(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"bob"}, usernames(list))

		require.ErrorIs(t, b.DeleteUser(ctx, alice.ID), ErrNotFound)
	})
}

func TestBackend_AppendMessageValidates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		for _, m := range []models.Message{
			{Sender: "", Recipient: "bob", Text: "hi"},
			{Sender: "alice", Recipient: "", Text: "hi"},
			{Sender: "alice", Recipient: "bob", Text: ""},
		} {
			_, err := b.AppendMessage(ctx, m)
			require.ErrorIs(t, err, ErrInvalid)
		}
	})
}

func TestBackend_AppendMessageNeedsNoUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		m := send(t, b, "nobody", "noone", "hello")
		require.NotZero(t, m.ID)
		require.False(t, m.CreatedAt.IsZero())
	})
}

func TestBackend_HistoryIsSymmetricAndOrdered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		send(t, b, "alice", "bob", "m1")
		send(t, b, "bob", "alice", "m2")
		send(t, b, "alice", "carol", "other pair")
		send(t, b, "alice", "bob", "m3")

		ab, err := b.GetHistory(ctx, "alice", "bob")
		require.NoError(t, err)
		ba, err := b.GetHistory(ctx, "bob", "alice")
		require.NoError(t, err)

		require.Equal(t, []string{"m1", "m2", "m3"}, texts(ab))
		require.Equal(t, ab, ba)
		require.Equal(t, "alice", ab[0].Sender)
		require.Equal(t, "bob", ab[0].Recipient)
	})
}

func TestBackend_HistoryOrdersByTimestamp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		_, err := b.AppendMessage(ctx, models.Message{Sender: "a", Recipient: "b", Text: "later", CreatedAt: base.Add(time.Minute)})
		require.NoError(t, err)
		_, err = b.AppendMessage(ctx, models.Message{Sender: "b", Recipient: "a", Text: "earlier", CreatedAt: base})
		require.NoError(t, err)

		h, err := b.GetHistory(ctx, "a", "b")
		require.NoError(t, err)
		require.Equal(t, []string{"earlier", "later"}, texts(h))
	})
}

func TestBackend_HistoryEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		h, err := b.GetHistory(context.Background(), "alice", "bob")
		require.NoError(t, err)
		require.NotNil(t, h)
		require.Empty(t, h)
	})
}

func TestBackend_DeleteUserCascade(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		alice := putUser(t, b, "alice", "+1")
		putUser(t, b, "bob", "+2")
		putUser(t, b, "carol", "+3")

		hi := send(t, b, "alice", "bob", "hi")
		send(t, b, "carol", "alice", "yo")
		send(t, b, "bob", "carol", "unrelated")

		require.NoError(t, b.DeleteUser(ctx, alice.ID))

		h, err := b.GetHistory(ctx, "bob", "alice")
		require.NoError(t, err)
		require.Empty(t, h)
		h, err = b.GetHistory(ctx, "alice", "carol")
		require.NoError(t, err)
		require.Empty(t, h)

		h, err = b.GetHistory(ctx, "bob", "carol")
		require.NoError(t, err)
		require.Equal(t, []string{"unrelated"}, texts(h))

		kept, err := b.GetMessage(ctx, hi.ID)
		require.NoError(t, err)
		require.Equal(t, "hi", kept.Text)
		require.Equal(t, "alice", kept.Sender)
	})
}

func TestBackend_ReregisteredUserStartsFreshHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		alice := putUser(t, b, "alice", "+1")
		send(t, b, "alice", "bob", "before")
		require.NoError(t, b.DeleteUser(ctx, alice.ID))

		putUser(t, b, "alice", "+1")
		send(t, b, "bob", "alice", "after")

		h, err := b.GetHistory(ctx, "alice", "bob")
		require.NoError(t, err)
		require.Equal(t, []string{"after"}, texts(h))
	})
}

func TestBackend_GetMessageNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		_, err := b.GetMessage(context.Background(), 424242)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClassify(t *testing.T) {
	err := Classify("save", fmt.Errorf("users.json: %w", ErrConflict))
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))
	require.ErrorIs(t, err, ErrConflict)

	err = Classify("save", errors.New("disk full"))
	require.Equal(t, apperr.Internal, apperr.KindOf(err))
	require.Equal(t, "save failed", apperr.MessageOf(err))
}

// ---- file backend only ----

func TestFileBackend_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewLocalFileBackend(dir)
	require.NoError(t, err)
	putUser(t, first, "alice", "+1")
	send(t, first, "alice", "bob", "hi")

	second, err := NewLocalFileBackend(dir)
	require.NoError(t, err)
	u, err := second.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "hash-alice", u.PasswordHash)

	h, err := second.GetHistory(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, texts(h))
}

func TestFileBackend_IDHighWaterMarkSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewLocalFileBackend(dir)
	require.NoError(t, err)
	alice := putUser(t, first, "alice", "+1")
	require.NoError(t, first.DeleteUser(ctx, alice.ID))

	second, err := NewLocalFileBackend(dir)
	require.NoError(t, err)
	bob := putUser(t, second, "bob", "+2")
	require.Greater(t, bob.ID, alice.ID)

	raw, err := os.ReadFile(filepath.Join(dir, UsersBlobName))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"last_id": 2`)
}

func TestFileBackend_ConcurrentWritersInOneProcess(t *testing.T) {
	b := newFileBackend(t)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.AppendMessage(context.Background(), models.Message{
				Sender: "alice", Recipient: "bob", Text: fmt.Sprintf("m%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	h, err := b.GetHistory(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, h, 10, "no append may be lost")
}

// racingBlob lets another writer modify the blob between a read and the
// following write, the way a second process would.
type racingBlob struct {
	Blob
	once   sync.Once
	intrude func()
}

func (r *racingBlob) Read(ctx context.Context) ([]byte, error) {
	data, err := r.Blob.Read(ctx)
	r.once.Do(r.intrude)
	return data, err
}

func TestFileBackend_LostUpdateIsReported(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	users, err := NewLocalBlob(dir, UsersBlobName)
	require.NoError(t, err)
	messages, err := NewLocalBlob(dir, MessagesBlobName)
	require.NoError(t, err)
	other := NewFileBackend(users, messages)

	raced := &racingBlob{Blob: users, intrude: func() {
		_, err := other.PutUser(ctx, models.User{Username: "bob", PasswordHash: "x"})
		require.NoError(t, err)
	}}
	b := NewFileBackend(raced, messages)

	_, err = b.PutUser(ctx, models.User{Username: "alice", PasswordHash: "y"})
	require.ErrorIs(t, err, ErrConflict)

	list, err := other.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, usernames(list), "the other writer's user survives")
}

func TestFileBackend_CorruptBlob(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, UsersBlobName), []byte("{not json"), 0o600))

	_, err = b.ListUsers(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

// ---- redis backend only ----

func TestRedisBackend_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	alice, err := b.PutUser(ctx, models.User{Username: "alice", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = b.PutUser(ctx, models.User{Username: "bob", PasswordHash: "h"})
	require.NoError(t, err)
	m, err := b.AppendMessage(ctx, models.Message{Sender: "bob", Recipient: "alice", Text: "hi"})
	require.NoError(t, err)

	require.True(t, mr.Exists("user:alice"))
	require.True(t, mr.Exists(fmt.Sprintf("userid:%d", alice.ID)))
	require.True(t, mr.Exists(fmt.Sprintf("message:%d", m.ID)))

	members, err := mr.Members("users")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, members)

	list, err := mr.List("chat:alice:bob")
	require.NoError(t, err)
	require.Equal(t, []string{fmt.Sprint(m.ID)}, list)

	require.NoError(t, b.DeleteUser(ctx, alice.ID))
	require.False(t, mr.Exists("chat:alice:bob"))
	require.False(t, mr.Exists("peers:alice"))
	require.True(t, mr.Exists(fmt.Sprintf("message:%d", m.ID)), "message records survive the cascade")
	peers, _ := mr.Members("peers:bob")
	require.NotContains(t, peers, "alice")
}

func TestRedisBackend_PairKeyEscapesSeparator(t *testing.T) {
	require.NotEqual(t, pairKey("a:b", "c"), pairKey("a", "b:c"))
	require.Equal(t, pairKey("x", "y"), pairKey("y", "x"))
}
