package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/station-chat/backend/internal/models"
)

// messageDoc is a message as stored in MongoDB, with its unlinked flag.
type messageDoc struct {
	models.Message `bson:",inline"`
	Unlinked       bool `bson:"unlinked"`
}

// MongoBackend stores users and messages in two collections, with a third
// holding the ID counters.
type MongoBackend struct {
	users    *mongo.Collection
	messages *mongo.Collection
	counters *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
		counters: db.Collection("counters"),
	}
}

// Close is a no-op; the owner of the client disconnects it.
func (s *MongoBackend) Close() error { return nil }

// EnsureIndexes creates the unique username index and the pair index.
func (s *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo users index: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo messages index: %w", err)
	}
	return nil
}

func (s *MongoBackend) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongo counter %s: %w", name, err)
	}
	return counter.Seq, nil
}

func (s *MongoBackend) findUser(ctx context.Context, filter bson.M) (models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("mongo find user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *MongoBackend) GetUser(ctx context.Context, username string) (models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoBackend) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoBackend) PutUser(ctx context.Context, u models.User) (models.User, error) {
	id, err := s.nextID(ctx, "users")
	if err != nil {
		return models.User{}, err
	}
	u.ID = id
	u.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	u.Stations, u.StationTitles = stationsOrEmpty(u)

	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, fmt.Errorf("username %q: %w", u.Username, ErrAlreadyExists)
		}
		return models.User{}, fmt.Errorf("mongo insert user: %w", err)
	}
	return cloneUser(u), nil
}

func (s *MongoBackend) UpdateUser(ctx context.Context, u models.User) error {
	stations, titles := stationsOrEmpty(u)
	res, err := s.users.UpdateOne(ctx,
		bson.M{"username": u.Username},
		bson.M{"$set": bson.M{
			"phone":          u.Phone,
			"password_hash":  u.PasswordHash,
			"stations":       stations,
			"station_titles": titles,
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoBackend) ListUsers(ctx context.Context) ([]models.User, error) {
	cur, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo list users: %w", err)
	}
	defer cur.Close(ctx)

	out := []models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo decode users: %w", err)
	}
	for i := range out {
		out[i].CreatedAt = out[i].CreatedAt.UTC()
	}
	return out, nil
}

func (s *MongoBackend) DeleteUser(ctx context.Context, id int64) error {
	var u models.User
	err := s.users.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mongo delete user: %w", err)
	}
	_, err = s.messages.UpdateMany(ctx,
		bson.M{"unlinked": false, "$or": bson.A{
			bson.M{"sender": u.Username},
			bson.M{"recipient": u.Username},
		}},
		bson.M{"$set": bson.M{"unlinked": true}},
	)
	if err != nil {
		return fmt.Errorf("mongo unlink messages: %w", err)
	}
	return nil
}

func (s *MongoBackend) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if err := validateMessage(m); err != nil {
		return models.Message{}, err
	}
	id, err := s.nextID(ctx, "messages")
	if err != nil {
		return models.Message{}, err
	}
	m = stamp(m)
	m.ID = id
	m.CreatedAt = m.CreatedAt.Truncate(time.Millisecond)

	if _, err := s.messages.InsertOne(ctx, messageDoc{Message: m}); err != nil {
		return models.Message{}, fmt.Errorf("mongo insert message: %w", err)
	}
	return m, nil
}

func (s *MongoBackend) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("mongo find message: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc.Message, nil
}

func (s *MongoBackend) GetHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"unlinked": false, "$or": bson.A{
		bson.M{"sender": a, "recipient": b},
		bson.M{"sender": b, "recipient": a},
	}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo history: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode history: %w", err)
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d.Message)
	}
	return out, nil
}
