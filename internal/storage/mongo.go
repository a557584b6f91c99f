package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStore struct {
	client  *mongo.Client
	entries *mongo.Collection
	markers *mongo.Collection
	log     logx.Logger
	now     func() time.Time
}

type mongoMarker struct {
	Key   string    `bson:"_id"`
	Until time.Time `bson:"until"`
}

func openMongo(cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.DSN)
	if uri == "" {
		return nil, errors.New("storage.dsn is required for mongo driver")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = "remindbot"
	}
	return newMongoStore(uri, dbName, log)
}

func newMongoStore(uri, dbName string, log logx.Logger) (*mongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	st := &mongoStore{
		client:  client,
		entries: db.Collection("entries"),
		markers: db.Collection("sent_markers"),
		log:     log,
		now:     time.Now,
	}
	_, err = st.entries.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "chat_id", Value: 1}}})
	if err != nil {
		log.Warn("create entries index failed", logx.Err(err))
	}
	return st, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error) {
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	if _, err := s.entries.InsertOne(ctx, e); err != nil {
		return e, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (s *mongoStore) List(ctx context.Context) ([]reminder.Entry, error) {
	cur, err := s.entries.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer cur.Close(ctx)

	var out []reminder.Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return out, nil
}

// ClaimOccurrence upserts the marker only when the stored one has expired.
// A live marker makes the filter miss, the upsert then collides on _id and
// the duplicate-key error means someone else holds the claim.
func (s *mongoStore) ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("empty occurrence key")
	}
	filter := bson.M{"_id": key, "until": bson.M{"$lte": s.now()}}
	update := bson.M{"$set": bson.M{"until": until}}
	_, err := s.markers.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	return true, nil
}

func (s *mongoStore) ReleaseOccurrence(ctx context.Context, key string) error {
	if _, err := s.markers.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}
	return nil
}

func (s *mongoStore) marker(ctx context.Context, key string) (mongoMarker, bool, error) {
	var m mongoMarker
	err := s.markers.FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return m, false, nil
	}
	return m, err == nil, err
}
