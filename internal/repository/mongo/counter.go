// Package mongo implements the counter store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// CounterCollection is the default collection name.
const CounterCollection = "analytics_counters"

// Collection is the subset of *mongo.Collection used by the store.
type Collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// CounterDoc is the stored shape of a bucket.
type CounterDoc struct {
	Family      string    `bson:"family"`
	Event       string    `bson:"event"`
	Granularity string    `bson:"granularity"`
	Bucket      time.Time `bson:"bucket"`
	Hash        string    `bson:"hash"`
	CampaignID  string    `bson:"cid"`
	BotValue    string    `bson:"bot"`
	N           int64     `bson:"n"`
	Last        time.Time `bson:"last"`
}

// CounterStore implements analytics.CounterStore with an upserting $inc.
type CounterStore struct {
	coll Collection
}

// NewCounterStore creates a MongoDB-backed counter store.
func NewCounterStore(coll Collection) *CounterStore {
	return &CounterStore{coll: coll}
}

// CounterFilter selects the document of one bucket. Fields appear in the
// order of the unique index.
func CounterFilter(k domain.BucketKey) bson.D {
	return bson.D{
		{Key: "family", Value: string(k.Family)},
		{Key: "event", Value: string(k.Event)},
		{Key: "granularity", Value: string(k.Granularity)},
		{Key: "bucket", Value: k.Bucket.UTC()},
		{Key: "hash", Value: k.Hash},
		{Key: "cid", Value: k.CampaignID},
		{Key: "bot", Value: k.BotValue},
	}
}

// CounterUpdate increments n and raises last.
func CounterUpdate(by int64, at time.Time) bson.D {
	return bson.D{
		{Key: "$inc", Value: bson.D{{Key: "n", Value: by}}},
		{Key: "$max", Value: bson.D{{Key: "last", Value: at.UTC()}}},
	}
}

func (s *CounterStore) IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx, CounterFilter(key), CounterUpdate(by, at), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("increment counter in MongoDB: %w", err)
	}
	return nil
}

// GetCounter reads one bucket. A missing bucket reads as zero.
func (s *CounterStore) GetCounter(ctx context.Context, key domain.BucketKey) (domain.Counter, error) {
	c := domain.Counter{Key: key}
	var doc CounterDoc
	err := s.coll.FindOne(ctx, CounterFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("get counter from MongoDB: %w", err)
	}
	c.N = doc.N
	c.Last = doc.Last.UTC()
	return c, nil
}

// EnsureIndexes creates the unique bucket index that upserts rely on to
// avoid duplicate documents under concurrent first writes.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "family", Value: 1}, {Key: "event", Value: 1}, {Key: "granularity", Value: 1},
			{Key: "bucket", Value: 1}, {Key: "hash", Value: 1}, {Key: "cid", Value: 1}, {Key: "bot", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("bucket_key"),
	})
	if err != nil {
		return fmt.Errorf("create counter index: %w", err)
	}
	return nil
}

// Connect opens a client and returns the counter collection of database.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client, client.Database(database).Collection(CounterCollection), nil
}
