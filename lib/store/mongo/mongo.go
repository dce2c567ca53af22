// Package mongo implements the audit log repository for MongoDB.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/satp/lib/store"
)

const (
	database   = "satp"
	collection = "logs"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

// New returns a Mongo client connection to the specified MongoDB database uri and makes sure the log key is unique.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to mongo DB in %s", uri)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "error connecting to mongo DB")
	}

	col := c.Database(database).Collection(collection)

	_, err = col.Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = c.Disconnect(context.Background())

		return nil, errors.Wrap(err, "cannot create log key index")
	}

	return &Mongo{c: c, col: col}, nil
}

// Close will close the database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// Create upserts the row by key. The server side write time orders rows of the same session.
func (m *Mongo) Create(ctx context.Context, l store.LocalLog) error {
	if l.Key == "" {
		return store.ErrNoKey
	}

	_, err := m.col.UpdateOne(ctx,
		bson.M{"key": l.Key},
		bson.D{
			{
				Key: "$set", Value: bson.D{
					{Key: "sessionId", Value: l.SessionID},
					{Key: "type", Value: l.Type},
					{Key: "operation", Value: l.Operation},
					{Key: "timestamp", Value: l.Timestamp},
					{Key: "data", Value: l.Data},
					{Key: "sequenceNumber", Value: l.SequenceNumber},
				},
			},
			{Key: "$currentDate", Value: bson.M{"written": true}},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "could not save log %s", l.Key)
	}

	return nil
}

// ReadByID returns the row stored under key.
func (m *Mongo) ReadByID(ctx context.Context, key string) (l store.LocalLog, err error) {
	err = m.col.FindOne(ctx, bson.M{"key": key}).Decode(&l)

	return l, notFound(err)
}

// ReadLastestLog returns the last row written for the session.
func (m *Mongo) ReadLastestLog(ctx context.Context, sessionID string) (l store.LocalLog, err error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "written", Value: -1}, {Key: "_id", Value: -1}})
	err = m.col.FindOne(ctx, bson.M{"sessionId": sessionID}, opts).Decode(&l)

	return l, notFound(err)
}

// ReadLogsBySession returns the rows of the session, oldest first.
func (m *Mongo) ReadLogsBySession(ctx context.Context, sessionID string) ([]store.LocalLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "written", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := m.col.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "error finding session logs")
	}
	defer cur.Close(ctx)

	var logs []store.LocalLog
	if err = cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "error decoding session logs")
	}

	if len(logs) == 0 {
		return nil, store.ErrLogNotFound
	}

	return logs, nil
}

// FetchSessionIDs returns the ids of every logged session.
func (m *Mongo) FetchSessionIDs(ctx context.Context) ([]string, error) {
	res, err := m.col.Distinct(ctx, "sessionId", bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "error listing sessions")
	}

	ids := make([]string, 0, len(res))

	for _, v := range res {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}

	return ids, nil
}

func notFound(err error) error {
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.ErrLogNotFound
	}

	return err
}
