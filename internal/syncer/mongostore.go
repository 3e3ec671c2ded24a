package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
)

const workspaceCollection = "workspaces"

// MongoStore keeps one document per workspace. Optimistic concurrency rides
// on the revision field: a put only matches when the stored revision equals
// the expected one, so concurrent writers cannot silently overwrite each
// other. Change streams back the watch channel.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// workspaceDoc is the stored shape. The archive stays an opaque encrypted
// blob; the server never sees ledger contents.
type workspaceDoc struct {
	ID       string `bson:"_id"`
	Revision int64  `bson:"revision"`
	Archive  []byte `bson:"archive"`
}

// NewMongoStore connects to MongoDB and pings it before returning.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetAppName("bestelldesk"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(workspaceCollection),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, workspaceID string) (*cryptobox.Envelope, int64, error) {
	var doc workspaceDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": workspaceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch workspace document: %w", err)
	}
	env, err := cryptobox.ParseEnvelope(doc.Archive)
	if err != nil {
		return nil, 0, fmt.Errorf("stored archive unreadable: %w", err)
	}
	return env, doc.Revision, nil
}

func (s *MongoStore) Put(ctx context.Context, workspaceID string, env *cryptobox.Envelope, expectedRevision int64) (int64, error) {
	blob, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to encode archive: %w", err)
	}

	if expectedRevision == 0 {
		doc := workspaceDoc{ID: workspaceID, Revision: 1, Archive: blob}
		if _, err := s.coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return 0, ErrConflict
			}
			return 0, fmt.Errorf("failed to create workspace document: %w", err)
		}
		return 1, nil
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": workspaceID, "revision": expectedRevision},
		bson.M{"$set": bson.M{"archive": blob, "revision": expectedRevision + 1}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update workspace document: %w", err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrConflict
	}
	return expectedRevision + 1, nil
}

// Watch opens a change stream filtered to the workspace document and emits
// the new revision on every insert or update.
func (s *MongoStore) Watch(ctx context.Context, workspaceID string) (<-chan int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"documentKey._id": workspaceID,
			"operationType":   bson.M{"$in": bson.A{"insert", "update", "replace"}},
		}}},
	}
	stream, err := s.coll.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	events := make(chan int64)
	go func() {
		defer close(events)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change struct {
				FullDocument workspaceDoc `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				continue
			}
			select {
			case events <- change.FullDocument.Revision:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ RemoteStore = (*MongoStore)(nil)
