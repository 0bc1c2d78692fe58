package checkpoint

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo is a Store backed by go.mongodb.org/mongo-driver/v2, one document
// per checkpoint keyed by {runId, id} with a secondary index on {runId, ts}
// to serve List/Prune efficiently (§4.9) — grounded on the pack's
// features/run/mongo client (Upsert/Load over a single collection),
// generalized here from session/run persistence to checkpoint persistence.
type Mongo struct {
	coll *mongo.Collection
}

// NewMongo builds a Mongo-backed store using the given database/collection
// on client, ensuring the {runId, id} unique index and {runId, ts} index
// exist.
func NewMongo(ctx context.Context, client *mongo.Client, database, collection string) (*Mongo, error) {
	coll := client.Database(database).Collection(collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "runId", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "runId", Value: 1}, {Key: "ts", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: ensuring indexes: %w", err)
	}
	return &Mongo{coll: coll}, nil
}

type mongoDoc struct {
	ID      string `bson:"id"`
	RunID   string `bson:"runId"`
	TS      int64  `bson:"ts"`
	Version int    `bson:"version"`
	State   State  `bson:"state"`
}

// Put validates and upserts cp keyed by {runId, id}.
func (m *Mongo) Put(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	doc := mongoDoc{ID: cp.ID, RunID: cp.RunID, TS: cp.TS, Version: cp.Version, State: cp.State}
	_, err := m.coll.ReplaceOne(ctx,
		bson.D{{Key: "runId", Value: cp.RunID}, {Key: "id", Value: cp.ID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: upserting: %w", err)
	}
	return nil
}

// Get returns the checkpoint matching id, or the most recent for runID if
// id is empty.
func (m *Mongo) Get(ctx context.Context, runID, id string) (Checkpoint, error) {
	filter := bson.D{{Key: "runId", Value: runID}}
	opts := options.FindOne()
	if id != "" {
		filter = append(filter, bson.E{Key: "id", Value: id})
	} else {
		opts.SetSort(bson.D{{Key: "ts", Value: -1}})
	}
	var doc mongoDoc
	err := m.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: finding: %w", err)
	}
	return Checkpoint{ID: doc.ID, RunID: doc.RunID, TS: doc.TS, Version: doc.Version, State: doc.State}, nil
}

// List returns metadata for every checkpoint belonging to runID, newest
// first.
func (m *Mongo) List(ctx context.Context, runID string) ([]Metadata, error) {
	cur, err := m.coll.Find(ctx,
		bson.D{{Key: "runId", Value: runID}},
		options.Find().SetSort(bson.D{{Key: "ts", Value: -1}}).SetProjection(bson.D{{Key: "id", Value: 1}, {Key: "runId", Value: 1}, {Key: "ts", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing: %w", err)
	}
	defer cur.Close(ctx)
	var out []Metadata
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Metadata{ID: doc.ID, RunID: doc.RunID, TS: doc.TS})
	}
	return out, cur.Err()
}

// Prune removes all but the keepLast most recent checkpoints for runID.
func (m *Mongo) Prune(ctx context.Context, runID string, keepLast int) error {
	metas, err := m.List(ctx, runID)
	if err != nil {
		return err
	}
	if len(metas) <= keepLast {
		return nil
	}
	var toDelete []string
	for _, meta := range metas[keepLast:] {
		toDelete = append(toDelete, meta.ID)
	}
	_, err = m.coll.DeleteMany(ctx, bson.D{
		{Key: "runId", Value: runID},
		{Key: "id", Value: bson.D{{Key: "$in", Value: toDelete}}},
	})
	if err != nil {
		return fmt.Errorf("checkpoint: pruning: %w", err)
	}
	return nil
}
